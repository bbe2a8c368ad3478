package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/stockgrid/internal/platform/cache"
	"github.com/odyssey-erp/stockgrid/internal/platform/db"
	"github.com/odyssey-erp/stockgrid/internal/storage/filestore"
	"github.com/odyssey-erp/stockgrid/internal/storage/pgstore"
	"github.com/odyssey-erp/stockgrid/internal/storage/redisstore"
	"github.com/odyssey-erp/stockgrid/internal/storage/writebehind"
	"github.com/odyssey-erp/stockgrid/internal/warehouse"
)

// Closer releases resources acquired by OpenStore.
type Closer func(context.Context) error

// OpenStore connects the configured storage backend. The returned closer
// flushes pending writes and closes connections.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger) (warehouse.Store, Closer, error) {
	var (
		store   warehouse.Store
		closers []Closer
	)
	switch cfg.Backend {
	case BackendFile:
		fs, err := filestore.New(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		store = fs
	case BackendPostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg := pgstore.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		store = pg
		closers = append(closers, func(context.Context) error {
			pool.Close()
			return nil
		})
	case BackendRedis:
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		store = redisstore.New(client, redisPrefix(cfg.RedisPrefix))
		closers = append(closers, func(context.Context) error {
			return client.Close()
		})
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.WriteBehind {
		wb := writebehind.New(store, logger, cfg.WriteBehindEvery)
		store = wb
		// Flush before the underlying connection goes away.
		closers = append([]Closer{wb.Close}, closers...)
	}
	logger.Info("storage ready", slog.String("backend", cfg.Backend), slog.Bool("write_behind", cfg.WriteBehind))

	closeAll := func(ctx context.Context) error {
		var errs []error
		for _, c := range closers {
			if err := c(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return store, closeAll, nil
}

// OpenWarehouse reads the persisted grid settings, builds the warehouse and
// loads its state. The returned settings still carry the first-run flag.
func OpenWarehouse(ctx context.Context, cfg *Config, store warehouse.Store, logger *slog.Logger, opts ...warehouse.Option) (*warehouse.Warehouse, warehouse.Settings, error) {
	settings, err := store.LoadSettings(ctx)
	if err != nil {
		return nil, warehouse.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		logger.Warn("invalid stored settings, using defaults", slog.Any("error", err))
		defaults := warehouse.DefaultSettings()
		settings.Rows, settings.Cols = defaults.Rows, defaults.Cols
	}

	opts = append([]warehouse.Option{warehouse.WithLogger(logger)}, opts...)
	wh, err := warehouse.New(warehouse.Config{
		Rows:          settings.Rows,
		Cols:          settings.Cols,
		Capacity:      cfg.LocationCapacity,
		Placement:     warehouse.PlacementPolicy(cfg.Placement),
		SaveThreshold: cfg.SaveThreshold,
		DefaultUser:   cfg.User,
	}, store, opts...)
	if err != nil {
		return nil, warehouse.Settings{}, err
	}
	if _, err := wh.Load(ctx); err != nil {
		return nil, warehouse.Settings{}, err
	}
	return wh, settings, nil
}

func redisPrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, ":") {
		return prefix
	}
	return prefix + ":"
}
