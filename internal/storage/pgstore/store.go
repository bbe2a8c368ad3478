// Package pgstore persists warehouse state in PostgreSQL.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockgrid/internal/platform/db"
	"github.com/odyssey-erp/stockgrid/internal/warehouse"
)

// DB is the subset of *pgxpool.Pool used by Store.
type DB interface {
	db.Beginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS stockgrid_products (
	sku      TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	price    NUMERIC(14,2) NOT NULL CHECK (price >= 0),
	quantity INTEGER NOT NULL CHECK (quantity >= 0)
);
CREATE TABLE IF NOT EXISTS stockgrid_locations (
	row_idx  INTEGER NOT NULL,
	col_idx  INTEGER NOT NULL,
	sku      TEXT NOT NULL,
	quantity INTEGER NOT NULL CHECK (quantity > 0),
	PRIMARY KEY (row_idx, col_idx, sku)
);
CREATE TABLE IF NOT EXISTS stockgrid_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS stockgrid_logs (
	id         BIGSERIAL PRIMARY KEY,
	logged_at  TIMESTAMPTZ NOT NULL,
	username   TEXT NOT NULL,
	action     TEXT NOT NULL
);`

const (
	metaLocationsSaved = "locations_saved"
	metaSettings       = "settings"
)

// Store implements warehouse.Store. Saves replace a table inside one transaction.
type Store struct {
	db DB
}

var _ warehouse.Store = (*Store)(nil)

// New wraps a pool.
func New(pool DB) *Store {
	return &Store{db: pool}
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

// SaveProducts replaces every product row.
func (s *Store) SaveProducts(ctx context.Context, products []warehouse.Product) error {
	return db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM stockgrid_products`); err != nil {
			return fmt.Errorf("pgstore: clear products: %w", err)
		}
		batch := &pgx.Batch{}
		for _, p := range products {
			batch.Queue(`INSERT INTO stockgrid_products (sku, name, price, quantity) VALUES ($1, $2, $3::numeric, $4)`,
				p.SKU, p.Name, p.Price.String(), p.Quantity)
		}
		return sendBatch(ctx, tx, batch, "products")
	})
}

// LoadProducts returns products ordered by SKU. A missing table yields none.
func (s *Store) LoadProducts(ctx context.Context) ([]warehouse.Product, error) {
	rows, err := s.db.Query(ctx, `SELECT sku, name, price::text, quantity FROM stockgrid_products ORDER BY sku`)
	if err != nil {
		if db.IsUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pgstore: load products: %w", err)
	}
	defer rows.Close()

	var products []warehouse.Product
	for rows.Next() {
		var (
			p     warehouse.Product
			price string
		)
		if err := rows.Scan(&p.SKU, &p.Name, &price, &p.Quantity); err != nil {
			return nil, fmt.Errorf("pgstore: scan product: %w", err)
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("pgstore: product %s price: %w", p.SKU, err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		if db.IsUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pgstore: load products: %w", err)
	}
	return products, nil
}

// SaveLocations replaces every location row and marks location state as present.
func (s *Store) SaveLocations(ctx context.Context, records []warehouse.StockRecord) error {
	return db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM stockgrid_locations`); err != nil {
			return fmt.Errorf("pgstore: clear locations: %w", err)
		}
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(`INSERT INTO stockgrid_locations (row_idx, col_idx, sku, quantity) VALUES ($1, $2, $3, $4)`,
				r.Row, r.Col, r.SKU, r.Quantity)
		}
		batch.Queue(`INSERT INTO stockgrid_meta (key, value) VALUES ($1, 'true') ON CONFLICT (key) DO NOTHING`, metaLocationsSaved)
		return sendBatch(ctx, tx, batch, "locations")
	})
}

// LoadLocations returns warehouse.ErrNoState until locations were saved once.
func (s *Store) LoadLocations(ctx context.Context) ([]warehouse.StockRecord, error) {
	var marker string
	err := s.db.QueryRow(ctx, `SELECT value FROM stockgrid_meta WHERE key = $1`, metaLocationsSaved).Scan(&marker)
	switch {
	case errors.Is(err, pgx.ErrNoRows), db.IsUndefinedTable(err):
		return nil, warehouse.ErrNoState
	case err != nil:
		return nil, fmt.Errorf("pgstore: load locations: %w", err)
	}

	rows, err := s.db.Query(ctx, `SELECT row_idx, col_idx, sku, quantity FROM stockgrid_locations ORDER BY row_idx, col_idx, sku`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: load locations: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (warehouse.StockRecord, error) {
		var r warehouse.StockRecord
		err := row.Scan(&r.Row, &r.Col, &r.SKU, &r.Quantity)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan locations: %w", err)
	}
	return records, nil
}

// SaveSettings upserts the settings document.
func (s *Store) SaveSettings(ctx context.Context, settings warehouse.Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("pgstore: encode settings: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO stockgrid_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, metaSettings, string(payload))
	if err != nil {
		return fmt.Errorf("pgstore: save settings: %w", err)
	}
	return nil
}

// LoadSettings returns defaults for absent keys.
func (s *Store) LoadSettings(ctx context.Context) (warehouse.Settings, error) {
	settings := warehouse.DefaultSettings()
	var payload string
	err := s.db.QueryRow(ctx, `SELECT value FROM stockgrid_meta WHERE key = $1`, metaSettings).Scan(&payload)
	switch {
	case errors.Is(err, pgx.ErrNoRows), db.IsUndefinedTable(err):
		return settings, nil
	case err != nil:
		return settings, fmt.Errorf("pgstore: load settings: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &settings); err != nil {
		return warehouse.DefaultSettings(), fmt.Errorf("pgstore: decode settings: %w", err)
	}
	return settings, nil
}

// AppendLog inserts one activity log row.
func (s *Store) AppendLog(ctx context.Context, entry warehouse.LogEntry) error {
	_, err := s.db.Exec(ctx, `INSERT INTO stockgrid_logs (logged_at, username, action) VALUES ($1, $2, $3)`,
		entry.At, entry.User, entry.Action)
	if err != nil {
		return fmt.Errorf("pgstore: append log: %w", err)
	}
	return nil
}

// LoadLogs returns the activity log oldest first.
func (s *Store) LoadLogs(ctx context.Context) ([]warehouse.LogEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT logged_at, username, action FROM stockgrid_logs ORDER BY id`)
	if err != nil {
		if db.IsUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pgstore: load logs: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (warehouse.LogEntry, error) {
		var e warehouse.LogEntry
		err := row.Scan(&e.At, &e.User, &e.Action)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan logs: %w", err)
	}
	return entries, nil
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, what string) error {
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("pgstore: write %s: %w", what, err)
	}
	return nil
}
