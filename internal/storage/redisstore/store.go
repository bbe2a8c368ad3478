// Package redisstore keeps warehouse state in Redis hashes and lists.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockgrid/internal/warehouse"
)

const defaultPrefix = "stockgrid:"

// Store implements warehouse.Store. Each save replaces its key inside a
// MULTI/EXEC block so readers see either the old or the new state.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ warehouse.Store = (*Store)(nil)

// New wraps client. An empty prefix defaults to "stockgrid:".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(name string) string { return s.prefix + name }

// SaveProducts replaces the products hash.
func (s *Store) SaveProducts(ctx context.Context, products []warehouse.Product) error {
	fields := make(map[string]any, len(products))
	for _, p := range products {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("redisstore: encode product %s: %w", p.SKU, err)
		}
		fields[p.SKU] = payload
	}
	return s.replaceHash(ctx, s.key("products"), fields)
}

// LoadProducts reads every product.
func (s *Store) LoadProducts(ctx context.Context) ([]warehouse.Product, error) {
	raw, err := s.client.HGetAll(ctx, s.key("products")).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: load products: %w", err)
	}
	products := make([]warehouse.Product, 0, len(raw))
	for sku, payload := range raw {
		var p warehouse.Product
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("redisstore: decode product %s: %w", sku, err)
		}
		products = append(products, p)
	}
	return products, nil
}

// SaveLocations replaces the locations hash. Fields are "row:col:sku".
func (s *Store) SaveLocations(ctx context.Context, records []warehouse.StockRecord) error {
	fields := make(map[string]any, len(records))
	for _, r := range records {
		fields[fmt.Sprintf("%d:%d:%s", r.Row, r.Col, r.SKU)] = r.Quantity
	}
	key := s.key("locations")
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		pipe.Set(ctx, s.key("locations:saved"), "1", 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: save locations: %w", err)
	}
	return nil
}

// LoadLocations returns warehouse.ErrNoState until locations were saved once.
func (s *Store) LoadLocations(ctx context.Context) ([]warehouse.StockRecord, error) {
	saved, err := s.client.Exists(ctx, s.key("locations:saved")).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: load locations: %w", err)
	}
	if saved == 0 {
		return nil, warehouse.ErrNoState
	}
	raw, err := s.client.HGetAll(ctx, s.key("locations")).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: load locations: %w", err)
	}
	records := make([]warehouse.StockRecord, 0, len(raw))
	for field, value := range raw {
		parts := strings.SplitN(field, ":", 3)
		if len(parts) != 3 {
			continue
		}
		row, errRow := strconv.Atoi(parts[0])
		col, errCol := strconv.Atoi(parts[1])
		qty, errQty := strconv.Atoi(value)
		if errRow != nil || errCol != nil || errQty != nil {
			continue
		}
		records = append(records, warehouse.StockRecord{Row: row, Col: col, SKU: parts[2], Quantity: qty})
	}
	return records, nil
}

// SaveSettings stores settings as one JSON document.
func (s *Store) SaveSettings(ctx context.Context, settings warehouse.Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("redisstore: encode settings: %w", err)
	}
	if err := s.client.Set(ctx, s.key("settings"), payload, 0).Err(); err != nil {
		return fmt.Errorf("redisstore: save settings: %w", err)
	}
	return nil
}

// LoadSettings returns defaults for absent keys.
func (s *Store) LoadSettings(ctx context.Context) (warehouse.Settings, error) {
	settings := warehouse.DefaultSettings()
	payload, err := s.client.Get(ctx, s.key("settings")).Bytes()
	if errors.Is(err, redis.Nil) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("redisstore: load settings: %w", err)
	}
	if err := json.Unmarshal(payload, &settings); err != nil {
		return warehouse.DefaultSettings(), fmt.Errorf("redisstore: decode settings: %w", err)
	}
	return settings, nil
}

type logRecord struct {
	At     string `json:"timestamp"`
	User   string `json:"user"`
	Action string `json:"action"`
}

// AppendLog pushes an entry onto the log list.
func (s *Store) AppendLog(ctx context.Context, entry warehouse.LogEntry) error {
	payload, err := json.Marshal(logRecord{At: entry.At.Format(time.RFC3339Nano), User: entry.User, Action: entry.Action})
	if err != nil {
		return fmt.Errorf("redisstore: encode log: %w", err)
	}
	if err := s.client.RPush(ctx, s.key("logs"), payload).Err(); err != nil {
		return fmt.Errorf("redisstore: append log: %w", err)
	}
	return nil
}

// LoadLogs returns the log list oldest first.
func (s *Store) LoadLogs(ctx context.Context) ([]warehouse.LogEntry, error) {
	raw, err := s.client.LRange(ctx, s.key("logs"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: load logs: %w", err)
	}
	entries := make([]warehouse.LogEntry, 0, len(raw))
	for _, item := range raw {
		var rec logRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		entry := warehouse.LogEntry{User: rec.User, Action: rec.Action}
		entry.At, _ = time.Parse(time.RFC3339Nano, rec.At)
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) replaceHash(ctx context.Context, key string, fields map[string]any) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: replace %s: %w", key, err)
	}
	return nil
}
