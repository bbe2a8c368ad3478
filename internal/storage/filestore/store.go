// Package filestore persists warehouse state as CSV and JSON files in a data directory.
package filestore

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockgrid/internal/warehouse"
)

const (
	productsFile  = "products.csv"
	locationsFile = "locations.csv"
	settingsFile  = "settings.json"
	logsFile      = "logs.csv"

	// TimestampLayout is the activity log timestamp format.
	TimestampLayout = "2006-01-02 15:04:05"
)

var (
	productsHeader  = []string{"sku", "name", "price", "quantity"}
	locationsHeader = []string{"row", "col", "sku", "quantity"}
	logsHeader      = []string{"timestamp", "user", "action"}
)

// Store implements warehouse.Store on the local filesystem. Every file is
// guarded by its own mutex and replaced through a temporary file and rename.
type Store struct {
	dir string

	productsMu  sync.Mutex
	locationsMu sync.Mutex
	settingsMu  sync.Mutex
	logsMu      sync.Mutex
}

var _ warehouse.Store = (*Store)(nil)

// New creates dir when missing and returns a Store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// SaveProducts replaces products.csv.
func (s *Store) SaveProducts(_ context.Context, products []warehouse.Product) error {
	rows := make([][]string, 0, len(products)+1)
	rows = append(rows, productsHeader)
	for _, p := range products {
		rows = append(rows, []string{p.SKU, p.Name, p.Price.String(), strconv.Itoa(p.Quantity)})
	}
	s.productsMu.Lock()
	defer s.productsMu.Unlock()
	return s.replaceCSV(productsFile, rows)
}

// LoadProducts reads products.csv. A missing file yields no products.
func (s *Store) LoadProducts(_ context.Context) ([]warehouse.Product, error) {
	s.productsMu.Lock()
	defer s.productsMu.Unlock()
	rows, err := s.readCSV(productsFile, productsHeader)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	products := make([]warehouse.Product, 0, len(rows))
	for i, row := range rows {
		price, err := decimal.NewFromString(row[2])
		if err != nil {
			return nil, fmt.Errorf("filestore: %s row %d: price: %w", productsFile, i+2, err)
		}
		qty, err := strconv.Atoi(row[3])
		if err != nil {
			return nil, fmt.Errorf("filestore: %s row %d: quantity: %w", productsFile, i+2, err)
		}
		p, err := warehouse.NewProduct(row[1], row[0], price, qty)
		if err != nil {
			return nil, fmt.Errorf("filestore: %s row %d: %w", productsFile, i+2, err)
		}
		products = append(products, p)
	}
	return products, nil
}

// SaveLocations replaces locations.csv.
func (s *Store) SaveLocations(_ context.Context, records []warehouse.StockRecord) error {
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, locationsHeader)
	for _, r := range records {
		rows = append(rows, []string{strconv.Itoa(r.Row), strconv.Itoa(r.Col), r.SKU, strconv.Itoa(r.Quantity)})
	}
	s.locationsMu.Lock()
	defer s.locationsMu.Unlock()
	return s.replaceCSV(locationsFile, rows)
}

// LoadLocations reads locations.csv. Malformed rows are skipped.
func (s *Store) LoadLocations(_ context.Context) ([]warehouse.StockRecord, error) {
	s.locationsMu.Lock()
	defer s.locationsMu.Unlock()
	rows, err := s.readCSV(locationsFile, locationsHeader)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, warehouse.ErrNoState
	}
	if err != nil {
		return nil, err
	}
	records := make([]warehouse.StockRecord, 0, len(rows))
	for _, row := range rows {
		r, errRow := strconv.Atoi(row[0])
		c, errCol := strconv.Atoi(row[1])
		q, errQty := strconv.Atoi(row[3])
		if errRow != nil || errCol != nil || errQty != nil {
			continue
		}
		records = append(records, warehouse.StockRecord{Row: r, Col: c, SKU: row[2], Quantity: q})
	}
	return records, nil
}

// SaveSettings replaces settings.json.
func (s *Store) SaveSettings(_ context.Context, settings warehouse.Settings) error {
	data, err := json.MarshalIndent(settings, "", "    ")
	if err != nil {
		return fmt.Errorf("filestore: encode settings: %w", err)
	}
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	return s.replace(settingsFile, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// LoadSettings reads settings.json, filling missing keys with defaults. A
// missing file is created with the defaults.
func (s *Store) LoadSettings(ctx context.Context) (warehouse.Settings, error) {
	s.settingsMu.Lock()
	data, err := os.ReadFile(s.path(settingsFile))
	s.settingsMu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		defaults := warehouse.DefaultSettings()
		return defaults, s.SaveSettings(ctx, defaults)
	}
	if err != nil {
		return warehouse.DefaultSettings(), fmt.Errorf("filestore: read settings: %w", err)
	}
	settings := warehouse.DefaultSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		return warehouse.DefaultSettings(), fmt.Errorf("filestore: decode settings: %w", err)
	}
	return settings, nil
}

// AppendLog appends one line to logs.csv, writing the header on first use.
func (s *Store) AppendLog(_ context.Context, entry warehouse.LogEntry) error {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	path := s.path(logsFile)
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: open log: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if errors.Is(statErr, fs.ErrNotExist) {
		_ = w.Write(logsHeader)
	}
	_ = w.Write([]string{entry.At.Format(TimestampLayout), entry.User, entry.Action})
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("filestore: append log: %w", err)
	}
	return nil
}

// LoadLogs returns every activity log entry in file order.
func (s *Store) LoadLogs(_ context.Context) ([]warehouse.LogEntry, error) {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	rows, err := s.readCSV(logsFile, logsHeader)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entries := make([]warehouse.LogEntry, 0, len(rows))
	for _, row := range rows {
		at, err := time.ParseInLocation(TimestampLayout, row[0], time.Local)
		if err != nil {
			continue
		}
		entries = append(entries, warehouse.LogEntry{At: at, User: row[1], Action: row[2]})
	}
	return entries, nil
}

// readCSV returns the data rows after checking the header. Rows with the
// wrong number of fields are dropped.
func (s *Store) readCSV(name string, header []string) ([][]string, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	if !strings.EqualFold(strings.Join(records[0], ","), strings.Join(header, ",")) {
		return nil, fmt.Errorf("filestore: %s header mismatch: expected %v, got %v", name, header, records[0])
	}
	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) == len(header) {
			rows = append(rows, rec)
		}
	}
	return rows, nil
}

func (s *Store) replaceCSV(name string, rows [][]string) error {
	return s.replace(name, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	})
}

// replace writes through a temporary file in the same directory and renames
// it over the target, so readers never observe a partial file.
func (s *Store) replace(name string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		return fmt.Errorf("filestore: rename %s: %w", name, err)
	}
	return nil
}
