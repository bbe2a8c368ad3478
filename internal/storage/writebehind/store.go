// Package writebehind decouples warehouse mutations from slow storage. Saves
// are queued, coalesced to the latest snapshot and flushed by a background
// goroutine.
package writebehind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockgrid/internal/warehouse"
)

var (
	// ErrClosed is returned for saves after Close.
	ErrClosed = errors.New("writebehind: store closed")
	// ErrFlushFailed is returned by saves while the last flush has not
	// succeeded. The save itself is still queued.
	ErrFlushFailed = errors.New("writebehind: earlier write failed")
)

// Store wraps another warehouse.Store. Only the newest pending product and
// location snapshots are written; log entries are written in order.
type Store struct {
	next     warehouse.Store
	logger   *slog.Logger
	interval time.Duration

	mu          sync.Mutex
	products    []warehouse.Product
	hasProducts bool
	records     []warehouse.StockRecord
	hasRecords  bool
	logs        []warehouse.LogEntry
	closed      bool
	lastErr     error

	flushMu sync.Mutex
	started bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

var (
	_ warehouse.Store   = (*Store)(nil)
	_ warehouse.Flusher = (*Store)(nil)
)

// New starts the flusher. interval bounds how long a queued save may wait.
func New(next warehouse.Store, logger *slog.Logger, interval time.Duration) *Store {
	s := newStore(next, logger, interval)
	s.started = true
	go s.run()
	return s
}

func newStore(next warehouse.Store, logger *slog.Logger, interval time.Duration) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Store{
		next:     next,
		logger:   logger,
		interval: interval,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Store) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-ticker.C:
		}
		if err := s.flush(context.Background()); err != nil {
			s.logger.Error("write-behind flush failed", slog.Any("error", err))
		}
	}
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SaveProducts queues a products snapshot.
func (s *Store) SaveProducts(_ context.Context, products []warehouse.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.products = append([]warehouse.Product(nil), products...)
	s.hasProducts = true
	s.signal()
	return s.queuedErr()
}

// SaveLocations queues a locations snapshot.
func (s *Store) SaveLocations(_ context.Context, records []warehouse.StockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.records = append([]warehouse.StockRecord(nil), records...)
	s.hasRecords = true
	s.signal()
	return s.queuedErr()
}

// AppendLog queues a log entry.
func (s *Store) AppendLog(_ context.Context, entry warehouse.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.logs = append(s.logs, entry)
	s.signal()
	return s.queuedErr()
}

func (s *Store) queuedErr() error {
	if s.lastErr != nil {
		return fmt.Errorf("%w: %w", ErrFlushFailed, s.lastErr)
	}
	return nil
}

// LoadProducts flushes pending writes before reading through.
func (s *Store) LoadProducts(ctx context.Context) ([]warehouse.Product, error) {
	if err := s.flush(ctx); err != nil {
		return nil, err
	}
	return s.next.LoadProducts(ctx)
}

// LoadLocations flushes pending writes before reading through.
func (s *Store) LoadLocations(ctx context.Context) ([]warehouse.StockRecord, error) {
	if err := s.flush(ctx); err != nil {
		return nil, err
	}
	return s.next.LoadLocations(ctx)
}

// LoadLogs flushes pending writes before reading through.
func (s *Store) LoadLogs(ctx context.Context) ([]warehouse.LogEntry, error) {
	if err := s.flush(ctx); err != nil {
		return nil, err
	}
	return s.next.LoadLogs(ctx)
}

// SaveSettings writes synchronously.
func (s *Store) SaveSettings(ctx context.Context, settings warehouse.Settings) error {
	return s.next.SaveSettings(ctx, settings)
}

// LoadSettings reads synchronously.
func (s *Store) LoadSettings(ctx context.Context) (warehouse.Settings, error) {
	return s.next.LoadSettings(ctx)
}

// Flush writes everything queued so far. Products and locations are written
// concurrently. Failed writes go back on the queue unless a newer snapshot
// arrived in the meantime. It returns ErrClosed after Close.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.flush(ctx)
}

func (s *Store) flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	products, hasProducts := s.products, s.hasProducts
	records, hasRecords := s.records, s.hasRecords
	logs := s.logs
	s.products, s.hasProducts = nil, false
	s.records, s.hasRecords = nil, false
	s.logs = nil
	s.mu.Unlock()

	if !hasProducts && !hasRecords && len(logs) == 0 {
		return nil
	}

	var (
		productsErr, recordsErr error
		written                 int
	)
	g, gctx := errgroup.WithContext(ctx)
	if hasProducts {
		g.Go(func() error {
			productsErr = s.next.SaveProducts(gctx, products)
			return productsErr
		})
	}
	if hasRecords {
		g.Go(func() error {
			recordsErr = s.next.SaveLocations(gctx, records)
			return recordsErr
		})
	}
	g.Go(func() error {
		for _, entry := range logs {
			if err := s.next.AppendLog(gctx, entry); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	err := g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if hasProducts && productsErr != nil && !s.hasProducts {
		s.products, s.hasProducts = products, true
	}
	if hasRecords && recordsErr != nil && !s.hasRecords {
		s.records, s.hasRecords = records, true
	}
	if written < len(logs) {
		s.logs = append(append([]warehouse.LogEntry(nil), logs[written:]...), s.logs...)
	}
	s.lastErr = err
	return err
}

// Pending reports whether anything is waiting to be written.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasProducts || s.hasRecords || len(s.logs) > 0
}

// LastError returns the result of the most recent flush.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Close stops the flusher and writes what is left.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.started {
		close(s.stop)
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.flush(ctx)
}
