package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockgrid/internal/jobs"
	"github.com/odyssey-erp/stockgrid/internal/warehouse"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Inventory is the warehouse surface the background jobs need. Jobs run
// against the warehouse that serves the API and never reload it from storage.
type Inventory interface {
	Reconcile(ctx context.Context, resolver warehouse.ExcessResolver) warehouse.Report
	ReconcileProduct(ctx context.Context, sku string, resolver warehouse.ExcessResolver) (warehouse.Report, error)
	Save(ctx context.Context, force bool) error
	Stats() warehouse.Stats
	LastSaveError() error
}

// ReconcileJob reconciles drifted products.
type ReconcileJob struct {
	Inventory Inventory
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	// DefaultStrategy applies when the payload names none.
	DefaultStrategy string

	clock func() time.Time
}

// NewReconcileJob wires dependencies for the reconcile handler.
func NewReconcileJob(inv Inventory, logger *slog.Logger, metrics *jobmetrics.Metrics, defaultStrategy string) *ReconcileJob {
	return &ReconcileJob{
		Inventory:       inv,
		Logger:          logger,
		Metrics:         metrics,
		DefaultStrategy: defaultStrategy,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes reconcile tasks.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("warehouse reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.ExcessStrategy == "" {
		payload.ExcessStrategy = j.DefaultStrategy
	}
	var resolver warehouse.ExcessResolver
	if strategy, ok := warehouse.ParseStrategy(payload.ExcessStrategy); ok {
		resolver = warehouse.FixedStrategy(strategy)
	} else if payload.ExcessStrategy != "" && payload.ExcessStrategy != "none" {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskWarehouseReconcile)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("request_id", payload.RequestID.String()))
	if payload.SKU != "" {
		logger = logger.With(slog.String("sku", payload.SKU))
	}
	start := j.now()

	var report warehouse.Report
	if payload.SKU == "" {
		report = j.Inventory.Reconcile(ctx, resolver)
	} else {
		r, err := j.Inventory.ReconcileProduct(ctx, payload.SKU, resolver)
		if errors.Is(err, warehouse.ErrUnknownProduct) {
			logger.Warn("reconcile skipped unknown product")
			return resultErr
		}
		if err != nil {
			resultErr = err
			return resultErr
		}
		report = r
	}

	counts := make(map[warehouse.Status]int)
	for _, o := range report.Outcomes {
		counts[o.Status]++
	}
	for status, n := range counts {
		j.metrics().AddReconciled(string(status), n)
	}

	if err := j.Inventory.LastSaveError(); err != nil {
		resultErr = err
		logger.Error("persist reconciliation", slog.Any("error", err))
		return resultErr
	}

	logger.Info("completed warehouse reconcile",
		slog.String("run_id", report.RunID.String()),
		slog.Int("products", len(report.Outcomes)),
		slog.Bool("resolved", report.Resolved()),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return resultErr
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWarehouseReconcile))
	}
	return slog.Default().With(slog.String("job", TaskWarehouseReconcile))
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReconcileJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
