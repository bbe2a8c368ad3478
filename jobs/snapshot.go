package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockgrid/internal/jobs"
	"github.com/odyssey-erp/stockgrid/internal/observability"
)

// SnapshotJob force-saves the warehouse and publishes inventory gauges.
type SnapshotJob struct {
	Inventory Inventory
	Observer  *observability.Metrics
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewSnapshotJob wires dependencies for the snapshot handler. observer may be nil.
func NewSnapshotJob(inv Inventory, observer *observability.Metrics, logger *slog.Logger, metrics *jobmetrics.Metrics) *SnapshotJob {
	return &SnapshotJob{Inventory: inv, Observer: observer, Logger: logger, Metrics: metrics}
}

// Handle processes snapshot tasks.
func (j *SnapshotJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("warehouse snapshot: handler not configured")
	}
	var payload SnapshotPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskWarehouseSnapshot)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskWarehouseSnapshot))

	if err := j.Inventory.Save(ctx, true); err != nil {
		resultErr = err
		logger.Error("save warehouse state", slog.Any("error", err))
		return resultErr
	}
	stats := j.Inventory.Stats()
	if j.Observer != nil {
		j.Observer.ObserveInventory(observability.InventorySnapshot{
			Products:    stats.Products,
			UnitsPlaced: stats.UnitsPlaced,
			Capacity:    stats.Capacity,
			Drifted:     stats.Drifted,
		})
	}
	logger.Info("inventory snapshot",
		slog.Int("products", stats.Products),
		slog.Int("units_recorded", stats.UnitsRecorded),
		slog.Int("units_placed", stats.UnitsPlaced),
		slog.Float64("utilization", stats.Utilization),
		slog.Int("drifted", stats.Drifted),
		slog.String("value", stats.Value.StringFixed(2)),
	)
	return resultErr
}
