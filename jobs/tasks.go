package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// Queue is the asynq queue every warehouse task goes to.
	Queue = "default"
	// TaskWarehouseReconcile reconciles recorded quantities against placed stock.
	TaskWarehouseReconcile = "warehouse:reconcile"
	// TaskWarehouseSnapshot force-saves the warehouse and refreshes inventory gauges.
	TaskWarehouseSnapshot = "warehouse:snapshot"
)

// ReconcilePayload parameterises a reconciliation run. An empty SKU means
// every drifted product. An empty ExcessStrategy leaves excess drift alone.
type ReconcilePayload struct {
	RequestID      uuid.UUID `json:"request_id"`
	SKU            string    `json:"sku,omitempty"`
	ExcessStrategy string    `json:"excess_strategy,omitempty"`
	RequestedAt    time.Time `json:"requested_at"`
}

// SnapshotPayload carries scheduling metadata.
type SnapshotPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

// NewReconcileTask constructs an Asynq task for a reconciliation run.
func NewReconcileTask(sku, excessStrategy string) (*asynq.Task, error) {
	payload := ReconcilePayload{
		RequestID:      uuid.New(),
		SKU:            sku,
		ExcessStrategy: excessStrategy,
		RequestedAt:    time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWarehouseReconcile, body, asynq.Queue(Queue)), nil
}

// NewSnapshotTask constructs an Asynq task for an inventory snapshot.
func NewSnapshotTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SnapshotPayload{RequestedAt: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWarehouseSnapshot, body, asynq.Queue(Queue)), nil
}
