package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Client hands warehouse tasks to the serving process.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueReconcile enqueues a reconciliation run. An empty sku reconciles
// every drifted product.
func (c *Client) EnqueueReconcile(ctx context.Context, sku, excessStrategy string) (*asynq.TaskInfo, error) {
	task, err := NewReconcileTask(sku, excessStrategy)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// EnqueueSnapshot enqueues a forced save.
func (c *Client) EnqueueSnapshot(ctx context.Context) (*asynq.TaskInfo, error) {
	task, err := NewSnapshotTask(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
