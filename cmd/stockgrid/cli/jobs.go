package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockgrid/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name, sku, excess string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskWarehouseReconcile, "reconcile":
		return c.client.EnqueueReconcile(ctx, sku, excess)
	case jobs.TaskWarehouseSnapshot, "snapshot":
		return c.client.EnqueueSnapshot(ctx)
	}
	return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
}

// InspectQueue reports the counters of the task queue.
func (c *JobsCLI) InspectQueue(_ context.Context) (jobs.QueueStats, error) {
	if c == nil || c.inspector == nil {
		return jobs.QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	return jobs.Inspect(c.inspector)
}

// EnqueueOptions configures the enqueue command.
type EnqueueOptions struct {
	Options
	Job    string
	SKU    string
	Excess string
}

// EnqueueCommand hands a job to the worker and prints the queue state.
func (c *JobsCLI) EnqueueCommand(ctx context.Context, opts EnqueueOptions) int {
	opts.defaults()
	info, err := c.Trigger(ctx, opts.Job, opts.SKU, opts.Excess)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "enqueue: %v\n", err)
		return ExitError
	}
	_, _ = fmt.Fprintf(opts.Stdout, "Enqueued %s as %s on queue %s.\n", info.Type, info.ID, info.Queue)
	if stats, err := c.InspectQueue(ctx); err == nil {
		_, _ = fmt.Fprintf(opts.Stdout, "Pending: %d  Active: %d  Scheduled: %d  Retry: %d\n", stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	}
	return ExitOK
}
