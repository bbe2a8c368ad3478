package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// WorkerConfig wires the jobs of the serving warehouse to asynq.
type WorkerConfig struct {
	RedisOpts asynq.RedisClientOpt
	Logger    *slog.Logger
	Reconcile *ReconcileJob
	Snapshot  *SnapshotJob
	// ReconcileCron and SnapshotCron schedule full runs; empty disables.
	ReconcileCron string
	SnapshotCron  string
}

// Worker processes warehouse tasks inside the serving process.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	scheduled int
	logger    *slog.Logger
}

// NewWorker registers the configured jobs and their schedule.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		// One task at a time against the shared warehouse.
		server:    asynq.NewServer(cfg.RedisOpts, asynq.Config{Concurrency: 1}),
		mux:       asynq.NewServeMux(),
		scheduler: asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC}),
		logger:    logger,
	}
	if cfg.Reconcile != nil {
		w.mux.HandleFunc(TaskWarehouseReconcile, cfg.Reconcile.Handle)
		if cfg.ReconcileCron != "" {
			task, err := NewReconcileTask("", "")
			if err != nil {
				return nil, err
			}
			if err := w.schedule(cfg.ReconcileCron, task, asynq.MaxRetry(3)); err != nil {
				return nil, err
			}
		}
	}
	if cfg.Snapshot != nil {
		w.mux.HandleFunc(TaskWarehouseSnapshot, cfg.Snapshot.Handle)
		if cfg.SnapshotCron != "" {
			task, err := NewSnapshotTask(time.Time{})
			if err != nil {
				return nil, err
			}
			if err := w.schedule(cfg.SnapshotCron, task, asynq.MaxRetry(1)); err != nil {
				return nil, err
			}
		}
	}
	logger.Info("worker configured", slog.Int("cron_entries", w.scheduled))
	return w, nil
}

func (w *Worker) schedule(spec string, task *asynq.Task, opts ...asynq.Option) error {
	if _, err := w.scheduler.Register(spec, task, opts...); err != nil {
		return err
	}
	w.scheduled++
	return nil
}

// Run processes tasks until ctx is cancelled and returns once in-flight
// tasks have finished.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	if w.scheduled > 0 {
		if err := w.scheduler.Start(); err != nil {
			w.server.Shutdown()
			return err
		}
	}
	<-ctx.Done()
	if w.scheduled > 0 {
		w.scheduler.Shutdown()
	}
	w.server.Shutdown()
	return nil
}
