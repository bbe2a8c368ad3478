package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/stockgrid/cmd/stockgrid/cli"
	"github.com/odyssey-erp/stockgrid/internal/app"
	jobmetrics "github.com/odyssey-erp/stockgrid/internal/jobs"
	"github.com/odyssey-erp/stockgrid/internal/observability"
	"github.com/odyssey-erp/stockgrid/internal/warehouse"
	warehousehttp "github.com/odyssey-erp/stockgrid/internal/warehouse/http"
	"github.com/odyssey-erp/stockgrid/jobs"
)

const usage = `usage: stockgrid <command> [flags]

commands:
  serve                              run the HTTP API and background jobs (default)
  repl                               interactive operator menu
  validate [--json]                  report drifted products
  reconcile [--excess S] [--sku X]   fix drift
  map                                print the warehouse map
  logs [--limit N]                   print the activity log
  settings [--rows N] [--cols N]     show or change grid dimensions
  enqueue <reconcile|snapshot>       hand a job to the running server`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = godotenv.Load()
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return cli.ExitOK
	}

	command := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return cli.ExitError
	}

	logger := app.NewCLILogger(cfg)
	if command == "serve" {
		logger = app.NewLogger(cfg)
	}

	switch command {
	case "serve", "repl", "validate", "reconcile", "map", "logs", "settings":
	case "enqueue":
		return enqueue(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return cli.ExitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", command, usage)
		return cli.ExitUsage
	}

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open storage", slog.Any("error", err))
		return cli.ExitError
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := closeStore(shutdownCtx); err != nil {
			logger.Warn("close storage", slog.Any("error", err))
		}
	}()

	if command == "settings" {
		fs := flag.NewFlagSet("settings", flag.ContinueOnError)
		rows := fs.Int("rows", 0, "number of rows (1-26)")
		cols := fs.Int("cols", 0, "number of columns")
		if err := fs.Parse(args); err != nil {
			return cli.ExitUsage
		}
		return cli.SettingsCommand(ctx, store, cli.SettingsOptions{Rows: *rows, Cols: *cols})
	}

	wh, settings, err := app.OpenWarehouse(ctx, cfg, store, logger, warehouse.WithNotifier(cli.ConsoleNotifier(os.Stderr)))
	if err != nil {
		logger.Error("open warehouse", slog.Any("error", err))
		return cli.ExitError
	}
	if settings.FirstRun {
		settings.FirstRun = false
		if err := store.SaveSettings(ctx, settings); err != nil {
			logger.Warn("save settings", slog.Any("error", err))
		}
		fmt.Fprintf(os.Stderr, "Welcome! A %d x %d warehouse was created. Use 'stockgrid settings' to change its size.\n", settings.Rows, settings.Cols)
	}

	commands := cli.NewWarehouseCLI(wh)
	switch command {
	case "repl":
		return commands.REPL(ctx, cli.Options{})
	case "validate":
		fs := flag.NewFlagSet("validate", flag.ContinueOnError)
		jsonOut := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args); err != nil {
			return cli.ExitUsage
		}
		return commands.ValidateCommand(ctx, cli.Options{JSONOutput: *jsonOut})
	case "reconcile":
		fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
		excess := fs.String("excess", cfg.ReconcileExcessStrategy, "accept-physical, accept-catalog, ask or none")
		sku := fs.String("sku", "", "reconcile a single product")
		jsonOut := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args); err != nil {
			return cli.ExitUsage
		}
		code := commands.ReconcileCommand(ctx, cli.ReconcileOptions{Options: cli.Options{JSONOutput: *jsonOut}, Excess: *excess, SKU: *sku})
		if err := wh.Save(ctx, true); err != nil {
			logger.Error("save warehouse", slog.Any("error", err))
			return cli.ExitError
		}
		return code
	case "map":
		return commands.MapCommand(ctx, cli.Options{})
	case "logs":
		fs := flag.NewFlagSet("logs", flag.ContinueOnError)
		limit := fs.Int("limit", 0, "show only the newest entries")
		if err := fs.Parse(args); err != nil {
			return cli.ExitUsage
		}
		return commands.LogsCommand(ctx, cli.LogsOptions{Limit: *limit})
	}
	return serve(ctx, cfg, logger, wh)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger, wh *warehouse.Warehouse) int {
	metrics := observability.NewMetrics()
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("close inspector", slog.Any("error", err))
		}
	}()

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	workerDone := make(chan struct{})
	if cfg.JobsEnabled {
		go func() {
			defer close(workerDone)
			runWorker(workerCtx, cfg, logger, wh, metrics)
		}()
	} else {
		close(workerDone)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		WarehouseHandler: warehousehttp.NewHandler(logger, wh, metrics),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	exitCode := cli.ExitOK
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("http server", slog.Any("error", err))
			exitCode = cli.ExitError
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown server", slog.Any("error", err))
	}
	stopWorker()
	<-workerDone
	if err := wh.Save(shutdownCtx, true); err != nil {
		logger.Error("save warehouse", slog.Any("error", err))
		exitCode = cli.ExitError
	}
	logger.Info("server stopped")
	return exitCode
}

// runWorker processes warehouse tasks against the serving warehouse until
// ctx is done. A missing Redis disables jobs but keeps the API up.
func runWorker(ctx context.Context, cfg *app.Config, logger *slog.Logger, wh *warehouse.Warehouse, metrics *observability.Metrics) {
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:     asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:        logger,
		Reconcile:     jobs.NewReconcileJob(wh, logger, jobMetrics, cfg.ReconcileExcessStrategy),
		Snapshot:      jobs.NewSnapshotJob(wh, metrics, logger, jobMetrics),
		ReconcileCron: cfg.ReconcileCron,
		SnapshotCron:  cfg.SnapshotCron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		return
	}
	if err := worker.Run(ctx); err != nil {
		logger.Warn("worker stopped, background jobs disabled", slog.Any("error", err))
	}
}

func enqueue(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "enqueue: job name required (reconcile or snapshot)")
		return cli.ExitUsage
	}
	job, args := args[0], args[1:]
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	sku := fs.String("sku", "", "reconcile a single product")
	excess := fs.String("excess", "", "excess strategy for the worker")
	if err := fs.Parse(args); err != nil {
		return cli.ExitUsage
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		return cli.ExitError
	}
	defer func() { _ = jobsCLI.Close() }()
	return jobsCLI.EnqueueCommand(ctx, cli.EnqueueOptions{Job: job, SKU: *sku, Excess: *excess})
}
