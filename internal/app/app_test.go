package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockgrid/internal/observability"
	"github.com/odyssey-erp/stockgrid/internal/storage/filestore"
	"github.com/odyssey-erp/stockgrid/internal/warehouse"
	warehousehttp "github.com/odyssey-erp/stockgrid/internal/warehouse/http"
	_ "github.com/odyssey-erp/stockgrid/testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, BackendFile, cfg.Backend)
	require.Equal(t, "auto", cfg.Placement)
	require.Equal(t, 100, cfg.LocationCapacity)
	require.Equal(t, "none", cfg.ReconcileExcessStrategy)
	require.Equal(t, "0 * * * *", cfg.SnapshotCron)
	require.True(t, cfg.JobsEnabled)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsUnknownValues(t *testing.T) {
	t.Setenv("STOCKGRID_BACKEND", "floppy")
	_, err := LoadConfig()
	require.EqualError(t, err, `unknown storage backend "floppy"`)

	t.Setenv("STOCKGRID_BACKEND", BackendFile)
	t.Setenv("RECONCILE_EXCESS_STRATEGY", "shred")
	_, err = LoadConfig()
	require.EqualError(t, err, `unknown excess strategy "shred"`)
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("sku", "W1"))
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"sku":"W1"`)
}

func newTestRouter(t *testing.T) (http.Handler, *warehouse.Warehouse) {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	wh, err := warehouse.New(warehouse.Config{Rows: 2, Cols: 2}, store)
	require.NoError(t, err)
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Logger:           quietLogger(),
		Config:           &Config{AppEnv: "development", AppRateLimit: 1000},
		WarehouseHandler: warehousehttp.NewHandler(quietLogger(), wh, metrics),
		Metrics:          metrics,
	})
	return router, wh
}

func TestRouterHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "stockgrid_http_requests_total")
}

func TestRouterRecordsActor(t *testing.T) {
	router, wh := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/products", strings.NewReader(`{"sku":"W1","name":"Widget","price":"1","quantity":5}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "alice")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	logs, err := wh.Logs(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	require.Equal(t, "alice", logs[0].User)
}

func TestOpenStoreFileBackend(t *testing.T) {
	ctx := context.Background()
	cfg := &Config{Backend: BackendFile, DataDir: t.TempDir(), Placement: "auto", LocationCapacity: 50, SaveThreshold: 1, User: "admin"}

	store, closeStore, err := OpenStore(ctx, cfg, quietLogger())
	require.NoError(t, err)
	wh, settings, err := OpenWarehouse(ctx, cfg, store, quietLogger())
	require.NoError(t, err)
	require.True(t, settings.FirstRun)
	require.Equal(t, 5, wh.Rows())
	require.Equal(t, 8, wh.Cols())

	p, err := warehouse.NewProduct("Widget", "W1", decimal.NewFromInt(3), 70)
	require.NoError(t, err)
	_, err = wh.AddProduct(ctx, p)
	require.NoError(t, err)
	require.NoError(t, closeStore(ctx))

	store, closeStore, err = OpenStore(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer func() { _ = closeStore(ctx) }()
	reopened, _, err := OpenWarehouse(ctx, cfg, store, quietLogger())
	require.NoError(t, err)
	require.Len(t, reopened.FindProduct("W1"), 2)
}

func TestOpenStoreRedisWithWriteBehind(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := &Config{Backend: BackendRedis, RedisAddr: mr.Addr(), RedisPrefix: "sg", WriteBehind: true, Placement: "auto", LocationCapacity: 100}

	store, closeStore, err := OpenStore(ctx, cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, store.SaveSettings(ctx, warehouse.Settings{Rows: 2, Cols: 3}))
	wh, settings, err := OpenWarehouse(ctx, cfg, store, quietLogger())
	require.NoError(t, err)
	require.Equal(t, 3, settings.Cols)
	require.Equal(t, 2, wh.Rows())

	p, err := warehouse.NewProduct("Gadget", "G1", decimal.NewFromInt(1), 10)
	require.NoError(t, err)
	_, err = wh.AddProduct(ctx, p)
	require.NoError(t, err)
	require.NoError(t, wh.Save(ctx, true))
	require.True(t, mr.Exists("sg:products"))
	require.NoError(t, closeStore(ctx))
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	_, _, err := OpenStore(context.Background(), &Config{Backend: "tape"}, quietLogger())
	require.Error(t, err)
}

func TestRedisPrefix(t *testing.T) {
	require.Equal(t, "sg:", redisPrefix("sg"))
	require.Equal(t, "sg:", redisPrefix("sg:"))
	require.Equal(t, "", redisPrefix(""))
}

func TestInTestModeFollowsEnvironment(t *testing.T) {
	require.True(t, InTestMode())

	t.Cleanup(RefreshTestMode)
	t.Setenv("STOCKGRID_TEST_MODE", "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}
