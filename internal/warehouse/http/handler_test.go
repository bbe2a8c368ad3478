package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockgrid/internal/observability"
	"github.com/odyssey-erp/stockgrid/internal/warehouse"
	_ "github.com/odyssey-erp/stockgrid/testing"
)

type apiFixture struct {
	router    chi.Router
	warehouse *warehouse.Warehouse
	metrics   *observability.Metrics
}

func newFixture(t *testing.T, rows, cols int) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wh, err := warehouse.New(warehouse.Config{Rows: rows, Cols: cols, Capacity: 100}, nil, warehouse.WithLogger(logger))
	require.NoError(t, err)
	metrics := observability.NewMetrics()
	r := chi.NewRouter()
	r.Route("/api", NewHandler(logger, wh, metrics).MountRoutes)
	return &apiFixture{router: r, warehouse: wh, metrics: metrics}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestCreateProductDistributes(t *testing.T) {
	f := newFixture(t, 2, 2)

	rr := f.do(t, http.MethodPost, "/api/products", `{"sku":"W1","name":"Widget","price":"9.99","quantity":150}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decodeBody[map[string]any](t, rr)
	require.Equal(t, "W1", created["sku"])
	dist := created["distribution"].(map[string]any)
	require.Len(t, dist["placed"], 2)
	require.EqualValues(t, 0, dist["remaining"])

	rr = f.do(t, http.MethodGet, "/api/products/W1/locations", "")
	require.Equal(t, http.StatusOK, rr.Code)
	refs := decodeBody[[]locationRef](t, rr)
	require.Equal(t, []locationRef{{Code: "A1", Row: 0, Col: 0}, {Code: "A2", Row: 0, Col: 1}}, refs)

	rr = f.do(t, http.MethodGet, "/api/products/W1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "consistent", decodeBody[map[string]any](t, rr)["status"])
}

func TestCreateProductErrors(t *testing.T) {
	f := newFixture(t, 2, 2)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/products", `{"sku":"W1","name":"Widget","price":"1","quantity":1}`).Code)

	rr := f.do(t, http.MethodPost, "/api/products", `{"sku":"W1","name":"Again","price":"1","quantity":1}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	require.Equal(t, "duplicate_product", decodeBody[map[string]any](t, rr)["type"])

	rr = f.do(t, http.MethodPost, "/api/products", `{"sku":"X1","name":"Bad","price":"1","quantity":-1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/products", `{"sku":"X1","name":"Bad","price":"-2","quantity":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_price", decodeBody[map[string]any](t, rr)["type"])

	rr = f.do(t, http.MethodPost, "/api/products", `{"sku":"X1","name":"Bad","unknown":true}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/products/NOPE", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateProductGeneratesSKU(t *testing.T) {
	f := newFixture(t, 1, 1)

	rr := f.do(t, http.MethodPost, "/api/products", `{"name":"gadget","price":"2.50","quantity":0}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	sku := decodeBody[map[string]any](t, rr)["sku"].(string)
	require.True(t, strings.HasPrefix(sku, "GAD"), sku)
	require.Len(t, sku, 7)
}

func TestStockMovements(t *testing.T) {
	f := newFixture(t, 2, 3)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/products", `{"sku":"W1","name":"Widget","price":"1","quantity":0}`).Code)

	rr := f.do(t, http.MethodPost, "/api/stock/store", `{"sku":"W1","quantity":40,"location":"B3"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	view := decodeBody[warehouse.LocationView](t, rr)
	require.Equal(t, "B3", view.Code)
	require.Equal(t, 40, view.CurrentStock)

	rr = f.do(t, http.MethodPost, "/api/stock/retrieve", `{"sku":"W1","quantity":50,"location":"B3"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/stock/retrieve", `{"sku":"W1","quantity":10,"location":"Z9"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_location", decodeBody[map[string]any](t, rr)["type"])

	rr = f.do(t, http.MethodPost, "/api/stock/retrieve", `{"sku":"W1","quantity":0,"location":"B3"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/stock/retrieve", `{"sku":"W1","quantity":15,"location":"B3"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 25, decodeBody[warehouse.LocationView](t, rr).CurrentStock)

	rr = f.do(t, http.MethodGet, "/api/locations/B3", "")
	require.Equal(t, http.StatusOK, rr.Code)
	view = decodeBody[warehouse.LocationView](t, rr)
	require.Equal(t, []warehouse.LocationItem{{SKU: "W1", Name: "Widget", Quantity: 25}}, view.Items)
}

func TestAssignLocationsManual(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wh, err := warehouse.New(warehouse.Config{Rows: 2, Cols: 2, Capacity: 100, Placement: warehouse.PlacementManual}, nil, warehouse.WithLogger(logger))
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Route("/api", NewHandler(logger, wh, nil).MountRoutes)
	f := &apiFixture{router: r, warehouse: wh}

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/products", `{"sku":"W1","name":"Widget","price":"1","quantity":120}`).Code)

	rr := f.do(t, http.MethodPost, "/api/products/W1/assign", `{"allocations":[{"location":"A1","quantity":100},{"location":"B2","quantity":30}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Empty(t, wh.FindProduct("W1"))

	rr = f.do(t, http.MethodPost, "/api/products/W1/assign", `{"allocations":[{"location":"A1","quantity":100},{"location":"B2","quantity":20}]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, wh.FindProduct("W1"), 2)

	rr = f.do(t, http.MethodPost, "/api/products/W1/assign", `{"allocations":[]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDriftAndReconcile(t *testing.T) {
	f := newFixture(t, 2, 2)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/products", `{"sku":"W1","name":"Widget","price":"1","quantity":50}`).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, "/api/products/W1", `{"quantity":30}`).Code)

	rr := f.do(t, http.MethodGet, "/api/drift", "")
	require.Equal(t, http.StatusOK, rr.Code)
	drifts := decodeBody[[]map[string]any](t, rr)
	require.Len(t, drifts, 1)
	require.EqualValues(t, 20, drifts[0]["excess"])

	rr = f.do(t, http.MethodPost, "/api/reconcile", `{"excess_strategy":"drop"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/reconcile", "")
	require.Equal(t, http.StatusOK, rr.Code)
	report := decodeBody[warehouse.Report](t, rr)
	require.False(t, report.Resolved())
	require.Equal(t, []string{"W1"}, f.warehouse.ValidateQuantities())

	rr = f.do(t, http.MethodPost, "/api/reconcile/W1", `{"excess_strategy":"accept-catalog"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	report = decodeBody[warehouse.Report](t, rr)
	require.True(t, report.Resolved())
	require.Empty(t, f.warehouse.ValidateQuantities())

	rr = f.do(t, http.MethodGet, "/api/drift", "")
	require.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))

	rr = f.do(t, http.MethodPost, "/api/reconcile/NOPE", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteProduct(t *testing.T) {
	f := newFixture(t, 1, 2)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/products", `{"sku":"W1","name":"Widget","price":"1","quantity":10}`).Code)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/products/W1", "").Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/products/W1", "").Code)
	require.Equal(t, "[]", strings.TrimSpace(f.do(t, http.MethodGet, "/api/products", "").Body.String()))
}

func TestMapStatsAndMetrics(t *testing.T) {
	f := newFixture(t, 1, 2)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/products", `{"sku":"W1","name":"Widget","price":"2","quantity":100}`).Code)

	rr := f.do(t, http.MethodGet, "/api/map", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Body.String(), "▓")

	rr = f.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decodeBody[warehouse.Stats](t, rr)
	require.Equal(t, 100, stats.UnitsPlaced)
	require.Equal(t, "200", stats.Value.String())

	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), "stockgrid_units_placed 100")
	require.Contains(t, rec.Body.String(), "stockgrid_utilization_ratio 0.5")
}

func TestLogsWithoutStore(t *testing.T) {
	f := newFixture(t, 1, 1)
	rr := f.do(t, http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
}

func TestDriftRequestsAreSharedPerHandler(t *testing.T) {
	ctx := context.Background()
	first, second := newFixture(t, 1, 1), newFixture(t, 1, 1)
	firstHandler := NewHandler(nil, first.warehouse, nil)
	secondHandler := NewHandler(nil, second.warehouse, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan any, 1)
	go func() {
		val, _, _ := firstHandler.singleflightDrift(ctx, "drift", func(context.Context) (any, error) {
			close(started)
			<-release
			return "first", nil
		})
		done <- val
	}()
	<-started

	val, err, shared := secondHandler.singleflightDrift(ctx, "drift", func(context.Context) (any, error) {
		return "second", nil
	})
	close(release)
	require.NoError(t, err)
	require.Equal(t, "second", val)
	require.False(t, shared)
	require.Equal(t, "first", <-done)
}
