package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stockgrid/internal/observability"
	"github.com/odyssey-erp/stockgrid/internal/platform/httpx"
	"github.com/odyssey-erp/stockgrid/internal/warehouse"
)

// Handler exposes the warehouse over a JSON API.
type Handler struct {
	logger    *slog.Logger
	warehouse *warehouse.Warehouse
	metrics   *observability.Metrics
	validator *validator.Validate
	drifts    singleflight.Group
}

// NewHandler constructs the API handler. metrics may be nil.
func NewHandler(logger *slog.Logger, wh *warehouse.Warehouse, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{logger: logger, warehouse: wh, metrics: metrics, validator: validator.New()}
	h.observe()
	return h
}

// MountRoutes registers API routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Post("/", h.createProduct)
		r.Route("/{sku}", func(r chi.Router) {
			r.Get("/", h.getProduct)
			r.Patch("/", h.updateProduct)
			r.Delete("/", h.deleteProduct)
			r.Get("/locations", h.findProduct)
			r.Post("/assign", h.assignLocations)
		})
	})
	r.Post("/stock/store", h.storeStock)
	r.Post("/stock/retrieve", h.retrieveStock)
	r.Get("/locations/{code}", h.getLocation)
	r.Get("/map", h.renderMap)
	r.Get("/stats", h.stats)
	r.Get("/drift", h.drift)
	r.Post("/reconcile", h.reconcileAll)
	r.Post("/reconcile/{sku}", h.reconcileProduct)
	r.Get("/logs", h.logs)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.warehouse.Products())
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	sku := strings.TrimSpace(req.SKU)
	if sku == "" {
		generated, err := h.warehouse.GenerateSKU(req.Name)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		sku = generated
	}
	product, err := warehouse.NewProduct(req.Name, sku, req.Price, req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dist, err := h.warehouse.AddProduct(r.Context(), product)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.observe()
	httpx.JSON(w, http.StatusCreated, productResponse{Product: product, Distribution: &dist})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	product, err := h.warehouse.Product(sku)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status, _ := h.warehouse.Status(sku)
	httpx.JSON(w, http.StatusOK, productResponse{Product: product, Locations: h.warehouse.FindProduct(sku), Status: status})
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req updateProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	product, err := h.warehouse.UpdateProduct(r.Context(), chi.URLParam(r, "sku"), warehouse.ProductUpdate{
		Name:     req.Name,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.observe()
	httpx.JSON(w, http.StatusOK, productResponse{Product: product})
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.warehouse.DeleteProduct(r.Context(), chi.URLParam(r, "sku")); err != nil {
		h.fail(w, r, err)
		return
	}
	h.observe()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) findProduct(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	if _, err := h.warehouse.Product(sku); err != nil {
		h.fail(w, r, err)
		return
	}
	coords := h.warehouse.FindProduct(sku)
	out := make([]locationRef, 0, len(coords))
	for _, c := range coords {
		out = append(out, locationRef{Code: c.Code(), Row: c.Row, Col: c.Col})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) assignLocations(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !h.decode(w, r, &req) {
		return
	}
	allocations := make([]warehouse.Allocation, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		coord, err := warehouse.ParseLocationCode(a.Location)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		allocations = append(allocations, warehouse.Allocation{Coord: coord, Quantity: a.Quantity})
	}
	dist, err := h.warehouse.AssignLocations(r.Context(), chi.URLParam(r, "sku"), allocations)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.observe()
	httpx.JSON(w, http.StatusOK, dist)
}

func (h *Handler) storeStock(w http.ResponseWriter, r *http.Request) {
	h.moveStock(w, r, h.warehouse.StoreProduct)
}

func (h *Handler) retrieveStock(w http.ResponseWriter, r *http.Request) {
	h.moveStock(w, r, h.warehouse.RetrieveProduct)
}

func (h *Handler) moveStock(w http.ResponseWriter, r *http.Request, move func(context.Context, string, int, int, int) error) {
	var req stockRequest
	if !h.decode(w, r, &req) {
		return
	}
	coord, err := warehouse.ParseLocationCode(req.Location)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := move(r.Context(), req.SKU, req.Quantity, coord.Row, coord.Col); err != nil {
		h.fail(w, r, err)
		return
	}
	h.observe()
	view, err := h.warehouse.Location(coord.Row, coord.Col)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) getLocation(w http.ResponseWriter, r *http.Request) {
	coord, err := warehouse.ParseLocationCode(chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.warehouse.Location(coord.Row, coord.Col)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) renderMap(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.warehouse.Map()))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.warehouse.Stats())
}

func (h *Handler) drift(w http.ResponseWriter, r *http.Request) {
	result, err, _ := h.singleflightDrift(r.Context(), "drift", func(context.Context) (any, error) {
		drifts := h.warehouse.Drifts()
		out := make([]driftResponse, 0, len(drifts))
		for _, d := range drifts {
			out = append(out, newDriftResponse(d))
		}
		return out, nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) reconcileAll(w http.ResponseWriter, r *http.Request) {
	resolver, ok := h.resolver(w, r)
	if !ok {
		return
	}
	report := h.warehouse.Reconcile(r.Context(), resolver)
	h.observe()
	h.logger.Info("reconciliation finished", slog.String("run_id", report.RunID.String()), slog.Int("products", len(report.Outcomes)), slog.Bool("resolved", report.Resolved()))
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) reconcileProduct(w http.ResponseWriter, r *http.Request) {
	resolver, ok := h.resolver(w, r)
	if !ok {
		return
	}
	report, err := h.warehouse.ReconcileProduct(r.Context(), chi.URLParam(r, "sku"), resolver)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.observe()
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) resolver(w http.ResponseWriter, r *http.Request) (warehouse.ExcessResolver, bool) {
	var req reconcileRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return nil, false
		}
	}
	strategy, ok := warehouse.ParseStrategy(req.ExcessStrategy)
	if !ok {
		return nil, true
	}
	return warehouse.FixedStrategy(strategy), true
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.warehouse.Logs(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]logResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, logResponse{Timestamp: e.At.Format(time.DateTime), User: e.User, Action: e.Action})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(w, r, target); err != nil {
		httpx.TypedProblem(w, http.StatusBadRequest, "validation", "Bad Request", err.Error())
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			detail := fmt.Sprintf("%s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
			httpx.TypedProblem(w, http.StatusBadRequest, "validation", "Bad Request", detail)
			return false
		}
		httpx.TypedProblem(w, http.StatusBadRequest, "validation", "Bad Request", err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	category := warehouse.Category(err)
	status := statusFor(category)
	if status >= http.StatusInternalServerError {
		h.logger.Error("warehouse request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, httpx.WithStatus(status, category, err))
}

func statusFor(category string) int {
	switch category {
	case "unknown_product":
		return http.StatusNotFound
	case "duplicate_product":
		return http.StatusConflict
	case "invalid_location", "invalid_quantity", "invalid_price", "invalid_product", "negative_quantity":
		return http.StatusBadRequest
	case "capacity_exceeded", "insufficient_quantity":
		return http.StatusUnprocessableEntity
	case "sku_exhausted":
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) observe() {
	if h.metrics == nil {
		return
	}
	s := h.warehouse.Stats()
	h.metrics.ObserveInventory(observability.InventorySnapshot{
		Products:    s.Products,
		UnitsPlaced: s.UnitsPlaced,
		Capacity:    s.Capacity,
		Drifted:     s.Drifted,
	})
}
