package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// InventorySnapshot adalah ringkasan gudang yang diekspos sebagai gauge.
type InventorySnapshot struct {
	Products    int
	UnitsPlaced int
	Capacity    int
	Drifted     int
}

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	products        prometheus.Gauge
	unitsPlaced     prometheus.Gauge
	utilization     prometheus.Gauge
	drifted         prometheus.Gauge
}

// NewMetrics menginisialisasi registry, metrik HTTP dan gauge gudang.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockgrid_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockgrid_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	products := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockgrid_products",
		Help: "Jumlah produk terdaftar.",
	})
	placed := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockgrid_units_placed",
		Help: "Jumlah unit yang tersimpan di lokasi.",
	})
	utilization := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockgrid_utilization_ratio",
		Help: "Rasio kapasitas gudang yang terpakai.",
	})
	drifted := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockgrid_drifted_products",
		Help: "Jumlah produk yang totalnya tidak cocok dengan isi lokasi.",
	})
	registry.MustRegister(requests, duration, products, placed, utilization, drifted)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		products:        products,
		unitsPlaced:     placed,
		utilization:     utilization,
		drifted:         drifted,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveInventory memperbarui gauge gudang.
func (m *Metrics) ObserveInventory(s InventorySnapshot) {
	if m == nil {
		return
	}
	m.products.Set(float64(s.Products))
	m.unitsPlaced.Set(float64(s.UnitsPlaced))
	m.drifted.Set(float64(s.Drifted))
	if s.Capacity > 0 {
		m.utilization.Set(float64(s.UnitsPlaced) / float64(s.Capacity))
	} else {
		m.utilization.Set(0)
	}
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
