// Package observability exposes Prometheus metrics for the HTTP surface and
// the sale pipeline.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors behind one registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	salesRecorded      prometheus.Counter
	salesVoided        prometheus.Counter
	saleLines          prometheus.Counter
	saleRevenue        prometheus.Counter
	allocationRefusals prometheus.Counter
}

// NewMetrics builds and registers the collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "botica",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "botica",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		salesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botica",
			Name:      "sales_recorded_total",
			Help:      "Sales committed.",
		}),
		salesVoided: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botica",
			Name:      "sales_voided_total",
			Help:      "Sales voided.",
		}),
		saleLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botica",
			Name:      "sale_lines_total",
			Help:      "Sale lines committed.",
		}),
		saleRevenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botica",
			Name:      "sale_revenue_minor_units_total",
			Help:      "Revenue committed, in minor currency units.",
		}),
		allocationRefusals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botica",
			Name:      "sale_allocation_refusals_total",
			Help:      "Sales refused for insufficient eligible stock.",
		}),
	}
	registry.MustRegister(m.httpRequests, m.httpDuration, m.salesRecorded, m.salesVoided, m.saleLines, m.saleRevenue, m.allocationRefusals)
	return m
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chiRoutePattern(r)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func chiRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// SaleRecorded implements the sale metrics port.
func (m *Metrics) SaleRecorded(total int64, lines int) {
	m.salesRecorded.Inc()
	m.saleLines.Add(float64(lines))
	m.saleRevenue.Add(float64(total))
}

// SaleVoided implements the sale metrics port.
func (m *Metrics) SaleVoided() {
	m.salesVoided.Inc()
}

// AllocationRejected implements the sale metrics port.
func (m *Metrics) AllocationRejected() {
	m.allocationRefusals.Inc()
}
