package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// ManifestStops counts persisted manifest stops by status
	ManifestStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "granix_manifest_stops_total", Help: "Manifest stops persisted, by status."},
		[]string{"status"},
	)
	// InvoiceLinks counts linker outcomes (linked, miss)
	InvoiceLinks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "granix_invoice_links_total", Help: "Invoice to delivery stop link attempts, by outcome."},
		[]string{"outcome"},
	)
	// GeocodeRequests counts geocoder lookups by outcome (hit, miss, error, cache)
	GeocodeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "granix_geocode_requests_total", Help: "Geocoder lookups, by outcome."},
		[]string{"outcome"},
	)
	SolverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "granix_solver_duration_seconds", Help: "Route solver wall time in seconds.", Buckets: []float64{.01, .05, .1, .5, 1, 2, 5, 10}},
	)
	SolverIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "granix_solver_iterations", Help: "Guided local search iterations per solve.", Buckets: prometheus.ExponentialBuckets(1, 4, 10)},
	)
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(ManifestStops)
		Registry.MustRegister(InvoiceLinks)
		Registry.MustRegister(GeocodeRequests)
		Registry.MustRegister(SolverDuration)
		Registry.MustRegister(SolverIterations)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
