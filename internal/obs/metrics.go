package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by the API server.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hub_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Server lifecycle metrics.
var (
	SpawnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_server_spawns_total",
			Help: "Server spawn attempts by outcome.",
		},
		[]string{"outcome"},
	)

	SpawnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hub_server_spawn_duration_seconds",
		Help:    "Time from spawn request to ready.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	ActiveServers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_servers",
		Help: "Servers currently in a ready state.",
	})
)

// Proxy reconciliation metrics.
var (
	RouteOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_proxy_route_operations_total",
			Help: "Proxy route operations by kind and outcome.",
		},
		[]string{"op", "outcome"},
	)

	RouteSyncsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_proxy_syncs_total",
		Help: "Full proxy route table reconciliations.",
	})

	RouteSyncErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_proxy_sync_errors_total",
		Help: "Failed proxy route table reconciliations.",
	})
)

var initOnce sync.Once

// Init registers all hub metrics with the default registry. Safe to
// call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			SpawnsTotal, SpawnDuration, ActiveServers,
			RouteOpsTotal, RouteSyncsTotal, RouteSyncErrors,
		)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps a handler with request count, latency and in-flight tracking.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)
		path := normalizePath(r.URL.Path)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
