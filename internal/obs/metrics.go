package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every handler.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Workflow metrics. Outcome is "ok" or the short error class.
var (
	workflowTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Lifecycle transitions by entity, action and outcome.",
		},
		[]string{"entity", "action", "outcome"},
	)

	notificationsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_notifications_total",
			Help: "Notification creations by result.",
		},
		[]string{"result"},
	)

	degradedWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_degraded_writes_total",
			Help: "Best-effort secondary writes that failed, by operation.",
		},
		[]string{"op"},
	)
)

// Init registers every metric with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		workflowTransitions, notificationsDispatched, degradedWrites,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTransition records one lifecycle transition.
func ObserveTransition(entity, action, outcome string) {
	workflowTransitions.WithLabelValues(entity, action, outcome).Inc()
}

// ObserveNotification records a notification create attempt.
func ObserveNotification(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	notificationsDispatched.WithLabelValues(result).Inc()
}

// ObserveDegradedWrite records a swallowed secondary-write failure.
func ObserveDegradedWrite(op string) {
	degradedWrites.WithLabelValues(op).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses record identifiers in URLs so metric label
// cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	// /v1/<collection>/<id>[/<verb>]: ids are ULIDs, replace them.
	if len(parts) >= 4 && parts[1] == "v1" && looksLikeID(parts[3]) {
		parts[3] = ":id"
		return strings.Join(parts, "/")
	}
	return p
}

func looksLikeID(s string) bool {
	if len(s) != 26 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer so http.ResponseController can reach
// flush and deadline control through the instrumented handler.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
