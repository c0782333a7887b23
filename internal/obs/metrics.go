package obs

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	// SyncEvents counts reconciled sync inputs by source, kind and outcome.
	SyncEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_total",
			Help: "Sync channel inputs by source (push|poll), kind and result (applied|ignored).",
		},
		[]string{"source", "kind", "result"},
	)

	// SyncPolls counts full polls by trigger and outcome.
	SyncPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_polls_total",
			Help: "Full state polls by trigger (start|interval|reconnect) and result.",
		},
		[]string{"trigger", "result"},
	)

	// PushConnections counts push connection attempts by result.
	PushConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_push_connections_total",
			Help: "Push channel dial attempts by result (connected|failed|gave_up).",
		},
		[]string{"result"},
	)

	// RoleCorrections counts cached roles overwritten by the token-derived role.
	RoleCorrections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_role_corrections_total",
		Help: "Cached roles corrected to match the bearer token.",
	})

	// RegistrationTransitions counts registration state machine transitions.
	RegistrationTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_transitions_total",
			Help: "Registration state machine transitions by target step.",
		},
		[]string{"step"},
	)

	// ModerationActions counts admin moderation calls by action and result.
	ModerationActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_actions_total",
			Help: "Moderation actions by action and result (applied|noop|failed).",
		},
		[]string{"action", "result"},
	)

	initOnce sync.Once
)

// Init registers all metrics in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			SyncEvents, SyncPolls, PushConnections, RoleCorrections,
			RegistrationTransitions, ModerationActions,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count, latency and in-flight gauge for next.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers in known routes so metric label
// cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "admin" && parts[2] == "ngos":
		return "/api/admin/ngos/:id"
	case len(parts) == 5 && parts[0] == "api" && parts[1] == "admin" && parts[2] == "ngos":
		return "/api/admin/ngos/:id/" + parts[4]
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "contributions" && parts[3] == "status":
		return "/api/contributions/:id/status"
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "notifications" && parts[3] == "read":
		return "/api/notifications/:id/read"
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the instrumentation.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
