// Package metrics exposes Prometheus collectors for the bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wxbridge_sessions_total",
			Help: "Number of live tenant sessions by state",
		},
		[]string{"state"},
	)

	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wxbridge_logins_total",
			Help: "Login flow outcomes by result",
		},
		[]string{"result"},
	)

	RecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wxbridge_recoveries_total",
			Help: "Startup recovery outcomes by result",
		},
		[]string{"result"},
	)

	// Relay metrics
	MessagesRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wxbridge_messages_relayed_total",
			Help: "Messages relayed by direction and kind",
		},
		[]string{"direction", "kind"},
	)

	MessagesFilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wxbridge_messages_filtered_total",
			Help: "Inbound messages dropped by filter reason",
		},
		[]string{"reason"},
	)

	SendRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wxbridge_send_retries_total",
			Help: "Failed media send attempts that were retried",
		},
	)

	SendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wxbridge_send_failures_total",
			Help: "Media sends that failed after every attempt",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wxbridge_http_requests_total",
			Help: "HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wxbridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(LoginsTotal)
	prometheus.MustRegister(RecoveriesTotal)
	prometheus.MustRegister(MessagesRelayedTotal)
	prometheus.MustRegister(MessagesFilteredTotal)
	prometheus.MustRegister(SendRetriesTotal)
	prometheus.MustRegister(SendFailuresTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDurationVec records the elapsed seconds on a labelled histogram.
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
