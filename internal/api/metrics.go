package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's prometheus collectors. Each Server owns its
// own registry so tests can run servers side by side.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration prometheus.Histogram
	sessions        prometheus.Gauge
	sessionsFailed  prometheus.Counter
	rowsPushed      prometheus.Counter
	notifications   *prometheus.CounterVec
	mutations       *prometheus.CounterVec
}

// NewMetrics creates a registry with the server's collectors and the
// standard process and Go runtime collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by status class.",
		}, []string{"class"}),
		requestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gridsync",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridsync",
			Name:      "sessions_active",
			Help:      "Open stream sessions.",
		}),
		sessionsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsync",
			Name:      "sessions_failed_total",
			Help:      "Sessions ended by a fatal error.",
		}),
		rowsPushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsync",
			Name:      "rows_pushed_total",
			Help:      "Row payloads sent to clients.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsync",
			Name:      "notifications_total",
			Help:      "Frames sent to clients by type.",
		}, []string{"type"}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsync",
			Name:      "mutations_total",
			Help:      "Dataset mutations accepted over the API by kind.",
		}, []string{"kind"}),
	}
}

// RecordRequest counts one finished request.
func (m *Metrics) RecordRequest(status int, dur time.Duration) {
	m.requests.WithLabelValues(strconv.Itoa(status/100) + "xx").Inc()
	m.requestDuration.Observe(dur.Seconds())
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() { m.sessions.Inc() }

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() { m.sessions.Dec() }

// SessionFailed counts a session ended by a fatal error.
func (m *Metrics) SessionFailed() { m.sessionsFailed.Inc() }

// RecordFrame counts one outbound frame and the rows it carries.
func (m *Metrics) RecordFrame(frameType string, rows int) {
	m.notifications.WithLabelValues(frameType).Inc()
	if rows > 0 {
		m.rowsPushed.Add(float64(rows))
	}
}

// RecordMutation counts one accepted dataset mutation.
func (m *Metrics) RecordMutation(kind string) {
	m.mutations.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
