package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Fan-out metrics
	FanoutsTotal       *prometheus.CounterVec
	FanoutDuration     prometheus.Histogram
	FanoutRecipients   prometheus.Histogram
	NotificationsTotal *prometheus.CounterVec

	// Push channel metrics
	PushDeliveriesTotal *prometheus.CounterVec
	PushConnectionsOpen prometheus.Gauge

	// Grant metrics
	GrantsCreatedTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castellan_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "castellan_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		FanoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castellan_fanouts_total",
				Help: "Total number of notification fan-outs by target kind and outcome",
			},
			[]string{"target", "outcome"},
		),
		FanoutDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "castellan_fanout_duration_seconds",
				Help:    "Duration of a hierarchy fan-out in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		FanoutRecipients: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "castellan_fanout_recipients",
				Help:    "Number of recipients reached by a single fan-out",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castellan_notifications_total",
				Help: "Total number of notification rows written",
			},
			[]string{"origin"},
		),
		PushDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castellan_push_deliveries_total",
				Help: "Total number of live push attempts by outcome",
			},
			[]string{"outcome"},
		),
		PushConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "castellan_push_connections_open",
				Help: "Number of currently open push connections",
			},
		),
		GrantsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castellan_grants_created_total",
				Help: "Total number of grants created by target kind",
			},
			[]string{"target"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "castellan_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "castellan_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.FanoutsTotal,
		m.FanoutDuration,
		m.FanoutRecipients,
		m.NotificationsTotal,
		m.PushDeliveriesTotal,
		m.PushConnectionsOpen,
		m.GrantsCreatedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler for the /metrics endpoint
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics.
// The path label should be the route template, not the raw URL, to
// keep cardinality bounded.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
