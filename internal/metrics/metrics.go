package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dialer's Prometheus collectors on a private registry.
// All methods are safe on a nil *Metrics so components can run without it.
type Metrics struct {
	// Sessions
	SessionsActive       prometheus.Gauge
	SessionsStartedTotal prometheus.Counter
	SessionsStoppedTotal *prometheus.CounterVec

	// Calls
	ContactsClaimedTotal prometheus.Counter
	CallsPlacedTotal     *prometheus.CounterVec
	DispositionsTotal    *prometheus.CounterVec
	ProviderEventsTotal  *prometheus.CounterVec
	ProviderLatency      *prometheus.HistogramVec
	SIDIndexSize         prometheus.Gauge

	// API
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crm_dialer_sessions_active",
			Help: "Dialer sessions currently active",
		}),
		SessionsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crm_dialer_sessions_started_total",
			Help: "Dialer sessions started",
		}),
		SessionsStoppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_dialer_sessions_stopped_total",
			Help: "Dialer sessions stopped, by reason",
		}, []string{"reason"}),
		ContactsClaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crm_dialer_contacts_claimed_total",
			Help: "Campaign contacts moved to dialing",
		}),
		CallsPlacedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_dialer_calls_placed_total",
			Help: "Outbound call attempts, by result",
		}, []string{"result"}),
		DispositionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_dialer_dispositions_total",
			Help: "Call dispositions applied, by contact outcome and disposition",
		}, []string{"outcome", "disposition"}),
		ProviderEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_dialer_provider_events_total",
			Help: "Provider call status events received",
		}, []string{"status"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crm_dialer_provider_request_duration_seconds",
			Help:    "Telephony provider request latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		SIDIndexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crm_dialer_sid_index_entries",
			Help: "Provider SIDs currently tracked for correlation",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "path", "status"}),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crm_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		registry: reg,
	}

	reg.MustRegister(
		m.SessionsActive,
		m.SessionsStartedTotal,
		m.SessionsStoppedTotal,
		m.ContactsClaimedTotal,
		m.CallsPlacedTotal,
		m.DispositionsTotal,
		m.ProviderEventsTotal,
		m.ProviderLatency,
		m.SIDIndexSize,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStartedTotal.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionStopped(reason string) {
	if m == nil {
		return
	}
	m.SessionsStoppedTotal.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
}

func (m *Metrics) ContactClaimed() {
	if m == nil {
		return
	}
	m.ContactsClaimedTotal.Inc()
}

// CallPlaced records an attempt; result is "ok", "provider_error", "lines_busy" or "store_error".
func (m *Metrics) CallPlaced(result string) {
	if m == nil {
		return
	}
	m.CallsPlacedTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Disposition(outcome, disposition string) {
	if m == nil {
		return
	}
	m.DispositionsTotal.WithLabelValues(outcome, disposition).Inc()
}

func (m *Metrics) ProviderEvent(status string) {
	if m == nil {
		return
	}
	m.ProviderEventsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveProvider(op string, started time.Time) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) SetSIDIndexSize(n int) {
	if m == nil {
		return
	}
	m.SIDIndexSize.Set(float64(n))
}

// GinMiddleware counts requests by route template so ids do not explode cardinality.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDurationSeconds.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
