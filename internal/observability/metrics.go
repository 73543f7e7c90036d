package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API, the dispatcher and
// the correlation paths.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	smsSentTotal           prometheus.Counter
	smsFailedTotal         *prometheus.CounterVec
	gatewayCallsTotal      *prometheus.CounterVec
	gatewayCallDuration    prometheus.Histogram
	correlationEventsTotal *prometheus.CounterVec
	dispatchInflight       prometheus.Gauge
	retriesTotal           prometheus.Counter
	broadcastsTotal        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sms_dispatch",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sms_dispatch",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		smsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sms_dispatch",
				Name:      "sms_sent_total",
				Help:      "Total number of SMS accepted by the gateway.",
			},
		),
		smsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sms_dispatch",
				Name:      "sms_failed_total",
				Help:      "Total number of SMS that ended in failed state, by reason.",
			},
			[]string{"reason"},
		),
		gatewayCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sms_dispatch",
				Name:      "gateway_calls_total",
				Help:      "Total number of bulk gateway calls by result.",
			},
			[]string{"result"},
		),
		gatewayCallDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sms_dispatch",
				Name:      "gateway_call_duration_seconds",
				Help:      "Bulk gateway call duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		correlationEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sms_dispatch",
				Name:      "correlation_events_total",
				Help:      "Total number of correlation events by source and outcome.",
			},
			[]string{"source", "outcome"},
		),
		dispatchInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sms_dispatch",
				Name:      "dispatch_inflight",
				Help:      "Current number of notification intents being dispatched.",
			},
		),
		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sms_dispatch",
				Name:      "sms_retries_total",
				Help:      "Total number of manual SMS retries initiated.",
			},
		),
		broadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sms_dispatch",
				Name:      "status_broadcasts_total",
				Help:      "Total number of status updates published to subscribers.",
			},
			[]string{"event"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.smsSentTotal,
		m.smsFailedTotal,
		m.gatewayCallsTotal,
		m.gatewayCallDuration,
		m.correlationEventsTotal,
		m.dispatchInflight,
		m.retriesTotal,
		m.broadcastsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncSmsSent() {
	if m == nil {
		return
	}
	m.smsSentTotal.Inc()
}

func (m *Metrics) IncSmsFailed(reason string) {
	if m == nil {
		return
	}
	m.smsFailedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncGatewayCall(result string) {
	if m == nil {
		return
	}
	m.gatewayCallsTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveGatewayCallDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCallDuration.Observe(d.Seconds())
}

func (m *Metrics) IncCorrelation(source, outcome string) {
	if m == nil {
		return
	}
	m.correlationEventsTotal.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Inc()
}

func (m *Metrics) DecDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Dec()
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

func (m *Metrics) IncBroadcast(event string) {
	if m == nil {
		return
	}
	m.broadcastsTotal.WithLabelValues(normalizeLabel(event)).Inc()
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		status := statusFromResult(c, err)

		m.httpRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())

		return err
	}
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
