package api

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edgesync.shamra.dev/cache"
	"edgesync.shamra.dev/stream"
)

// Metrics holds the Prometheus instruments. The stream depth gauges are
// optional; they are refreshed on scrape only when analytics is enabled.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	webhookOutcomes *prometheus.CounterVec
	syncPulls       *prometheus.CounterVec
	refreshRuns     prometheus.Counter
	streamDepth     *prometheus.GaugeVec

	streams   *stream.Manager
	analytics bool
}

// NewMetrics creates and registers the instrument set.
func NewMetrics(streams *stream.Manager, analytics bool) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgesync_http_requests_total",
			Help: "HTTP requests by method, path, and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edgesync_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		webhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgesync_webhook_outcomes_total",
			Help: "Webhook change-detection outcomes by family.",
		}, []string{"family", "outcome"}),
		syncPulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgesync_sync_pulls_total",
			Help: "Delta-sync pulls by family.",
		}, []string{"family"}),
		refreshRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgesync_refresh_runs_total",
			Help: "Completed full-refresh runs.",
		}),
		streamDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "edgesync_stream_depth",
			Help: "Entries per change stream.",
		}, []string{"family"}),
		streams:   streams,
		analytics: analytics,
	}

	registry.MustRegister(m.httpRequests, m.httpDuration, m.webhookOutcomes, m.syncPulls, m.refreshRuns)
	if analytics {
		registry.MustRegister(m.streamDepth)
	}
	return m
}

// Middleware records per-request counters and latency.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			m.httpRequests.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the scrape endpoint. With analytics enabled each scrape
// refreshes the stream depth gauges first.
func (m *Metrics) Handler() echo.HandlerFunc {
	h := echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return func(c echo.Context) error {
		if m.analytics && m.streams != nil {
			m.collectStreamDepths(c.Request().Context())
		}
		return h(c)
	}
}

func (m *Metrics) collectStreamDepths(ctx context.Context) {
	for _, f := range cache.Families {
		n, err := m.streams.Len(ctx, f)
		if err != nil {
			continue
		}
		m.streamDepth.WithLabelValues(string(f)).Set(float64(n))
	}
}

// ObserveWebhook records a change-detection outcome.
func (m *Metrics) ObserveWebhook(family, outcome string) {
	m.webhookOutcomes.WithLabelValues(family, outcome).Inc()
}

// ObserveSyncPull records a delta pull.
func (m *Metrics) ObserveSyncPull(family string) {
	m.syncPulls.WithLabelValues(family).Inc()
}

// ObserveRefresh records a completed refresh run.
func (m *Metrics) ObserveRefresh() {
	m.refreshRuns.Inc()
}
