package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Business metrics
	GenerationsTotal *prometheus.CounterVec
	QuotaDenials     *prometheus.CounterVec
	UpstreamFailures *prometheus.CounterVec
	UploadsTotal     *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		GenerationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generations_total",
				Help: "Total number of successful generations by creation type",
			},
			[]string{"type"},
		),
		QuotaDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_denials_total",
				Help: "Total number of requests denied by the quota policy",
			},
			[]string{"class"}, // free-tier-limited, premium-only
		),
		UpstreamFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_failures_total",
				Help: "Total number of failed outbound provider calls",
			},
			[]string{"provider"}, // llm, clipdrop, media
		),
		UploadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_uploads_total",
				Help: "Total number of media store uploads",
			},
			[]string{"kind"}, // generated, background-removed, original
		),
	}
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			path := c.Path() // route pattern, not the raw URL

			err := next(c)

			status := c.Response().Status
			duration := time.Since(start).Seconds()

			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, strconv.Itoa(status)).Observe(duration)

			return err
		}
	}
}

// RecordGeneration increments the successful generation counter
func (m *Metrics) RecordGeneration(creationType string) {
	m.GenerationsTotal.WithLabelValues(creationType).Inc()
}

// RecordQuotaDenial increments the quota denial counter
func (m *Metrics) RecordQuotaDenial(class string) {
	m.QuotaDenials.WithLabelValues(class).Inc()
}

// RecordUpstreamFailure increments the upstream failure counter
func (m *Metrics) RecordUpstreamFailure(provider string) {
	m.UpstreamFailures.WithLabelValues(provider).Inc()
}

// RecordUpload increments the media upload counter
func (m *Metrics) RecordUpload(kind string) {
	m.UploadsTotal.WithLabelValues(kind).Inc()
}
