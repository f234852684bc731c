// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of collectors the server maintains. Collectors are
// registered on an instance registry, not the process-global one, so
// building several Metrics in one process is safe.
type Metrics struct {
	registry *prometheus.Registry

	// KLines counts candlesticks ingested per stock exchange.
	KLines *prometheus.CounterVec

	// DetectEvents counts detection events produced by the detector.
	DetectEvents prometheus.Counter

	// HTTPRequests counts handled requests per route and status code.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration tracks request handling time per route.
	HTTPDuration *prometheus.HistogramVec
}

// New builds and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		KLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradingcat_klines_total",
				Help: "Total number of candlesticks ingested per stock exchange",
			},
			[]string{"stock_exchange"},
		),

		DetectEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradingcat_detect_events_total",
				Help: "Total number of detection events produced by the detector",
			},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradingcat_http_requests_total",
				Help: "Total number of handled HTTP requests per route and status code",
			},
			[]string{"route", "code"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradingcat_http_request_duration_seconds",
				Help:    "HTTP request handling time per route",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"route"},
		),
	}

	m.registry.MustRegister(
		m.KLines,
		m.DetectEvents,
		m.HTTPRequests,
		m.HTTPDuration,
	)

	return m
}

// ObserveSessions registers a gauge that reports the number of live
// sessions. The callback runs at scrape time.
func (m *Metrics) ObserveSessions(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tradingcat_sessions_online",
			Help: "Number of live sessions",
		},
		func() float64 { return float64(count()) },
	))
}

// Handler serves the registered collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
