// Package metrics exposes run and API instrumentation in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trafficlog/models"
)

const namespace = "trafficlog"

// Metrics owns an independent registry so several instances never collide.
type Metrics struct {
	registry *prometheus.Registry

	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	lastRun      prometheus.Gauge
	tracked      prometheus.Gauge
	appended     prometheus.Counter
	failed       prometheus.Gauge
	partial      prometheus.Gauge
	requests     *prometheus.CounterVec
	requestTimes *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Collection runs by outcome.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a collection run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run.",
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_repositories",
			Help:      "Repositories tracked by the last run.",
		}),
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_rows_appended_total",
			Help:      "History rows appended across runs.",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failed_repositories",
			Help:      "Repositories that failed in the last run.",
		}),
		partial: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partial_coverage_repositories",
			Help:      "Repositories with a history gap in the last run.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
		requestTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.runs, m.runDuration, m.lastRun, m.tracked, m.appended,
		m.failed, m.partial, m.requests, m.requestTimes,
	)
	return m
}

// ObserveRun records the outcome of one run. report may be nil when the run
// failed before reconciling.
func (m *Metrics) ObserveRun(report *models.RunReport, took time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Observe(took.Seconds())

	if report == nil {
		return
	}
	m.lastRun.SetToCurrentTime()
	m.tracked.Set(float64(len(report.TrackedEntities)))
	m.appended.Add(float64(report.TotalAppended()))
	m.failed.Set(float64(len(report.FailedEntities)))
	m.partial.Set(float64(len(report.PartialCoverage)))
}

// Middleware counts API requests by matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestTimes.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current values in the node exporter textfile
// collector format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
