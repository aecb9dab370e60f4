package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes metrics for sync runs and the objects
// they copy. Each collector owns its registry so independent instances
// never collide.
type Collector struct {
	registry      *prometheus.Registry
	runsTotal     *prometheus.CounterVec
	runInProgress prometheus.Gauge
	runDuration   prometheus.Histogram
	lastSuccess   prometheus.Gauge
	objectsTotal  *prometheus.CounterVec
	bytesCopied   prometheus.Counter
}

// New creates a new metrics collector
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncd_runs_total",
				Help: "Total number of sync runs by outcome",
			},
			[]string{"status"},
		),
		runInProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "syncd_run_in_progress",
				Help: "1 while a sync run is in flight",
			},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "syncd_run_duration_seconds",
				Help:    "Time taken by a sync run",
				Buckets: prometheus.DefBuckets,
			},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "syncd_last_success_timestamp_seconds",
				Help: "Unix time of the last successful sync run",
			},
		),
		objectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncd_objects_total",
				Help: "Total number of objects processed by the mirror",
			},
			[]string{"status"},
		),
		bytesCopied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "syncd_bytes_copied_total",
				Help: "Total bytes copied to the target",
			},
		),
	}

	c.registry.MustRegister(c.runsTotal)
	c.registry.MustRegister(c.runInProgress)
	c.registry.MustRegister(c.runDuration)
	c.registry.MustRegister(c.lastSuccess)
	c.registry.MustRegister(c.objectsTotal)
	c.registry.MustRegister(c.bytesCopied)

	return c
}

// RunStarted marks a sync run as in flight
func (c *Collector) RunStarted() {
	c.runInProgress.Set(1)
}

// RunSucceeded records a successful run
func (c *Collector) RunSucceeded(duration time.Duration, finished time.Time) {
	c.runInProgress.Set(0)
	c.runsTotal.WithLabelValues("succeeded").Inc()
	c.runDuration.Observe(duration.Seconds())
	c.lastSuccess.Set(float64(finished.Unix()))
}

// RunFailed records a failed run
func (c *Collector) RunFailed(duration time.Duration) {
	c.runInProgress.Set(0)
	c.runsTotal.WithLabelValues("failed").Inc()
	c.runDuration.Observe(duration.Seconds())
}

// IncCopied increments the copied object counter
func (c *Collector) IncCopied(bytes int64) {
	c.objectsTotal.WithLabelValues("copied").Inc()
	c.bytesCopied.Add(float64(bytes))
}

// IncSkipped increments the skipped object counter
func (c *Collector) IncSkipped() {
	c.objectsTotal.WithLabelValues("skipped").Inc()
}

// IncFailed increments the failed object counter
func (c *Collector) IncFailed() {
	c.objectsTotal.WithLabelValues("failed").Inc()
}

// StartServer starts the metrics HTTP server
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
