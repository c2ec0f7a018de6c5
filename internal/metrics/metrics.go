package metrics

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/alexisbeaulieu97/testdeck/internal/engine"
)

// SnapshotFile is the Prometheus text snapshot written into each run directory.
const SnapshotFile = "metrics.prom"

// Collector captures run, step and discovery metrics on a private registry.
type Collector struct {
	registry      *prometheus.Registry
	runsTotal     *prometheus.CounterVec
	stepsTotal    *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stepDuration  *prometheus.HistogramVec
	lastRun       *prometheus.GaugeVec
	scansTotal    prometheus.Counter
	modulesLoaded prometheus.Gauge
	loadFailures  prometheus.Gauge
}

// NewCollector initializes a new metrics registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "testdeck_runs_total", Help: "Total number of completed runs"},
			[]string{"status"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "testdeck_steps_total", Help: "Total number of executed steps"},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "testdeck_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"module", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "testdeck_step_duration_seconds",
				Help:    "Step duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"module", "test_type", "status"},
		),
		lastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "testdeck_last_run_timestamp_seconds", Help: "Finish time of the last run per module"},
			[]string{"module"},
		),
		scansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "testdeck_discovery_scans_total", Help: "Total number of discovery scans"},
		),
		modulesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "testdeck_discovery_modules", Help: "Modules loaded by the last scan"},
		),
		loadFailures: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "testdeck_discovery_failed_loads", Help: "Definition files that failed to load in the last scan"},
		),
	}

	registry.MustRegister(c.runsTotal, c.stepsTotal, c.runDuration, c.stepDuration, c.lastRun,
		c.scansTotal, c.modulesLoaded, c.loadFailures)
	return c
}

// Name implements engine.Sink.
func (c *Collector) Name() string { return "metrics" }

// Complete records a finished run and, when the run has a report directory,
// writes a text snapshot next to it.
func (c *Collector) Complete(_ context.Context, run *engine.Summary) error {
	c.ObserveRun(run)
	if run.ReportDir == "" {
		return nil
	}
	return c.Write(filepath.Join(run.ReportDir, SnapshotFile))
}

// ObserveRun records a run and each of its steps.
func (c *Collector) ObserveRun(run *engine.Summary) {
	status := string(run.Status())
	c.runsTotal.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(run.ModuleID, status).Observe(run.Duration().Seconds())
	if !run.Finished.IsZero() {
		c.lastRun.WithLabelValues(run.ModuleID).Set(float64(run.Finished.Unix()))
	}

	for _, step := range run.Results {
		c.ObserveStep(run.ModuleID, step.TestType, string(step.Status), step.Duration)
	}
}

// ObserveStep records a step outcome.
func (c *Collector) ObserveStep(module, testType, status string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(status).Inc()
	c.stepDuration.WithLabelValues(module, testType, status).Observe(duration.Seconds())
}

// ObserveScan records a discovery scan.
func (c *Collector) ObserveScan(loaded, failed int) {
	c.scansTotal.Inc()
	c.modulesLoaded.Set(float64(loaded))
	c.loadFailures.Set(float64(failed))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Write writes all metrics to a Prometheus text file.
func (c *Collector) Write(path string) error {
	metricFamilies, err := c.registry.Gather()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range metricFamilies {
		if err := enc.Encode(family); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
