// Package metrics exposes queue, gate, error log and translation cache
// activity as Prometheus metrics on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MimeLyc/fetchbot/internal/errlog"
	"github.com/MimeLyc/fetchbot/internal/jobs"
)

// Collector implements jobs.Observer and offers hooks for the update gate,
// the updater, the error log and the translator.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted prometheus.Counter
	jobsStarted   prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobsDiscarded prometheus.Counter
	jobLatency    prometheus.Histogram
	jobsPending   prometheus.Gauge
	jobsRunning   prometheus.Gauge

	updating        prometheus.Gauge
	updateRuns      *prometheus.CounterVec
	updateDuration  prometheus.Gauge
	errorsRecorded  prometheus.Counter
	translationHits *prometheus.CounterVec
}

var _ jobs.Observer = (*Collector)(nil)

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetchbot_jobs_submitted_total",
			Help: "Total number of download jobs submitted",
		}),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetchbot_jobs_started_total",
			Help: "Total number of download jobs started",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetchbot_jobs_finished_total",
			Help: "Total number of download jobs finished, by result",
		}, []string{"result"}),
		jobsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetchbot_jobs_discarded_total",
			Help: "Total number of pending jobs dropped by cancellation",
		}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fetchbot_job_duration_seconds",
			Help:    "Time from job start to finish",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetchbot_jobs_pending",
			Help: "Current number of pending jobs",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetchbot_jobs_running",
			Help: "Current number of running jobs",
		}),
		updating: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetchbot_update_in_progress",
			Help: "1 while maintenance holds the update gate",
		}),
		updateRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetchbot_update_runs_total",
			Help: "Total number of maintenance runs, by result",
		}, []string{"result"}),
		updateDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetchbot_update_last_duration_seconds",
			Help: "Duration of the most recent maintenance run",
		}),
		errorsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetchbot_errors_recorded_total",
			Help: "Total number of entries written to the error log",
		}),
		translationHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetchbot_translation_lookups_total",
			Help: "Translation cache lookups, by outcome",
		}, []string{"outcome"}),
	}

	c.registry.MustRegister(
		c.jobsSubmitted,
		c.jobsStarted,
		c.jobsFinished,
		c.jobsDiscarded,
		c.jobLatency,
		c.jobsPending,
		c.jobsRunning,
		c.updating,
		c.updateRuns,
		c.updateDuration,
		c.errorsRecorded,
		c.translationHits,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) TaskSubmitted(jobs.Task) {
	c.jobsSubmitted.Inc()
}

func (c *Collector) TaskStarted(jobs.Task) {
	c.jobsStarted.Inc()
}

func (c *Collector) TaskFinished(_ jobs.Task, err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.jobsFinished.WithLabelValues(result).Inc()
	c.jobLatency.Observe(elapsed.Seconds())
}

func (c *Collector) TasksDiscarded(n int) {
	c.jobsDiscarded.Add(float64(n))
}

// UpdateQueueStats sets the pending and running gauges.
func (c *Collector) UpdateQueueStats(stats jobs.Stats) {
	c.jobsPending.Set(float64(stats.Pending))
	c.jobsRunning.Set(float64(stats.Running))
}

// GateChanged is a hook for updater.WithGateHook.
func (c *Collector) GateChanged(updating bool) {
	if updating {
		c.updating.Set(1)
		return
	}
	c.updating.Set(0)
}

// UpdateFinished is a hook for updater.WithResultHandler.
func (c *Collector) UpdateFinished(err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.updateRuns.WithLabelValues(result).Inc()
	c.updateDuration.Set(elapsed.Seconds())
}

// ErrorRecorded is a hook for errlog.WithObserver.
func (c *Collector) ErrorRecorded(errlog.Entry) {
	c.errorsRecorded.Inc()
}

// TranslationLookup is a hook for translation.WithLookupObserver.
func (c *Collector) TranslationLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	c.translationHits.WithLabelValues(outcome).Inc()
}
