package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/systemstart/shipyard/pkg/processing"
)

const namespace = "shipyard"

// Recorder exports job run outcomes as Prometheus metrics. It implements
// processing.Observer.
type Recorder struct {
	registry *prometheus.Registry

	JobRuns      *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	StepFailures *prometheus.CounterVec
}

var _ processing.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Total number of triggered job runs by final state",
		}, []string{"job", "state"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of job runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"job"}),
		StepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Total number of failed job runs by error kind",
		}, []string{"kind"}),
	}

	reg.MustRegister(r.JobRuns, r.JobDuration, r.StepFailures)
	return r
}

// ObserveJob records a finished run.
func (r *Recorder) ObserveJob(run *processing.JobRun) {
	r.JobRuns.WithLabelValues(run.Job, string(run.State)).Inc()
	r.JobDuration.WithLabelValues(run.Job).Observe(run.Duration().Seconds())
	if run.State == processing.StateFailed {
		kind := string(run.ErrorKind)
		if kind == "" {
			kind = "Unknown"
		}
		r.StepFailures.WithLabelValues(kind).Inc()
	}
}

// Registry returns the registry the metrics are registered with.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
