// Package metrics records operational metrics for an import run without
// tying the pipeline to a specific metrics system.
//
// A Recorder wraps a Backend (Prometheus Pushgateway, DogStatsD, or the
// default no-op) and stamps every sample with the job name. The coordinator
// receives a Recorder explicitly; there is no package-level backend.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Metric names shared by all backends.
const (
	StepTotal      = "etl_step_total"
	StepDuration   = "etl_step_duration_seconds"
	RecordsTotal   = "etl_records_total"
	QueueDepth     = "etl_queue_depth"
	DefaultJobName = "epc_import"
)

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// SetGauge records the current value of a gauge.
	SetGauge(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) SetGauge(string, float64, Labels)         {}
func (nopBackend) Flush() error                             { return nil }

// Recorder emits pipeline metrics for one job.
type Recorder struct {
	job     string
	backend Backend
}

// New returns a Recorder for job. A nil backend records nothing.
func New(job string, b Backend) *Recorder {
	if b == nil {
		b = nopBackend{}
	}
	if job == "" {
		job = DefaultJobName
	}
	return &Recorder{job: job, backend: b}
}

// Nop returns a Recorder that discards everything.
func Nop() *Recorder { return New("", nil) }

// RecordStep counts one coordinator step and observes its duration.
func (r *Recorder) RecordStep(step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":    r.job,
		"step":   step,
		"status": status,
	}
	r.backend.IncCounter(StepTotal, 1, lbls)
	r.backend.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRows increments the record counter for kind. Typical kinds:
//   - "read"
//   - "transformed"
//   - "dropped"
//   - "upserted"
//   - "inserted"
//   - "duplicates"
func (r *Recorder) RecordRows(kind string, delta int64) {
	if delta <= 0 {
		return
	}
	r.backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  r.job,
		"kind": kind,
	})
}

// RecordQueueDepth publishes how many items are buffered in queue.
func (r *Recorder) RecordQueueDepth(queue string, depth int) {
	r.backend.SetGauge(QueueDepth, float64(depth), Labels{
		"job":   r.job,
		"queue": queue,
	})
}

// Flush delegates to the backend.
func (r *Recorder) Flush() error { return r.backend.Flush() }
