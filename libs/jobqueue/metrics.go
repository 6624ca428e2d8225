package jobqueue

import "time"

// MetricsSink receives job lifecycle signals. Implementations must not block.
type MetricsSink interface {
	JobStarted(queue, jobType string)
	JobSucceeded(queue, jobType string, duration time.Duration)
	JobRetried(queue, jobType string)
	JobFailed(queue, jobType string)
	InFlightIncr()
	InFlightDecr()
}

type noopMetrics struct{}

func (noopMetrics) JobStarted(string, string)                  {}
func (noopMetrics) JobSucceeded(string, string, time.Duration) {}
func (noopMetrics) JobRetried(string, string)                  {}
func (noopMetrics) JobFailed(string, string)                   {}
func (noopMetrics) InFlightIncr()                              {}
func (noopMetrics) InFlightDecr()                              {}
