// Package jobqueue is a small durable job queue with at-least-once delivery.
//
// Producers enqueue jobs onto named queues. A Server leases jobs from a Broker,
// runs the handler registered for the job type and either completes the job,
// schedules a retry with backoff, or marks it failed once its retries are spent.
// A leased job that is not acknowledged before the lease expires becomes visible
// again and is redelivered, so handlers must tolerate running more than once.
package jobqueue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	otelx "github.com/md-rashed-zaman/recipeshare/libs/otel"
)

type Status string

const (
	StatusEnqueued   Status = "enqueued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusEnqueued, StatusProcessing, StatusSucceeded, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown job status %q", raw)
	}
}

const (
	DefaultQueue = "default"
	// DefaultRetries is how many times a failing job is retried after its first run.
	DefaultRetries = 3
)

var (
	ErrNotFound       = errors.New("job not found")
	ErrNotRequeueable = errors.New("job is not in failed state")
	ErrInvalidJob     = errors.New("invalid job")
)

type Job struct {
	ID          int64      `json:"id"`
	Queue       string     `json:"queue"`
	Type        string     `json:"type"`
	Payload     []byte     `json:"-"`
	Status      Status     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	RunAt       time.Time  `json:"run_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Traceparent string     `json:"-"`
	Tracestate  string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Retries is the number of executions after the first one.
func (j Job) Retries() int {
	if j.Attempts <= 1 {
		return 0
	}
	return j.Attempts - 1
}

// TraceContext is the producer's trace context captured at enqueue time.
func (j Job) TraceContext() otelx.TraceContext {
	return otelx.TraceContext{Parent: j.Traceparent, State: j.Tracestate}
}

// EnqueueRequest describes a job to create. Zero values take defaults:
// DefaultQueue, DefaultRetries+1 attempts and "run now".
type EnqueueRequest struct {
	Queue       string
	Type        string
	Payload     []byte
	MaxAttempts int
	RunAt       time.Time
}

func (r EnqueueRequest) normalize() (EnqueueRequest, error) {
	r.Type = strings.TrimSpace(r.Type)
	if r.Type == "" {
		return r, fmt.Errorf("%w: job type is required", ErrInvalidJob)
	}
	r.Queue = strings.TrimSpace(r.Queue)
	if r.Queue == "" {
		r.Queue = DefaultQueue
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DefaultRetries + 1
	}
	if r.Payload == nil {
		r.Payload = []byte{}
	}
	return r, nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job fails immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
