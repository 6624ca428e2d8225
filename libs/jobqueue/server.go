package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	otelx "github.com/md-rashed-zaman/recipeshare/libs/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HandlerFunc processes one job. A non-nil error schedules a retry unless it
// is wrapped with Permanent or the job has no retries left.
type HandlerFunc func(ctx context.Context, job Job) error

// DeadLetterFunc is called once a job has been marked failed for good.
type DeadLetterFunc func(ctx context.Context, job Job, cause error)

type ServerConfig struct {
	// Queues are drained in order: a job on an earlier queue always wins.
	Queues       []string
	Concurrency  int
	PollInterval time.Duration
	// Lease is how long a fetched job stays hidden from other workers.
	Lease      time.Duration
	JobTimeout time.Duration
	Backoff    BackoffFunc
	// MaxAttempts, when positive, caps the max_attempts stored on each job.
	MaxAttempts int
	Clock       clockwork.Clock
	Metrics     MetricsSink
	// Wakeups, when set, interrupts the idle poll wait (enqueue notifications).
	Wakeups      <-chan struct{}
	OnDeadLetter DeadLetterFunc
}

type Server struct {
	broker       Broker
	logger       *slog.Logger
	handlers     map[string]HandlerFunc
	queues       []string
	concurrency  int
	pollInterval time.Duration
	lease        time.Duration
	jobTimeout   time.Duration
	backoff      BackoffFunc
	maxAttempts  int
	clock        clockwork.Clock
	metrics      MetricsSink
	wakeups      <-chan struct{}
	onDeadLetter DeadLetterFunc
}

func NewServer(broker Broker, logger *slog.Logger, cfg ServerConfig) *Server {
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{DefaultQueue}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.Lease <= cfg.JobTimeout {
		cfg.Lease = cfg.JobTimeout + 30*time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ExponentialBackoff(15*time.Second, 10*time.Minute)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Server{
		broker:       broker,
		logger:       logger,
		handlers:     map[string]HandlerFunc{},
		queues:       cfg.Queues,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		lease:        cfg.Lease,
		jobTimeout:   cfg.JobTimeout,
		backoff:      cfg.Backoff,
		maxAttempts:  cfg.MaxAttempts,
		clock:        cfg.Clock,
		metrics:      cfg.Metrics,
		wakeups:      cfg.Wakeups,
		onDeadLetter: cfg.OnDeadLetter,
	}
}

// Register binds a handler to a job type. It must be called before Run.
func (s *Server) Register(jobType string, h HandlerFunc) {
	s.handlers[jobType] = h
}

// Run starts the worker pool and blocks until ctx is cancelled and every
// worker has finished its current job.
func (s *Server) Run(ctx context.Context) error {
	if len(s.handlers) == 0 {
		return errors.New("jobqueue: no handlers registered")
	}
	s.logger.Info("job server starting", "queues", s.queues, "concurrency", s.concurrency, "lease", s.lease.String())

	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.worker(ctx, worker)
		}(i)
	}
	wg.Wait()
	s.logger.Info("job server stopped")
	return nil
}

func (s *Server) worker(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		found, err := s.WorkOnce(ctx)
		if err != nil {
			s.logger.Error("job fetch failed", "worker", worker, "err", err)
		}
		if found {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.pollInterval):
		case <-s.wakeups:
		}
	}
}

// WorkOnce leases and processes at most one job and reports whether one was
// found. Run calls it in a loop; one-shot tools and tests call it directly.
func (s *Server) WorkOnce(ctx context.Context) (bool, error) {
	job, err := s.broker.Fetch(ctx, s.queues, s.lease)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("fetch: %w", err)
	}
	if job == nil {
		return false, nil
	}
	s.process(ctx, *job)
	return true, nil
}

func (s *Server) process(ctx context.Context, job Job) {
	if s.maxAttempts > 0 && (job.MaxAttempts <= 0 || job.MaxAttempts > s.maxAttempts) {
		job.MaxAttempts = s.maxAttempts
	}
	// State transitions must land even when shutdown cancels ctx mid-job.
	ackCtx := context.WithoutCancel(ctx)
	logger := s.logger.With("job_id", job.ID, "job_type", job.Type, "queue", job.Queue, "attempt", job.Attempts)

	jobCtx := job.TraceContext().Attach(ctx)
	jobCtx, span := otelx.Tracer("jobqueue").Start(jobCtx, "jobqueue.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.Int64("job.id", job.ID),
			attribute.String("job.type", job.Type),
			attribute.String("job.queue", job.Queue),
			attribute.Int("job.attempt", job.Attempts),
		),
	)
	defer span.End()

	if job.MaxAttempts > 0 && job.Attempts > job.MaxAttempts {
		// The lease of the final attempt expired without an ack.
		s.fail(ackCtx, logger, job, errors.New("lease expired on final attempt"))
		return
	}

	h, ok := s.handlers[job.Type]
	if !ok {
		s.fail(ackCtx, logger, job, Permanent(fmt.Errorf("no handler registered for job type %q", job.Type)))
		return
	}

	s.metrics.JobStarted(job.Queue, job.Type)
	s.metrics.InFlightIncr()
	defer s.metrics.InFlightDecr()

	start := s.clock.Now()
	err := s.invoke(jobCtx, h, job)
	duration := s.clock.Since(start)

	if err == nil {
		if err := s.broker.Complete(ackCtx, job.ID); err != nil {
			logger.Error("job complete failed", "err", err)
			span.RecordError(err)
			return
		}
		s.metrics.JobSucceeded(job.Queue, job.Type, duration)
		logger.Info("job succeeded", "duration_ms", duration.Milliseconds())
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if IsPermanent(err) || job.Attempts >= job.MaxAttempts {
		s.fail(ackCtx, logger, job, err)
		return
	}

	runAt := s.clock.Now().Add(s.backoff(job.Attempts))
	if rerr := s.broker.Retry(ackCtx, job.ID, runAt, err.Error()); rerr != nil {
		logger.Error("job retry scheduling failed", "err", rerr, "cause", err)
		return
	}
	s.metrics.JobRetried(job.Queue, job.Type)
	logger.Warn("job failed, retry scheduled",
		"err", err,
		"retry_at", runAt.UTC().Format(time.RFC3339),
		"retries_left", job.MaxAttempts-job.Attempts,
	)
}

func (s *Server) invoke(ctx context.Context, h HandlerFunc, job Job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, job)
}

func (s *Server) fail(ctx context.Context, logger *slog.Logger, job Job, cause error) {
	if err := s.broker.Fail(ctx, job.ID, cause.Error()); err != nil {
		logger.Error("job fail transition failed", "err", err, "cause", cause)
		return
	}
	s.metrics.JobFailed(job.Queue, job.Type)
	logger.Error("job failed permanently", "err", cause, "retries", job.Retries())

	if s.onDeadLetter != nil {
		job.Status = StatusFailed
		job.LastError = cause.Error()
		s.onDeadLetter(ctx, job, cause)
	}
}
