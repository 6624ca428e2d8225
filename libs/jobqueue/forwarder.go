package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

type ForwarderConfig struct {
	Queues       []string
	PollInterval time.Duration
	Lease        time.Duration
	// RetryDelay is how long a job waits in the source after a failed hand-off.
	RetryDelay time.Duration
	Clock      clockwork.Clock
	Wakeups    <-chan struct{}
}

// Forwarder moves runnable jobs from one broker into another, keeping queue,
// type, payload, attempt limit and trace context. It lets producers that
// enqueue transactionally into Postgres feed workers that drain a different
// backend. A job is completed in the source only after the destination
// accepted it; a crash in between forwards it twice.
type Forwarder struct {
	src          Broker
	dst          Enqueuer
	logger       *slog.Logger
	queues       []string
	pollInterval time.Duration
	lease        time.Duration
	retryDelay   time.Duration
	clock        clockwork.Clock
	wakeups      <-chan struct{}
}

func NewForwarder(src Broker, dst Enqueuer, logger *slog.Logger, cfg ForwarderConfig) *Forwarder {
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{DefaultQueue}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Forwarder{
		src:          src,
		dst:          dst,
		logger:       logger,
		queues:       cfg.Queues,
		pollInterval: cfg.PollInterval,
		lease:        cfg.Lease,
		retryDelay:   cfg.RetryDelay,
		clock:        cfg.Clock,
		wakeups:      cfg.Wakeups,
	}
}

func (f *Forwarder) Run(ctx context.Context) {
	f.logger.Info("job forwarder starting", "queues", f.queues)
	for {
		if ctx.Err() != nil {
			return
		}
		found, err := f.ForwardOnce(ctx)
		if err != nil {
			f.logger.Error("job forward failed", "err", err)
		}
		if found && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-f.clock.After(f.pollInterval):
		case <-f.wakeups:
		}
	}
}

// ForwardOnce hands over at most one job and reports whether one was found.
func (f *Forwarder) ForwardOnce(ctx context.Context) (bool, error) {
	job, err := f.src.Fetch(ctx, f.queues, f.lease)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("fetch: %w", err)
	}
	if job == nil {
		return false, nil
	}

	ackCtx := context.WithoutCancel(ctx)
	sendCtx := job.TraceContext().Attach(ctx)
	id, err := f.dst.Enqueue(sendCtx, EnqueueRequest{
		Queue:       job.Queue,
		Type:        job.Type,
		Payload:     job.Payload,
		MaxAttempts: job.MaxAttempts,
	})
	if err != nil {
		runAt := f.clock.Now().Add(f.retryDelay)
		if rerr := f.src.Retry(ackCtx, job.ID, runAt, err.Error()); rerr != nil {
			return true, fmt.Errorf("forward job %d: %w (retry scheduling: %v)", job.ID, err, rerr)
		}
		return true, fmt.Errorf("forward job %d: %w", job.ID, err)
	}
	if err := f.src.Complete(ackCtx, job.ID); err != nil {
		return true, fmt.Errorf("complete forwarded job %d: %w", job.ID, err)
	}
	f.logger.Debug("job forwarded", "job_id", job.ID, "forwarded_id", id, "queue", job.Queue, "job_type", job.Type)
	return true, nil
}
