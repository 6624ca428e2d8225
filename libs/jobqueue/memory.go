package jobqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	otelx "github.com/md-rashed-zaman/recipeshare/libs/otel"
)

// MemoryBroker keeps jobs in process memory. It backs tests and single-process
// local runs; nothing survives a restart.
type MemoryBroker struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	nextID int64
	jobs   map[int64]*Job
	wake   chan struct{}
}

func NewMemoryBroker(clock clockwork.Clock) *MemoryBroker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryBroker{
		clock: clock,
		jobs:  map[int64]*Job{},
		wake:  make(chan struct{}, 1),
	}
}

// Wakeups fires after every enqueue; pass it to ServerConfig.Wakeups.
func (b *MemoryBroker) Wakeups() <-chan struct{} {
	return b.wake
}

func (b *MemoryBroker) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	req, err := req.normalize()
	if err != nil {
		return 0, err
	}
	tc := otelx.CaptureTraceContext(ctx)

	b.mu.Lock()
	now := b.clock.Now()
	runAt := req.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	b.nextID++
	id := b.nextID
	b.jobs[id] = &Job{
		ID:          id,
		Queue:       req.Queue,
		Type:        req.Type,
		Payload:     append([]byte(nil), req.Payload...),
		Status:      StatusEnqueued,
		MaxAttempts: req.MaxAttempts,
		RunAt:       runAt,
		Traceparent: tc.Parent,
		Tracestate:  tc.State,
		CreatedAt:   now,
	}
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return id, nil
}

func (b *MemoryBroker) Fetch(_ context.Context, queues []string, lease time.Duration) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	for _, queue := range queues {
		var next *Job
		for _, j := range b.jobs {
			if j.Queue != queue || !runnable(j, now) {
				continue
			}
			if next == nil || j.RunAt.Before(next.RunAt) || (j.RunAt.Equal(next.RunAt) && j.ID < next.ID) {
				next = j
			}
		}
		if next == nil {
			continue
		}
		lockedUntil := now.Add(lease)
		next.Status = StatusProcessing
		next.Attempts++
		next.LockedUntil = &lockedUntil
		out := cloneJob(next)
		return &out, nil
	}
	return nil, nil
}

func runnable(j *Job, now time.Time) bool {
	switch j.Status {
	case StatusEnqueued:
		return !j.RunAt.After(now)
	case StatusProcessing:
		return j.LockedUntil != nil && j.LockedUntil.Before(now)
	default:
		return false
	}
}

func (b *MemoryBroker) Complete(_ context.Context, id int64) error {
	return b.update(id, func(j *Job, now time.Time) {
		j.Status = StatusSucceeded
		j.LockedUntil = nil
		j.FinishedAt = &now
	})
}

func (b *MemoryBroker) Retry(_ context.Context, id int64, runAt time.Time, reason string) error {
	return b.update(id, func(j *Job, _ time.Time) {
		j.Status = StatusEnqueued
		j.RunAt = runAt
		j.LastError = reason
		j.LockedUntil = nil
	})
}

func (b *MemoryBroker) Fail(_ context.Context, id int64, reason string) error {
	return b.update(id, func(j *Job, now time.Time) {
		j.Status = StatusFailed
		j.LastError = reason
		j.LockedUntil = nil
		j.FinishedAt = &now
	})
}

func (b *MemoryBroker) update(id int64, fn func(j *Job, now time.Time)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return ErrNotFound
	}
	fn(j, b.clock.Now())
	return nil
}

func (b *MemoryBroker) Stats(_ context.Context) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := Stats{ByQueue: map[string]Counts{}}
	for _, j := range b.jobs {
		stats.add(j.Queue, j.Status, 1)
	}
	return stats, nil
}

func (b *MemoryBroker) List(_ context.Context, filter Filter) ([]Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Job, 0, len(b.jobs))
	for _, j := range b.jobs {
		if filter.Queue != "" && j.Queue != filter.Queue {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID > out[k].ID })
	if limit := filter.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *MemoryBroker) Get(_ context.Context, id int64) (Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return cloneJob(j), nil
}

func (b *MemoryBroker) Requeue(_ context.Context, id int64) error {
	b.mu.Lock()
	j, ok := b.jobs[id]
	if !ok {
		b.mu.Unlock()
		return ErrNotFound
	}
	if j.Status != StatusFailed {
		b.mu.Unlock()
		return ErrNotRequeueable
	}
	j.Status = StatusEnqueued
	j.Attempts = 0
	j.RunAt = b.clock.Now()
	j.FinishedAt = nil
	j.LockedUntil = nil
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

func (b *MemoryBroker) Purge(_ context.Context, status Status, finishedBefore time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for id, j := range b.jobs {
		if j.Status == status && j.FinishedAt != nil && j.FinishedAt.Before(finishedBefore) {
			delete(b.jobs, id)
			n++
		}
	}
	return n, nil
}

func cloneJob(j *Job) Job {
	out := *j
	out.Payload = append([]byte(nil), j.Payload...)
	if j.LockedUntil != nil {
		t := *j.LockedUntil
		out.LockedUntil = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
