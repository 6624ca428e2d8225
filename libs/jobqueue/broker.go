package jobqueue

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (int64, error)
}

// TxEnqueuer enqueues inside a caller-owned transaction so the job commits
// together with the state change that produced it.
type TxEnqueuer interface {
	EnqueueTx(ctx context.Context, tx pgx.Tx, req EnqueueRequest) (int64, error)
}

// Broker is the storage side of the queue used by Server.
//
// Fetch leases the next runnable job from the first non-empty queue in queues
// (earlier queues win), increments its attempt counter and hides it from other
// workers for lease. It returns nil, nil when nothing is runnable.
type Broker interface {
	Enqueuer
	Fetch(ctx context.Context, queues []string, lease time.Duration) (*Job, error)
	Complete(ctx context.Context, id int64) error
	Retry(ctx context.Context, id int64, runAt time.Time, reason string) error
	Fail(ctx context.Context, id int64, reason string) error
}

// Inspector is the operational view over stored jobs.
type Inspector interface {
	Stats(ctx context.Context) (Stats, error)
	List(ctx context.Context, filter Filter) ([]Job, error)
	Get(ctx context.Context, id int64) (Job, error)
	Requeue(ctx context.Context, id int64) error
	Purge(ctx context.Context, status Status, finishedBefore time.Time) (int64, error)
}

type Filter struct {
	Queue  string
	Status Status
	Limit  int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

type Counts struct {
	Enqueued   int64 `json:"enqueued"`
	Processing int64 `json:"processing"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
}

func (c *Counts) add(status Status, n int64) {
	switch status {
	case StatusEnqueued:
		c.Enqueued += n
	case StatusProcessing:
		c.Processing += n
	case StatusSucceeded:
		c.Succeeded += n
	case StatusFailed:
		c.Failed += n
	}
}

type Stats struct {
	Totals  Counts            `json:"totals"`
	ByQueue map[string]Counts `json:"by_queue"`
}

func (s *Stats) add(queue string, status Status, n int64) {
	if s.ByQueue == nil {
		s.ByQueue = map[string]Counts{}
	}
	c := s.ByQueue[queue]
	c.add(status, n)
	s.ByQueue[queue] = c
	s.Totals.add(status, n)
}
