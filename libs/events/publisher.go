package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/recipeshare/libs/jobqueue"
)

// JobType is the job type every domain event is enqueued under.
const JobType = "domain_event"

var ErrTxUnsupported = errors.New("job broker cannot enqueue inside a transaction")

type PublisherConfig struct {
	// Queue is the default queue bucket; empty means jobqueue.DefaultQueue.
	Queue string
	// Routes overrides the queue per event type.
	Routes map[string]string
	// MaxAttempts of zero uses the queue default.
	MaxAttempts int
}

// Publisher hands events to the job queue. It returns once the job is stored
// and never waits for the handler to run.
type Publisher struct {
	enq jobqueue.Enqueuer
	cfg PublisherConfig
}

func NewPublisher(enq jobqueue.Enqueuer, cfg PublisherConfig) *Publisher {
	if cfg.Queue == "" {
		cfg.Queue = jobqueue.DefaultQueue
	}
	return &Publisher{enq: enq, cfg: cfg}
}

func (p *Publisher) Publish(ctx context.Context, evt Event) (int64, error) {
	req, err := p.request(evt)
	if err != nil {
		return 0, err
	}
	id, err := p.enq.Enqueue(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", evt.EventType(), err)
	}
	return id, nil
}

// PublishTx enqueues inside tx so the job exists only if tx commits.
func (p *Publisher) PublishTx(ctx context.Context, tx pgx.Tx, evt Event) (int64, error) {
	txe, ok := p.enq.(jobqueue.TxEnqueuer)
	if !ok {
		return 0, ErrTxUnsupported
	}
	req, err := p.request(evt)
	if err != nil {
		return 0, err
	}
	id, err := txe.EnqueueTx(ctx, tx, req)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", evt.EventType(), err)
	}
	return id, nil
}

func (p *Publisher) request(evt Event) (jobqueue.EnqueueRequest, error) {
	payload, err := Marshal(evt)
	if err != nil {
		return jobqueue.EnqueueRequest{}, err
	}
	queue := p.cfg.Queue
	if q, ok := p.cfg.Routes[evt.EventType()]; ok && q != "" {
		queue = q
	}
	return jobqueue.EnqueueRequest{
		Queue:       queue,
		Type:        JobType,
		Payload:     payload,
		MaxAttempts: p.cfg.MaxAttempts,
	}, nil
}
