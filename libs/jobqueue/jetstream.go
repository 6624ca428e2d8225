package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	otelx "github.com/md-rashed-zaman/recipeshare/libs/otel"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var ErrDelayUnsupported = errors.New("jetstream broker cannot schedule jobs in the future")

type JetStreamConfig struct {
	StreamName    string
	SubjectPrefix string
	MaxAge        time.Duration
	Replicas      int
	Clock         clockwork.Clock
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		StreamName:    "JOBS",
		SubjectPrefix: "jobs",
		MaxAge:        7 * 24 * time.Hour,
		Replicas:      1,
	}
}

// JetStreamBroker keeps jobs in a work-queue stream with one durable consumer
// per queue. The consumer AckWait is the lease, NumDelivered is the attempt
// counter, NakWithDelay schedules a retry and Term drops a failed job.
// Inspection is not supported; use the NATS tooling for that.
type JetStreamBroker struct {
	js    jetstream.JetStream
	cfg   JetStreamConfig
	clock clockwork.Clock

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
	inflight  map[int64]jetstream.Msg
}

type jetStreamEnvelope struct {
	Type        string    `json:"type"`
	Payload     []byte    `json:"payload"`
	MaxAttempts int       `json:"max_attempts"`
	Traceparent string    `json:"traceparent,omitempty"`
	Tracestate  string    `json:"tracestate,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

func NewJetStreamBroker(ctx context.Context, js jetstream.JetStream, cfg JetStreamConfig) (*JetStreamBroker, error) {
	def := DefaultJetStreamConfig()
	if cfg.StreamName == "" {
		cfg.StreamName = def.StreamName
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = def.SubjectPrefix
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = def.Replicas
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Background jobs",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
		MaxAge:      cfg.MaxAge,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}

	return &JetStreamBroker{
		js:        js,
		cfg:       cfg,
		clock:     cfg.Clock,
		consumers: map[string]jetstream.Consumer{},
		inflight:  map[int64]jetstream.Msg{},
	}, nil
}

func (b *JetStreamBroker) subject(queue string) string {
	return b.cfg.SubjectPrefix + "." + queue
}

func (b *JetStreamBroker) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	req, err := req.normalize()
	if err != nil {
		return 0, err
	}
	now := b.clock.Now()
	if req.RunAt.After(now) {
		return 0, ErrDelayUnsupported
	}
	tc := otelx.CaptureTraceContext(ctx)
	data, err := json.Marshal(jetStreamEnvelope{
		Type:        req.Type,
		Payload:     req.Payload,
		MaxAttempts: req.MaxAttempts,
		Traceparent: tc.Parent,
		Tracestate:  tc.State,
		EnqueuedAt:  now.UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("marshal job: %w", err)
	}
	ack, err := b.js.Publish(ctx, b.subject(req.Queue), data)
	if err != nil {
		return 0, fmt.Errorf("publish job: %w", err)
	}
	return int64(ack.Sequence), nil
}

func (b *JetStreamBroker) consumer(ctx context.Context, queue string, lease time.Duration) (jetstream.Consumer, error) {
	b.mu.Lock()
	cons, ok := b.consumers[queue]
	b.mu.Unlock()
	if ok {
		return cons, nil
	}

	name := "jobs-" + strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(queue)
	cons, err := b.js.CreateOrUpdateConsumer(ctx, b.cfg.StreamName, jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		Description:   "job workers for queue " + queue,
		FilterSubject: b.subject(queue),
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       lease,
		MaxDeliver:    -1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure consumer %s: %w", name, err)
	}

	b.mu.Lock()
	b.consumers[queue] = cons
	b.mu.Unlock()
	return cons, nil
}

func (b *JetStreamBroker) Fetch(ctx context.Context, queues []string, lease time.Duration) (*Job, error) {
	for _, queue := range queues {
		cons, err := b.consumer(ctx, queue, lease)
		if err != nil {
			return nil, err
		}
		batch, err := cons.FetchNoWait(1)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", queue, err)
		}
		for msg := range batch.Messages() {
			job, err := b.decode(msg, queue, lease)
			if err != nil {
				_ = msg.Term()
				return nil, err
			}
			b.mu.Lock()
			b.inflight[job.ID] = msg
			b.mu.Unlock()
			return job, nil
		}
		if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) && !errors.Is(err, nats.ErrTimeout) {
			return nil, fmt.Errorf("fetch %s: %w", queue, err)
		}
	}
	return nil, nil
}

func (b *JetStreamBroker) decode(msg jetstream.Msg, queue string, lease time.Duration) (*Job, error) {
	meta, err := msg.Metadata()
	if err != nil {
		return nil, fmt.Errorf("message metadata: %w", err)
	}
	var env jetStreamEnvelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		return nil, fmt.Errorf("decode job %d: %w", meta.Sequence.Stream, err)
	}
	lockedUntil := b.clock.Now().Add(lease)
	return &Job{
		ID:          int64(meta.Sequence.Stream),
		Queue:       queue,
		Type:        env.Type,
		Payload:     env.Payload,
		Status:      StatusProcessing,
		Attempts:    int(meta.NumDelivered),
		MaxAttempts: env.MaxAttempts,
		RunAt:       meta.Timestamp,
		LockedUntil: &lockedUntil,
		Traceparent: env.Traceparent,
		Tracestate:  env.Tracestate,
		CreatedAt:   env.EnqueuedAt,
	}, nil
}

func (b *JetStreamBroker) take(id int64) (jetstream.Msg, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, ok := b.inflight[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(b.inflight, id)
	return msg, nil
}

func (b *JetStreamBroker) Complete(_ context.Context, id int64) error {
	msg, err := b.take(id)
	if err != nil {
		return err
	}
	return msg.Ack()
}

func (b *JetStreamBroker) Retry(_ context.Context, id int64, runAt time.Time, _ string) error {
	msg, err := b.take(id)
	if err != nil {
		return err
	}
	delay := runAt.Sub(b.clock.Now())
	if delay < 0 {
		delay = 0
	}
	return msg.NakWithDelay(delay)
}

func (b *JetStreamBroker) Fail(_ context.Context, id int64, _ string) error {
	msg, err := b.take(id)
	if err != nil {
		return err
	}
	return msg.Term()
}

// NATSReadyCheck reports whether the connection is currently usable.
func NATSReadyCheck(nc *nats.Conn) func(context.Context) error {
	return func(context.Context) error {
		if nc == nil {
			return errors.New("nats not configured")
		}
		if status := nc.Status(); status != nats.CONNECTED {
			return fmt.Errorf("nats status %s", status)
		}
		return nil
	}
}
