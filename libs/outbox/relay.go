package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/recipeshare/libs/db"
	"github.com/md-rashed-zaman/recipeshare/libs/kafkax"
	otelx "github.com/md-rashed-zaman/recipeshare/libs/otel"
	"github.com/segmentio/kafka-go"
)

// Writer is the part of *kafka.Writer the relay needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type RelayConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

// Relay copies unpublished outbox rows to Kafka and marks them published in
// the same transaction that locked them. Delivery is at-least-once: a crash
// after the write but before commit republishes the batch.
type Relay struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
	newWriter func(brokers []string) Writer
}

func NewRelay(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Relay{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		newWriter: func(brokers []string) Writer {
			return &kafka.Writer{
				Addr:                   kafka.TCP(brokers...),
				Balancer:               &kafka.Hash{},
				AllowAutoTopicCreation: true,
			}
		},
	}
}

func (r *Relay) Run(ctx context.Context) {
	if len(r.brokers) == 0 {
		r.logger.Warn("outbox relay disabled (no kafka brokers configured)")
		return
	}

	writer := r.newWriter(r.brokers)
	defer writer.Close()

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.publishBatch(ctx, writer)
			if err != nil {
				r.logger.Error("outbox publish failed", "err", err)
				continue
			}
			if n > 0 {
				r.logger.Debug("outbox batch published", "count", n)
			}
		}
	}
}

func (r *Relay) publishBatch(ctx context.Context, writer Writer) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := r.repo.FetchUnpublished(ctx, tx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	msgs := make([]kafka.Message, 0, len(records))
	ids := make([]int64, 0, len(records))
	for _, rcd := range records {
		msgs = append(msgs, toMessage(ctx, rcd))
		ids = append(ids, rcd.ID)
	}
	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := r.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	return len(records), tx.Commit(ctx)
}

func toMessage(ctx context.Context, rcd Record) kafka.Message {
	msgCtx := otelx.TraceContext{Parent: rcd.Traceparent, State: rcd.Tracestate}.Attach(ctx)
	msg := kafka.Message{
		Topic: rcd.EventType,
		Key:   []byte(rcd.AggregateID),
		Value: rcd.Payload,
		Headers: []kafka.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(rcd.EventID.String())},
			{Key: kafkax.HeaderEventType, Value: []byte(rcd.EventType)},
			{Key: kafkax.HeaderAggregateType, Value: []byte(rcd.AggregateType)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}
