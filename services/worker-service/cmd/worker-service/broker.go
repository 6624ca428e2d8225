package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/recipeshare/libs/config"
	"github.com/md-rashed-zaman/recipeshare/libs/db"
	"github.com/md-rashed-zaman/recipeshare/libs/jobqueue"
	"github.com/md-rashed-zaman/recipeshare/libs/runtime"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// queueBackend is the broker picked by QUEUE_BACKEND plus whatever else the
// backend brings along.
type queueBackend struct {
	broker jobqueue.Broker
	// inspector backs the dashboard; nil when the workers' broker cannot be listed.
	inspector jobqueue.Inspector
	// store is the table the janitor prunes.
	store   jobqueue.Inspector
	wakeups <-chan struct{}
	run     []func(ctx context.Context)
	checks  []runtime.ReadyCheck
	close   func()
}

func openQueueBackend(ctx context.Context, kind string, queues []string, pool *db.Pool, dbURL string, logger *slog.Logger) (*queueBackend, error) {
	channel := config.String("QUEUE_NOTIFY_CHANNEL", jobqueue.DefaultNotifyChannel)

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "postgres":
		broker := jobqueue.NewPostgresBroker(pool, channel, logger)
		backend := &queueBackend{broker: broker, inspector: broker, store: broker, close: func() {}}
		backend.wakeups = listen(backend, dbURL, channel, logger)
		return backend, nil

	case "jetstream":
		natsURL := config.String("NATS_URL", nats.DefaultURL)
		nc, err := nats.Connect(natsURL, nats.Name("worker-service"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, fmt.Errorf("connect nats %s: %w", natsURL, err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		broker, err := jobqueue.NewJetStreamBroker(ctx, js, jobqueue.JetStreamConfig{
			StreamName:    config.String("JETSTREAM_STREAM", "JOBS"),
			SubjectPrefix: config.String("JETSTREAM_SUBJECT_PREFIX", "jobs"),
			Replicas:      config.Int("JETSTREAM_REPLICAS", 1, 1),
		})
		if err != nil {
			nc.Close()
			return nil, err
		}
		backend := &queueBackend{
			broker: broker,
			checks: []runtime.ReadyCheck{{Name: "nats", Check: jobqueue.NATSReadyCheck(nc)}},
			close:  nc.Close,
		}
		// Producers enqueue into Postgres inside their own transactions.
		src := jobqueue.NewPostgresBroker(pool, channel, logger)
		bridgeProducerJobs(backend, src, listen(backend, dbURL, channel, logger), queues, logger)
		return backend, nil

	case "memory":
		broker := jobqueue.NewMemoryBroker(nil)
		return &queueBackend{broker: broker, inspector: broker, store: broker, wakeups: broker.Wakeups(), close: func() {}}, nil

	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", kind)
	}
}

// listen starts a LISTEN on channel and returns its wakeups, or nil when the
// listener cannot connect and polling has to do.
func listen(b *queueBackend, dbURL, channel string, logger *slog.Logger) <-chan struct{} {
	listener, err := jobqueue.NewListener(dbURL, channel, logger)
	if err != nil {
		logger.Warn("enqueue listener unavailable, relying on polling", "err", err)
		return nil
	}
	b.run = append(b.run, listener.Run)
	return listener.Wakeups()
}

// bridgeProducerJobs forwards jobs committed to src into the workers' broker
// and makes src the table the janitor prunes.
func bridgeProducerJobs(b *queueBackend, src interface {
	jobqueue.Broker
	jobqueue.Inspector
}, wakeups <-chan struct{}, queues []string, logger *slog.Logger) {
	fwd := jobqueue.NewForwarder(src, b.broker, logger, jobqueue.ForwarderConfig{
		Queues:       queues,
		PollInterval: config.Duration("FORWARD_POLL_INTERVAL", 2*time.Second),
		Wakeups:      wakeups,
	})
	b.store = src
	b.run = append(b.run, fwd.Run)
}
