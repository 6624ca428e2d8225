package main

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/recipeshare/libs/jobqueue"
)

func TestBridgeProducerJobsFeedsWorkerBroker(t *testing.T) {
	t.Setenv("FORWARD_POLL_INTERVAL", "10ms")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	producer := jobqueue.NewMemoryBroker(nil)
	workers := jobqueue.NewMemoryBroker(nil)
	backend := &queueBackend{broker: workers, wakeups: workers.Wakeups(), close: func() {}}
	bridgeProducerJobs(backend, producer, producer.Wakeups(), []string{"critical", jobqueue.DefaultQueue}, logger)

	if backend.store != producer {
		t.Fatal("janitor must prune the producer table")
	}

	server := jobqueue.NewServer(backend.broker, logger, jobqueue.ServerConfig{
		Queues:       []string{"critical", jobqueue.DefaultQueue},
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
		Wakeups:      backend.wakeups,
	})
	var handled atomic.Int64
	server.Register("domain_event", func(context.Context, jobqueue.Job) error {
		handled.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, run := range backend.run {
		go run(ctx)
	}
	go func() { _ = server.Run(ctx) }()

	id, err := producer.Enqueue(ctx, jobqueue.EnqueueRequest{Type: "domain_event", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, _ := producer.Get(ctx, id)
		if handled.Load() == 1 && job.Status == jobqueue.StatusSucceeded {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job enqueued by the producer never reached a worker: handled=%d status=%s", handled.Load(), job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
