// Command event-sim enqueues synthetic domain events for smoke tests and can
// tail the jobs.job.failed.v1 topic to watch dead letters arrive.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/recipeshare/libs/db"
	"github.com/md-rashed-zaman/recipeshare/libs/events"
	"github.com/md-rashed-zaman/recipeshare/libs/jobqueue"
	"github.com/md-rashed-zaman/recipeshare/libs/kafkax"
	"github.com/md-rashed-zaman/recipeshare/libs/outbox"
	"github.com/md-rashed-zaman/recipeshare/libs/runtime"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

func main() {
	_ = runtime.LoadDotEnv()
	var (
		backend  = flag.String("backend", getenv("QUEUE_BACKEND", "postgres"), "queue backend: postgres or jetstream")
		dbURL    = flag.String("database-url", getenv("DATABASE_URL", ""), "postgres url (postgres backend)")
		natsURL  = flag.String("nats-url", getenv("NATS_URL", nats.DefaultURL), "nats url (jetstream backend)")
		queue    = flag.String("queue", getenv("EVENTS_QUEUE", jobqueue.DefaultQueue), "queue to enqueue on")
		kind     = flag.String("kind", "recipe-created", "event kind: recipe-created or unknown")
		title    = flag.String("title", "Smoke test recipe", "recipe title")
		email    = flag.String("email", "", "notification email; empty sends none (a worker with NOTIFICATION_FAIL_SUFFIX set fails addresses ending in it)")
		recipeID = flag.Int64("recipe-id", 0, "recipe id (default: derived from the clock)")
		count    = flag.Int("count", 1, "number of events to enqueue")
		watch    = flag.Bool("watch", false, "after enqueueing, print dead letters from Kafka until interrupted")
		brokers  = flag.String("brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "kafka brokers for -watch")
	)
	flag.Parse()

	ctx, stop := runtime.SignalContext()
	defer stop()

	enq, closeFn, err := openEnqueuer(ctx, *backend, *dbURL, *natsURL, runtime.NewLogger("event-sim"))
	if err != nil {
		fatal(err.Error())
	}
	defer closeFn()

	publisher := events.NewPublisher(enq, events.PublisherConfig{Queue: *queue})
	clock := clockwork.NewRealClock()
	for i := 0; i < *count; i++ {
		id := *recipeID
		if id == 0 {
			id = clock.Now().UnixMilli() + int64(i)
		}
		var (
			jobID   int64
			eventID string
		)
		switch *kind {
		case "recipe-created":
			evt := events.NewRecipeCreated(clock, id, *title, emailPtr(*email), clock.Now())
			jobID, err = publisher.Publish(ctx, evt)
			eventID = evt.EventID().String()
		case "unknown":
			eventID = uuid.NewString()
			jobID, err = enqueueUnknown(ctx, enq, *queue, eventID, clock.Now())
		default:
			fatal("unsupported kind: " + *kind)
		}
		if err != nil {
			fatal(err.Error())
		}
		fmt.Printf("enqueued job_id=%d event_id=%s kind=%s queue=%s\n", jobID, eventID, *kind, *queue)
	}

	if *watch {
		if err := watchDeadLetters(ctx, *brokers); err != nil && !errors.Is(err, context.Canceled) {
			fatal(err.Error())
		}
	}
}

func openEnqueuer(ctx context.Context, backend, dbURL, natsURL string, logger *slog.Logger) (jobqueue.Enqueuer, func(), error) {
	switch backend {
	case "postgres":
		if strings.TrimSpace(dbURL) == "" {
			return nil, nil, errors.New("DATABASE_URL is required for the postgres backend")
		}
		pool, err := db.Open(ctx, dbURL)
		if err != nil {
			return nil, nil, err
		}
		return jobqueue.NewPostgresBroker(pool, jobqueue.DefaultNotifyChannel, logger), pool.Close, nil
	case "jetstream":
		nc, err := nats.Connect(natsURL, nats.Name("event-sim"))
		if err != nil {
			return nil, nil, err
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		broker, err := jobqueue.NewJetStreamBroker(ctx, js, jobqueue.DefaultJetStreamConfig())
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return broker, nc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// enqueueUnknown writes an envelope whose event_type no handler knows, to
// exercise the warn-and-drop path.
func enqueueUnknown(ctx context.Context, enq jobqueue.Enqueuer, queue, eventID string, now time.Time) (int64, error) {
	payload, err := json.Marshal(map[string]any{
		"event_id":    eventID,
		"event_type":  "recipe.rated.v1",
		"occurred_on": now.UTC(),
		"data":        map[string]any{"stars": 5},
	})
	if err != nil {
		return 0, err
	}
	return enq.Enqueue(ctx, jobqueue.EnqueueRequest{Queue: queue, Type: events.JobType, Payload: payload})
}

func watchDeadLetters(ctx context.Context, brokers string) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(brokers),
		Topic:       outbox.TopicJobFailed,
		GroupID:     "event-sim-" + uuid.NewString()[:8],
		StartOffset: kafka.LastOffset,
		MaxWait:     time.Second,
	})
	defer reader.Close()

	fmt.Printf("watching %s on %s\n", outbox.TopicJobFailed, brokers)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			return err
		}
		meta := kafkax.ExtractEventMeta(msg)
		sc := trace.SpanContextFromContext(kafkax.ExtractTraceContext(ctx, msg))
		fmt.Printf("dead letter event_id=%s aggregate=%s/%s trace_id=%s payload=%s\n",
			meta.EventID, meta.AggregateType, string(msg.Key), sc.TraceID(), string(msg.Value))
	}
}

func emailPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
