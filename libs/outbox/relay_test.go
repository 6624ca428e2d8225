package outbox

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/recipeshare/libs/kafkax"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestToMessage(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	id := uuid.New()
	rcd := Record{
		ID:            7,
		EventID:       id,
		AggregateType: "recipe",
		AggregateID:   "42",
		EventType:     TopicRecipeCreated,
		Payload:       []byte(`{"recipe_id":42}`),
		Traceparent:   "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}

	msg := toMessage(context.Background(), rcd)
	if msg.Topic != TopicRecipeCreated || string(msg.Key) != "42" || string(msg.Value) != `{"recipe_id":42}` {
		t.Fatalf("unexpected message: topic=%s key=%s value=%s", msg.Topic, msg.Key, msg.Value)
	}

	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != id.String() || meta.EventType != TopicRecipeCreated || meta.AggregateType != "recipe" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if got := kafkax.HeaderValue(msg.Headers, "traceparent"); got != rcd.Traceparent {
		t.Fatalf("expected stored trace context to be forwarded, got %q", got)
	}
}
