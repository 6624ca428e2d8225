package deadletter

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/recipeshare/libs/events"
	"github.com/md-rashed-zaman/recipeshare/libs/jobqueue"
	"github.com/md-rashed-zaman/recipeshare/libs/outbox"
)

func TestBuildEvent(t *testing.T) {
	evt := events.NewRecipeCreated(nil, 3, "Soup", nil, time.Now())
	raw, err := events.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	job := jobqueue.Job{ID: 41, Queue: "default", Type: events.JobType, Payload: raw, Attempts: 4, MaxAttempts: 4}
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	out, err := BuildEvent(job, errors.New("smtp down"), now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if out.EventType != outbox.TopicJobFailed || out.AggregateID != "41" || out.AggregateType != "job" {
		t.Fatalf("unexpected outbox event %+v", out)
	}

	var p payload
	if err := json.Unmarshal(out.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.Retries != 3 || p.Error != "smtp down" || !p.FailedAt.Equal(now) {
		t.Fatalf("unexpected payload %+v", p)
	}
	if p.EventID != evt.EventID().String() || p.EventType != events.TypeRecipeCreated {
		t.Fatalf("expected domain event reference, got %+v", p)
	}
}

func TestBuildEventOpaquePayload(t *testing.T) {
	job := jobqueue.Job{ID: 1, Type: "other", Payload: []byte("x"), Attempts: 1}
	out, err := BuildEvent(job, errors.New("boom"), time.Now())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var p payload
	_ = json.Unmarshal(out.Payload, &p)
	if p.EventID != "" || p.JobType != "other" {
		t.Fatalf("unexpected payload %+v", p)
	}
}
