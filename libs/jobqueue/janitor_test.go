package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestJanitor_SweepHonoursRetention(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	broker := NewMemoryBroker(clock)

	ok, _ := broker.Enqueue(ctx, EnqueueRequest{Type: "a"})
	bad, _ := broker.Enqueue(ctx, EnqueueRequest{Type: "b"})
	_, _ = broker.Fetch(ctx, []string{DefaultQueue}, time.Minute)
	_, _ = broker.Fetch(ctx, []string{DefaultQueue}, time.Minute)
	_ = broker.Complete(ctx, ok)
	_ = broker.Fail(ctx, bad, "nope")

	j, err := NewJanitor(broker, testLogger(), JanitorConfig{
		SucceededRetention: time.Hour,
		FailedRetention:    24 * time.Hour,
		Clock:              clock,
	})
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}

	clock.Advance(2 * time.Hour)
	n, err := j.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 expired job, got %d (%v)", n, err)
	}
	if _, err := broker.Get(ctx, bad); err != nil {
		t.Fatalf("failed job should be kept for 24h: %v", err)
	}

	clock.Advance(24 * time.Hour)
	if n, _ := j.Sweep(ctx); n != 1 {
		t.Fatalf("expected failed job to expire, got %d", n)
	}
}

func TestJanitor_RejectsBadSchedule(t *testing.T) {
	if _, err := NewJanitor(NewMemoryBroker(nil), testLogger(), JanitorConfig{Schedule: "every tuesday"}); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestJanitor_RunsExtraSweeps(t *testing.T) {
	var calls int
	j, err := NewJanitor(NewMemoryBroker(nil), testLogger(), JanitorConfig{
		Extra: []SweepFunc{func(context.Context) (int64, error) {
			calls++
			return 3, nil
		}},
	})
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}
	n, err := j.Sweep(context.Background())
	if err != nil || n != 3 || calls != 1 {
		t.Fatalf("expected extra sweep to run once, n=%d calls=%d err=%v", n, calls, err)
	}
}
