package recipes

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/recipeshare/libs/db"
	"github.com/md-rashed-zaman/recipeshare/libs/events"
	"github.com/md-rashed-zaman/recipeshare/libs/outbox"
	"github.com/md-rashed-zaman/recipeshare/services/recipe-service/internal/model"
)

type fakeTx struct {
	calls int
	err   error
}

func (f *fakeTx) InTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	f.calls++
	if err := fn(nil); err != nil {
		f.err = err
		return err
	}
	return nil
}

type fakeStore struct {
	nextID int64
	now    time.Time
}

func (s *fakeStore) Insert(_ context.Context, _ db.Querier, r *model.Recipe) error {
	s.nextID++
	r.ID = s.nextID
	r.CreatedAt = s.now
	return nil
}

type fakePublisher struct {
	events []events.Event
	err    error
}

func (p *fakePublisher) PublishTx(_ context.Context, _ pgx.Tx, evt events.Event) (int64, error) {
	if p.err != nil {
		return 0, p.err
	}
	p.events = append(p.events, evt)
	return int64(100 + len(p.events)), nil
}

type fakeOutbox struct {
	events []outbox.Event
}

func (o *fakeOutbox) Insert(_ context.Context, _ db.Querier, evt outbox.Event) (uuid.UUID, error) {
	o.events = append(o.events, evt)
	return evt.EventID, nil
}

func TestCreatePublishesEventAndOutboxRow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tx := &fakeTx{}
	pub := &fakePublisher{}
	ob := &fakeOutbox{}
	svc := NewService(tx, &fakeStore{now: clock.Now()}, pub, ob, clock)

	out, err := svc.Create(context.Background(), NewRecipe{
		Title:             "  Shakshuka ",
		Description:       "eggs in tomato",
		NotificationEmail: "cook@example.com",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out.Recipe.ID != 1 || out.Recipe.Title != "Shakshuka" || out.JobID != 101 {
		t.Fatalf("unexpected result: %+v", out)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(pub.events))
	}
	rc, ok := pub.events[0].(events.RecipeCreated)
	if !ok {
		t.Fatalf("expected RecipeCreated, got %T", pub.events[0])
	}
	if rc.RecipeID() != 1 || rc.Title() != "Shakshuka" {
		t.Fatalf("unexpected event: %+v", rc)
	}
	if email := rc.NotificationEmail(); email == nil || *email != "cook@example.com" {
		t.Fatalf("unexpected email: %v", email)
	}
	if rc.EventID() != out.EventID {
		t.Fatalf("result event id %s does not match event %s", out.EventID, rc.EventID())
	}

	if len(ob.events) != 1 {
		t.Fatalf("expected one outbox row, got %d", len(ob.events))
	}
	row := ob.events[0]
	if row.EventType != outbox.TopicRecipeCreated || row.AggregateID != "1" || row.EventID != out.EventID {
		t.Fatalf("unexpected outbox row: %+v", row)
	}
	if !strings.Contains(string(row.Payload), `"recipe_id":1`) {
		t.Fatalf("unexpected outbox payload: %s", row.Payload)
	}
}

func TestCreateWithoutEmail(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(&fakeTx{}, &fakeStore{}, pub, &fakeOutbox{}, nil)

	if _, err := svc.Create(context.Background(), NewRecipe{Title: "Toast", NotificationEmail: "   "}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if email := pub.events[0].(events.RecipeCreated).NotificationEmail(); email != nil {
		t.Fatalf("expected nil email, got %q", *email)
	}
}

func TestCreateValidation(t *testing.T) {
	cases := map[string]NewRecipe{
		"blank title": {Title: "  "},
		"long title":  {Title: strings.Repeat("a", model.MaxTitleLength+1)},
		"bad email":   {Title: "Soup", NotificationEmail: "not-an-address"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			tx := &fakeTx{}
			svc := NewService(tx, &fakeStore{}, &fakePublisher{}, &fakeOutbox{}, nil)
			if _, err := svc.Create(context.Background(), in); !errors.Is(err, ErrInvalidRecipe) {
				t.Fatalf("expected ErrInvalidRecipe, got %v", err)
			}
			if tx.calls != 0 {
				t.Fatal("transaction must not start for invalid input")
			}
		})
	}

	svc := NewService(&fakeTx{}, &fakeStore{}, &fakePublisher{}, &fakeOutbox{}, nil)
	if _, err := svc.Create(context.Background(), NewRecipe{Title: strings.Repeat("é", model.MaxTitleLength)}); err != nil {
		t.Fatalf("title of exactly %d runes must be accepted: %v", model.MaxTitleLength, err)
	}
}

func TestCreatePublishFailureAbortsTransaction(t *testing.T) {
	tx := &fakeTx{}
	ob := &fakeOutbox{}
	boom := errors.New("queue down")
	svc := NewService(tx, &fakeStore{}, &fakePublisher{err: boom}, ob, nil)

	_, err := svc.Create(context.Background(), NewRecipe{Title: "Soup"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected publish error, got %v", err)
	}
	if !errors.Is(tx.err, boom) {
		t.Fatalf("transaction must see the error to roll back, got %v", tx.err)
	}
	if len(ob.events) != 0 {
		t.Fatal("outbox must not be written after a failed publish")
	}
}
