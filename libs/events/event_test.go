package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

func strPtr(s string) *string { return &s }

func TestNewRecipeCreated_StampsIdentityAtConstruction(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)

	seen := map[uuid.UUID]bool{}
	for i := 0; i < 100; i++ {
		evt := NewRecipeCreated(clock, int64(i), "Soup", nil, start)
		if evt.EventID() == uuid.Nil {
			t.Fatal("expected non-nil event id")
		}
		if seen[evt.EventID()] {
			t.Fatalf("duplicate event id %s", evt.EventID())
		}
		seen[evt.EventID()] = true
		if !evt.OccurredOn().Equal(start) {
			t.Fatalf("expected occurred_on %s, got %s", start, evt.OccurredOn())
		}
	}

	evt := NewRecipeCreated(clock, 1, "Soup", nil, start)
	clock.Advance(time.Hour)
	if !evt.OccurredOn().Equal(start) {
		t.Fatal("occurred_on must not follow the clock after construction")
	}
}

func TestRecipeCreated_EmailIsCopied(t *testing.T) {
	email := "cook@example.com"
	evt := NewRecipeCreated(nil, 7, "Bread", &email, time.Now())

	email = "changed@example.com"
	if got := evt.NotificationEmail(); got == nil || *got != "cook@example.com" {
		t.Fatalf("event must not alias the caller's string, got %v", got)
	}
	*evt.NotificationEmail() = "mutated@example.com"
	if got := evt.NotificationEmail(); *got != "cook@example.com" {
		t.Fatalf("accessor must return a copy, got %q", *got)
	}

	if got := NewRecipeCreated(nil, 7, "Bread", strPtr("   "), time.Now()).NotificationEmail(); got != nil {
		t.Fatalf("blank email should be absent, got %q", *got)
	}
}

func TestCodec_RecipeCreatedRoundTrip(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := NewRecipeCreated(clockwork.NewFakeClock(), 42, "Pancakes", strPtr("cook@example.com"), created)

	raw, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	for _, key := range []string{"event_id", "event_type", "occurred_on", "data"} {
		if _, ok := env[key]; !ok {
			t.Fatalf("envelope missing %q: %s", key, raw)
		}
	}

	out, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	rc, ok := out.(RecipeCreated)
	if !ok {
		t.Fatalf("expected RecipeCreated, got %T", out)
	}
	if rc.EventID() != in.EventID() || !rc.OccurredOn().Equal(in.OccurredOn()) {
		t.Fatalf("header changed in transit: %v / %v", rc.EventID(), rc.OccurredOn())
	}
	if rc.RecipeID() != 42 || rc.Title() != "Pancakes" || !rc.CreatedAt().Equal(created) {
		t.Fatalf("unexpected body: %d %q %s", rc.RecipeID(), rc.Title(), rc.CreatedAt())
	}
	if e := rc.NotificationEmail(); e == nil || *e != "cook@example.com" {
		t.Fatalf("unexpected email %v", e)
	}
}

func TestCodec_NilEmailSurvives(t *testing.T) {
	raw, err := Marshal(NewRecipeCreated(nil, 1, "Tea", nil, time.Now()))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.(RecipeCreated).NotificationEmail() != nil {
		t.Fatal("expected nil email")
	}
}

func TestCodec_UnknownType(t *testing.T) {
	id := uuid.New()
	raw := []byte(`{"event_id":"` + id.String() + `","event_type":"recipe.rated.v1","occurred_on":"2026-01-01T00:00:00Z","data":{"stars":5}}`)

	out, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	u, ok := out.(Unknown)
	if !ok {
		t.Fatalf("expected Unknown, got %T", out)
	}
	if u.EventType() != "recipe.rated.v1" || u.EventID() != id || string(u.Data()) != `{"stars":5}` {
		t.Fatalf("unexpected unknown event: %s %s %s", u.EventType(), u.EventID(), u.Data())
	}

	again, err := Marshal(u)
	if err != nil {
		t.Fatalf("re-marshal unknown: %v", err)
	}
	if back, err := Unmarshal(again); err != nil || back.EventType() != "recipe.rated.v1" {
		t.Fatalf("unknown event did not survive re-encoding: %v %v", back, err)
	}
}

func TestCodec_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{`,
		"missing id":   `{"event_type":"recipe.created.v1","occurred_on":"2026-01-01T00:00:00Z","data":{}}`,
		"missing type": `{"event_id":"` + uuid.NewString() + `","occurred_on":"2026-01-01T00:00:00Z","data":{}}`,
		"missing time": `{"event_id":"` + uuid.NewString() + `","event_type":"recipe.created.v1","data":{}}`,
		"bad data":     `{"event_id":"` + uuid.NewString() + `","event_type":"recipe.created.v1","occurred_on":"2026-01-01T00:00:00Z","data":{"recipe_id":"x"}}`,
	}
	for name, raw := range cases {
		if _, err := Unmarshal([]byte(raw)); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("%s: expected ErrMalformedEvent, got %v", name, err)
		}
	}
	if _, err := Marshal(nil); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent for nil, got %v", err)
	}
}
