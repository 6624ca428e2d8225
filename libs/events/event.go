// Package events defines the domain events raised by recipe workflows and the
// plumbing that moves them through the job queue.
//
// The set of event kinds is closed: Event can only be implemented inside this
// package, and every kind is visited through Visitor, so adding a kind fails
// to compile until every visitor handles it.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const TypeRecipeCreated = "recipe.created.v1"

type Event interface {
	EventID() uuid.UUID
	OccurredOn() time.Time
	EventType() string

	accept(ctx context.Context, v Visitor) error
}

// Visitor has one method per event kind.
type Visitor interface {
	VisitRecipeCreated(ctx context.Context, evt RecipeCreated) error
	VisitUnknown(ctx context.Context, evt Unknown) error
}

// Dispatch calls the Visitor method matching evt's kind.
func Dispatch(ctx context.Context, evt Event, v Visitor) error {
	return evt.accept(ctx, v)
}

type header struct {
	id         uuid.UUID
	occurredOn time.Time
}

func newHeader(clock clockwork.Clock) header {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return header{id: uuid.New(), occurredOn: clock.Now().UTC()}
}

func (h header) EventID() uuid.UUID    { return h.id }
func (h header) OccurredOn() time.Time { return h.occurredOn }

// RecipeCreated is raised after a recipe row is committed.
type RecipeCreated struct {
	header
	recipeID          int64
	title             string
	notificationEmail *string
	createdAt         time.Time
}

// NewRecipeCreated stamps a fresh event id and the current time from clock
// (nil uses the wall clock). A blank email is treated as absent.
func NewRecipeCreated(clock clockwork.Clock, recipeID int64, title string, notificationEmail *string, createdAt time.Time) RecipeCreated {
	return RecipeCreated{
		header:            newHeader(clock),
		recipeID:          recipeID,
		title:             title,
		notificationEmail: normalizeEmail(notificationEmail),
		createdAt:         createdAt.UTC(),
	}
}

func normalizeEmail(email *string) *string {
	if email == nil {
		return nil
	}
	v := strings.TrimSpace(*email)
	if v == "" {
		return nil
	}
	return &v
}

func (RecipeCreated) EventType() string      { return TypeRecipeCreated }
func (e RecipeCreated) RecipeID() int64      { return e.recipeID }
func (e RecipeCreated) Title() string        { return e.title }
func (e RecipeCreated) CreatedAt() time.Time { return e.createdAt }

// NotificationEmail returns a copy; nil when the creator asked for no email.
func (e RecipeCreated) NotificationEmail() *string {
	if e.notificationEmail == nil {
		return nil
	}
	v := *e.notificationEmail
	return &v
}

func (e RecipeCreated) accept(ctx context.Context, v Visitor) error {
	return v.VisitRecipeCreated(ctx, e)
}

// Unknown is decoded for an event_type this build does not recognise, for
// example one published by a newer producer.
type Unknown struct {
	header
	eventType string
	data      []byte
}

func (e Unknown) EventType() string { return e.eventType }

// Data returns a copy of the undecoded event body.
func (e Unknown) Data() []byte { return append([]byte(nil), e.data...) }

func (e Unknown) accept(ctx context.Context, v Visitor) error {
	return v.VisitUnknown(ctx, e)
}
