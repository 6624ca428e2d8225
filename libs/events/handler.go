package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/recipeshare/libs/jobqueue"
)

// Notifier sends the user-facing notification for a new recipe. email may be
// nil; implementations must treat that as "nobody to notify", not an error.
type Notifier interface {
	NotifyRecipeCreated(ctx context.Context, recipeID int64, title string, email *string) error
}

// Deduper remembers which events already had their side effects applied.
type Deduper interface {
	Seen(ctx context.Context, eventID uuid.UUID) (bool, error)
	Mark(ctx context.Context, eventID uuid.UUID, eventType string) error
}

// NopDeduper never reports an event as seen.
type NopDeduper struct{}

func (NopDeduper) Seen(context.Context, uuid.UUID) (bool, error) { return false, nil }
func (NopDeduper) Mark(context.Context, uuid.UUID, string) error { return nil }

type Handler struct {
	notifier Notifier
	dedup    Deduper
	logger   *slog.Logger
}

var _ Visitor = (*Handler)(nil)

func NewHandler(notifier Notifier, dedup Deduper, logger *slog.Logger) *Handler {
	if dedup == nil {
		dedup = NopDeduper{}
	}
	return &Handler{notifier: notifier, dedup: dedup, logger: logger}
}

// Handle applies the side effects of evt. Events already marked by the
// Deduper are skipped; the mark is written only after the side effect
// succeeds, so a crash in between leads to a repeat, never a loss.
func (h *Handler) Handle(ctx context.Context, evt Event) error {
	logger := h.logger.With("event_id", evt.EventID().String(), "event_type", evt.EventType())

	seen, err := h.dedup.Seen(ctx, evt.EventID())
	if err != nil {
		return fmt.Errorf("check handled events: %w", err)
	}
	if seen {
		logger.Info("event already handled, skipping")
		return nil
	}

	if err := Dispatch(ctx, evt, h); err != nil {
		logger.Error("event handler failed", "err", err)
		return err
	}

	if _, unknown := evt.(Unknown); unknown {
		return nil
	}
	if err := h.dedup.Mark(ctx, evt.EventID(), evt.EventType()); err != nil {
		// The side effect already happened; a redelivery will repeat it.
		logger.Warn("mark event handled failed", "err", err)
	}
	return nil
}

func (h *Handler) VisitRecipeCreated(ctx context.Context, evt RecipeCreated) error {
	if err := h.notifier.NotifyRecipeCreated(ctx, evt.RecipeID(), evt.Title(), evt.NotificationEmail()); err != nil {
		return fmt.Errorf("notify recipe %d created: %w", evt.RecipeID(), err)
	}
	return nil
}

func (h *Handler) VisitUnknown(_ context.Context, evt Unknown) error {
	h.logger.Warn("unhandled event type, dropping",
		"event_id", evt.EventID().String(),
		"event_type", evt.EventType(),
		"occurred_on", evt.OccurredOn(),
	)
	return nil
}

// JobHandler adapts Handle to the job server. A payload that cannot be decoded
// fails the job without retries.
func (h *Handler) JobHandler() jobqueue.HandlerFunc {
	return func(ctx context.Context, job jobqueue.Job) error {
		evt, err := Unmarshal(job.Payload)
		if err != nil {
			if errors.Is(err, ErrMalformedEvent) {
				return jobqueue.Permanent(err)
			}
			return err
		}
		return h.Handle(ctx, evt)
	}
}
