// Package recipes creates recipes and announces them. The recipe row, the
// RecipeCreated job and the recipes.recipe.created.v1 outbox row are written
// in one transaction, so either all three exist or none do.
package recipes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/recipeshare/libs/db"
	"github.com/md-rashed-zaman/recipeshare/libs/events"
	"github.com/md-rashed-zaman/recipeshare/libs/outbox"
	"github.com/md-rashed-zaman/recipeshare/services/recipe-service/internal/model"
)

var ErrInvalidRecipe = errors.New("invalid recipe")

type TxRunner interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type RecipeStore interface {
	Insert(ctx context.Context, q db.Querier, r *model.Recipe) error
}

type EventPublisher interface {
	PublishTx(ctx context.Context, tx pgx.Tx, evt events.Event) (int64, error)
}

type OutboxWriter interface {
	Insert(ctx context.Context, q db.Querier, evt outbox.Event) (uuid.UUID, error)
}

type NewRecipe struct {
	Title             string
	Description       string
	NotificationEmail string
}

type Created struct {
	Recipe  model.Recipe
	EventID uuid.UUID
	JobID   int64
}

type Service struct {
	tx        TxRunner
	store     RecipeStore
	publisher EventPublisher
	outbox    OutboxWriter
	clock     clockwork.Clock
}

func NewService(tx TxRunner, store RecipeStore, publisher EventPublisher, outboxWriter OutboxWriter, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{tx: tx, store: store, publisher: publisher, outbox: outboxWriter, clock: clock}
}

func (in NewRecipe) validate() (model.Recipe, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Recipe{}, fmt.Errorf("%w: title is required", ErrInvalidRecipe)
	}
	if len([]rune(title)) > model.MaxTitleLength {
		return model.Recipe{}, fmt.Errorf("%w: title longer than %d characters", ErrInvalidRecipe, model.MaxTitleLength)
	}
	r := model.Recipe{Title: title, Description: strings.TrimSpace(in.Description)}
	if email := strings.TrimSpace(in.NotificationEmail); email != "" {
		if !strings.Contains(email, "@") {
			return model.Recipe{}, fmt.Errorf("%w: notification_email is not an address", ErrInvalidRecipe)
		}
		r.NotificationEmail = &email
	}
	return r, nil
}

type recipeCreatedPayload struct {
	EventID   string    `json:"event_id"`
	RecipeID  int64     `json:"recipe_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Service) Create(ctx context.Context, in NewRecipe) (Created, error) {
	recipe, err := in.validate()
	if err != nil {
		return Created{}, err
	}

	var out Created
	err = s.tx.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.Insert(ctx, tx, &recipe); err != nil {
			return fmt.Errorf("insert recipe: %w", err)
		}

		evt := events.NewRecipeCreated(s.clock, recipe.ID, recipe.Title, recipe.NotificationEmail, recipe.CreatedAt)
		jobID, err := s.publisher.PublishTx(ctx, tx, evt)
		if err != nil {
			return fmt.Errorf("publish recipe created: %w", err)
		}

		payload, err := json.Marshal(recipeCreatedPayload{
			EventID:   evt.EventID().String(),
			RecipeID:  recipe.ID,
			Title:     recipe.Title,
			CreatedAt: recipe.CreatedAt.UTC(),
		})
		if err != nil {
			return err
		}
		// Same id as the domain event so consumers can correlate the two.
		if _, err := s.outbox.Insert(ctx, tx, outbox.Event{
			EventID:       evt.EventID(),
			AggregateType: "recipe",
			AggregateID:   strconv.FormatInt(recipe.ID, 10),
			EventType:     outbox.TopicRecipeCreated,
			Payload:       payload,
		}); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}

		out = Created{Recipe: recipe, EventID: evt.EventID(), JobID: jobID}
		return nil
	})
	if err != nil {
		return Created{}, err
	}
	return out, nil
}
