package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrMalformedEvent = errors.New("malformed event")

type envelope struct {
	EventID    uuid.UUID       `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredOn time.Time       `json:"occurred_on"`
	Data       json.RawMessage `json:"data"`
}

type recipeCreatedData struct {
	RecipeID          int64     `json:"recipe_id"`
	Title             string    `json:"title"`
	NotificationEmail *string   `json:"notification_email"`
	CreatedAt         time.Time `json:"created_at"`
}

func Marshal(evt Event) ([]byte, error) {
	var data []byte
	switch e := evt.(type) {
	case RecipeCreated:
		b, err := json.Marshal(recipeCreatedData{
			RecipeID:          e.recipeID,
			Title:             e.title,
			NotificationEmail: e.notificationEmail,
			CreatedAt:         e.createdAt,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
		}
		data = b
	case Unknown:
		data = e.data
	case nil:
		return nil, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	default:
		return nil, fmt.Errorf("%w: unsupported kind %T", ErrMalformedEvent, evt)
	}
	if len(data) == 0 {
		data = []byte("null")
	}
	return json.Marshal(envelope{
		EventID:    evt.EventID(),
		EventType:  evt.EventType(),
		OccurredOn: evt.OccurredOn(),
		Data:       data,
	})
}

// Unmarshal decodes an envelope produced by Marshal. Unrecognised event types
// come back as Unknown rather than an error.
func Unmarshal(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.EventID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing event_id", ErrMalformedEvent)
	}
	if strings.TrimSpace(env.EventType) == "" {
		return nil, fmt.Errorf("%w: missing event_type", ErrMalformedEvent)
	}
	if env.OccurredOn.IsZero() {
		return nil, fmt.Errorf("%w: missing occurred_on", ErrMalformedEvent)
	}
	h := header{id: env.EventID, occurredOn: env.OccurredOn.UTC()}

	switch env.EventType {
	case TypeRecipeCreated:
		var d recipeCreatedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: %s data: %v", ErrMalformedEvent, env.EventType, err)
		}
		return RecipeCreated{
			header:            h,
			recipeID:          d.RecipeID,
			title:             d.Title,
			notificationEmail: normalizeEmail(d.NotificationEmail),
			createdAt:         d.CreatedAt.UTC(),
		}, nil
	default:
		return Unknown{header: h, eventType: env.EventType, data: []byte(env.Data)}, nil
	}
}
