// Package outbox implements the transactional outbox: integration events are
// written in the same transaction as the state change that caused them and a
// relay later copies them to Kafka, one topic per event type.
package outbox

import "github.com/google/uuid"

const (
	TopicRecipeCreated = "recipes.recipe.created.v1"
	TopicJobFailed     = "jobs.job.failed.v1"
)

// Event is one row to publish. Topic equals EventType. A zero EventID gets a
// fresh one on insert.
type Event struct {
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
