// Package deadletter announces jobs that exhausted their retries as
// jobs.job.failed.v1 integration events.
package deadletter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/recipeshare/libs/db"
	"github.com/md-rashed-zaman/recipeshare/libs/events"
	"github.com/md-rashed-zaman/recipeshare/libs/jobqueue"
	"github.com/md-rashed-zaman/recipeshare/libs/outbox"
)

type payload struct {
	JobID     int64     `json:"job_id"`
	Queue     string    `json:"queue"`
	JobType   string    `json:"job_type"`
	Attempts  int       `json:"attempts"`
	Retries   int       `json:"retries"`
	Error     string    `json:"error"`
	EventID   string    `json:"event_id,omitempty"`
	EventType string    `json:"event_type,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
}

// BuildEvent describes a dead job as an outbox event. When the job carried a
// domain event, its id and type are included.
func BuildEvent(job jobqueue.Job, cause error, now time.Time) (outbox.Event, error) {
	p := payload{
		JobID:    job.ID,
		Queue:    job.Queue,
		JobType:  job.Type,
		Attempts: job.Attempts,
		Retries:  job.Retries(),
		Error:    cause.Error(),
		FailedAt: now.UTC(),
	}
	if job.Type == events.JobType {
		if evt, err := events.Unmarshal(job.Payload); err == nil {
			p.EventID = evt.EventID().String()
			p.EventType = evt.EventType()
		}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "job",
		AggregateID:   strconv.FormatInt(job.ID, 10),
		EventType:     outbox.TopicJobFailed,
		Payload:       body,
	}, nil
}

// NewHook returns a jobqueue.DeadLetterFunc that writes to the outbox. Errors
// are logged; the job is already failed and visible on the dashboard.
func NewHook(pool *db.Pool, repo *outbox.Repository, logger *slog.Logger) jobqueue.DeadLetterFunc {
	return func(ctx context.Context, job jobqueue.Job, cause error) {
		evt, err := BuildEvent(job, cause, time.Now())
		if err != nil {
			logger.Error("build dead letter event failed", "job_id", job.ID, "err", err)
			return
		}
		err = pool.InTx(ctx, func(tx pgx.Tx) error {
			_, err := repo.Insert(ctx, tx, evt)
			return err
		})
		if err != nil {
			logger.Error("write dead letter event failed", "job_id", job.ID, "err", err)
		}
	}
}
