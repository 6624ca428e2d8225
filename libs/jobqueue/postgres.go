package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/recipeshare/libs/db"
	otelx "github.com/md-rashed-zaman/recipeshare/libs/otel"
)

// DefaultNotifyChannel is the LISTEN/NOTIFY channel signalled on every enqueue.
const DefaultNotifyChannel = "jobqueue_enqueued"

const jobColumns = `id, queue, job_type, payload, status, attempts, max_attempts, run_at,
	locked_until, last_error, traceparent, tracestate, created_at, finished_at`

// PostgresBroker stores jobs in the jobs table. Workers lease rows with
// FOR UPDATE SKIP LOCKED and a locked_until visibility deadline.
type PostgresBroker struct {
	pool          *db.Pool
	notifyChannel string
	logger        *slog.Logger
}

func NewPostgresBroker(pool *db.Pool, notifyChannel string, logger *slog.Logger) *PostgresBroker {
	return &PostgresBroker{pool: pool, notifyChannel: notifyChannel, logger: logger}
}

func (b *PostgresBroker) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	return b.enqueue(ctx, b.pool, req)
}

// EnqueueTx inserts the job inside tx; the NOTIFY is delivered when tx commits.
func (b *PostgresBroker) EnqueueTx(ctx context.Context, tx pgx.Tx, req EnqueueRequest) (int64, error) {
	return b.enqueue(ctx, tx, req)
}

func (b *PostgresBroker) enqueue(ctx context.Context, q db.Querier, req EnqueueRequest) (int64, error) {
	req, err := req.normalize()
	if err != nil {
		return 0, err
	}
	var runAt *time.Time
	if !req.RunAt.IsZero() {
		runAt = &req.RunAt
	}
	tc := otelx.CaptureTraceContext(ctx)

	var id int64
	err = q.QueryRow(ctx, `
		INSERT INTO jobs (queue, job_type, payload, max_attempts, run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, COALESCE($5::timestamptz, now()), $6, $7)
		RETURNING id
	`, req.Queue, req.Type, req.Payload, req.MaxAttempts, runAt, tc.Parent, tc.State).Scan(&id)
	if err != nil {
		return 0, err
	}

	if b.notifyChannel != "" {
		if _, err := q.Exec(ctx, `SELECT pg_notify($1, $2)`, b.notifyChannel, req.Queue); err != nil {
			return 0, fmt.Errorf("notify enqueue: %w", err)
		}
	}
	return id, nil
}

func (b *PostgresBroker) Fetch(ctx context.Context, queues []string, lease time.Duration) (*Job, error) {
	if len(queues) == 0 {
		return nil, nil
	}
	row := b.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'processing',
		    attempts = attempts + 1,
		    locked_until = now() + make_interval(secs => $2),
		    updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ANY($1::text[])
			  AND ((status = 'enqueued' AND run_at <= now())
			    OR (status = 'processing' AND locked_until < now()))
			ORDER BY array_position($1::text[], queue), run_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, queues, lease.Seconds())

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (b *PostgresBroker) Complete(ctx context.Context, id int64) error {
	return b.exec(ctx, `
		UPDATE jobs
		SET status = 'succeeded', locked_until = NULL, finished_at = now(), updated_at = now()
		WHERE id = $1
	`, id)
}

func (b *PostgresBroker) Retry(ctx context.Context, id int64, runAt time.Time, reason string) error {
	return b.exec(ctx, `
		UPDATE jobs
		SET status = 'enqueued', run_at = $2, last_error = $3, locked_until = NULL, updated_at = now()
		WHERE id = $1
	`, id, runAt, reason)
}

func (b *PostgresBroker) Fail(ctx context.Context, id int64, reason string) error {
	return b.exec(ctx, `
		UPDATE jobs
		SET status = 'failed', last_error = $2, locked_until = NULL, finished_at = now(), updated_at = now()
		WHERE id = $1
	`, id, reason)
}

func (b *PostgresBroker) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := b.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *PostgresBroker) Stats(ctx context.Context) (Stats, error) {
	rows, err := b.pool.Query(ctx, `SELECT queue, status, count(*) FROM jobs GROUP BY queue, status`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	stats := Stats{ByQueue: map[string]Counts{}}
	for rows.Next() {
		var (
			queue, status string
			n             int64
		)
		if err := rows.Scan(&queue, &status, &n); err != nil {
			return Stats{}, err
		}
		stats.add(queue, Status(status), n)
	}
	return stats, rows.Err()
}

func (b *PostgresBroker) List(ctx context.Context, filter Filter) ([]Job, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE ($1 = '' OR queue = $1) AND ($2 = '' OR status = $2)
		ORDER BY id DESC
		LIMIT $3
	`, filter.Queue, string(filter.Status), filter.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (b *PostgresBroker) Get(ctx context.Context, id int64) (Job, error) {
	job, err := scanJob(b.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return job, err
}

func (b *PostgresBroker) Requeue(ctx context.Context, id int64) error {
	tag, err := b.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'enqueued', attempts = 0, run_at = now(), locked_until = NULL,
		    finished_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'failed'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		if b.notifyChannel != "" {
			// The job is requeued either way; workers pick it up on their next poll.
			if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, '')`, b.notifyChannel); err != nil {
				b.logger.Warn("requeue notify failed", "job_id", id, "channel", b.notifyChannel, "err", err)
			}
		}
		return nil
	}
	if _, err := b.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotRequeueable
}

func (b *PostgresBroker) Purge(ctx context.Context, status Status, finishedBefore time.Time) (int64, error) {
	tag, err := b.pool.Exec(ctx, `
		DELETE FROM jobs WHERE status = $1 AND finished_at < $2
	`, string(status), finishedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (Job, error) {
	var (
		j      Job
		status string
	)
	err := row.Scan(&j.ID, &j.Queue, &j.Type, &j.Payload, &status, &j.Attempts, &j.MaxAttempts, &j.RunAt,
		&j.LockedUntil, &j.LastError, &j.Traceparent, &j.Tracestate, &j.CreatedAt, &j.FinishedAt)
	if err != nil {
		return Job{}, err
	}
	j.Status = Status(status)
	return j, nil
}
