package dedup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/recipeshare/libs/db"
	"github.com/md-rashed-zaman/recipeshare/libs/events"
)

// PostgresDeduper uses the handled_events inbox table.
type PostgresDeduper struct {
	q db.Querier
}

var _ events.Deduper = (*PostgresDeduper)(nil)

func NewPostgresDeduper(q db.Querier) *PostgresDeduper {
	return &PostgresDeduper{q: q}
}

func (d *PostgresDeduper) Seen(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := d.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM handled_events WHERE event_id = $1)`, id.String()).Scan(&exists)
	return exists, err
}

func (d *PostgresDeduper) Mark(ctx context.Context, id uuid.UUID, eventType string) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO handled_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, id.String(), eventType)
	return err
}

// Purge deletes inbox rows older than retention.
func (d *PostgresDeduper) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := d.q.Exec(ctx, `
		DELETE FROM handled_events WHERE handled_at < now() - make_interval(secs => $1)
	`, retention.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
