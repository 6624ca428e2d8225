// Package dedup records which domain events already had their side effects
// applied, so redelivered jobs can be skipped.
package dedup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/recipeshare/libs/events"
	"github.com/redis/go-redis/v9"
)

// RedisDeduper keeps one key per handled event until ttl expires.
type RedisDeduper struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

var _ events.Deduper = (*RedisDeduper)(nil)

func NewRedisDeduper(rdb redis.Cmdable, ttl time.Duration, prefix string) *RedisDeduper {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if prefix == "" {
		prefix = "handled"
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (d *RedisDeduper) key(id uuid.UUID) string {
	return d.prefix + ":" + id.String()
}

func (d *RedisDeduper) Seen(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := d.rdb.Exists(ctx, d.key(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, id uuid.UUID, eventType string) error {
	return d.rdb.SetNX(ctx, d.key(id), eventType, d.ttl).Err()
}
