// Package visitors implements the identity-resolution pipeline: visitor
// lifecycle, identification with rate limiting and enrichment, and the
// batched activity writer.
package visitors

import (
	"context"
	"time"

	"visitor-tracker/internal/common/logging"
	"visitor-tracker/internal/models"
	"visitor-tracker/internal/redis"
)

// Cache is the visitor snapshot cache. Implementations must treat their
// backend as best-effort: a read failure is a miss and a write failure is
// a no-op, because reads fall through to the durable store and entries
// expire on their own.
type Cache interface {
	GetVisitor(ctx context.Context, id string) (*models.Visitor, bool)
	SetVisitor(ctx context.Context, visitor *models.Visitor)
	DeleteVisitor(ctx context.Context, id string)
	TouchLastSeen(ctx context.Context, id string, seen time.Time)
}

const (
	visitorKeyPrefix  = "visitor:"
	lastSeenKeyPrefix = "visitor:last_seen:"
)

// RedisCache stores visitor snapshots in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logging.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger logging.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *RedisCache) GetVisitor(ctx context.Context, id string) (*models.Visitor, bool) {
	var visitor models.Visitor
	err := c.client.GetJSON(ctx, visitorKeyPrefix+id, &visitor)
	if err != nil {
		if !redis.IsMiss(err) {
			c.logger.Warn("visitor cache read failed, treating as miss",
				logging.String("visitor_id", id),
				logging.Err(err))
		}
		return nil, false
	}
	return &visitor, true
}

func (c *RedisCache) SetVisitor(ctx context.Context, visitor *models.Visitor) {
	if err := c.client.Set(ctx, visitorKeyPrefix+visitor.ID, visitor, c.ttl); err != nil {
		c.logger.Warn("visitor cache write failed",
			logging.String("visitor_id", visitor.ID),
			logging.Err(err))
	}
}

func (c *RedisCache) DeleteVisitor(ctx context.Context, id string) {
	if err := c.client.Delete(ctx, visitorKeyPrefix+id); err != nil {
		c.logger.Warn("visitor cache delete failed",
			logging.String("visitor_id", id),
			logging.Err(err))
	}
}

// TouchLastSeen records activity freshness without rewriting the whole
// snapshot. Durable lastSeen is updated when the activity batch flushes.
func (c *RedisCache) TouchLastSeen(ctx context.Context, id string, seen time.Time) {
	if err := c.client.Set(ctx, lastSeenKeyPrefix+id, seen.UTC().Format(time.RFC3339Nano), c.ttl); err != nil {
		c.logger.Warn("last seen cache write failed",
			logging.String("visitor_id", id),
			logging.Err(err))
	}
}
