package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/leadpilot-ai/platform/pkg/common/logger"
	"github.com/leadpilot-ai/platform/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

// Cache keeps per-batch success/failure counters hot in Redis so the
// reconciler's periodic scan does not hammer Postgres. Entries are dropped
// by the relay on every record mutation and expire on their own otherwise.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func key(batchID uuid.UUID) string {
	return fmt.Sprintf("batch:progress:%s", batchID)
}

func (c *Cache) Get(ctx context.Context, batchID uuid.UUID) (models.BatchProgress, bool) {
	raw, err := c.client.Get(ctx, key(batchID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Log.WithError(err).WithField("batch_id", batchID).Warn("progress cache read failed")
		}
		return models.BatchProgress{}, false
	}

	var p models.BatchProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Log.WithError(err).WithField("batch_id", batchID).Warn("progress cache entry corrupt")
		return models.BatchProgress{}, false
	}
	return p, true
}

func (c *Cache) Set(ctx context.Context, p models.BatchProgress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(p.BatchID), raw, c.ttl).Err()
}

func (c *Cache) Invalidate(ctx context.Context, batchID uuid.UUID) error {
	return c.client.Del(ctx, key(batchID)).Err()
}
