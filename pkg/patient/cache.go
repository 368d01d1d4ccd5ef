package patient

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/novacare/clinic-intake/pkg/common/logger"
	"github.com/novacare/clinic-intake/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

const cachePrefix = "intake:patient:"

// Cache serves GET-style lookups. Entries may be stale for up to their TTL;
// nothing on the create path reads from it.
type Cache interface {
	Get(ctx context.Context, key string) (*models.Patient, bool)
	Set(ctx context.Context, key string, p *models.Patient)
	Invalidate(ctx context.Context, p *models.Patient)
}

func idKey(id string) string   { return cachePrefix + "id:" + id }
func cinKey(cin string) string { return cachePrefix + "cin:" + cin }

type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*models.Patient, bool) { return nil, false }
func (NoopCache) Set(context.Context, string, *models.Patient)        {}
func (NoopCache) Invalidate(context.Context, *models.Patient)         {}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*models.Patient, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Log.WithError(err).WithField("key", key).Warn("Patient cache read failed")
		}
		return nil, false
	}

	var p models.Patient
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Log.WithError(err).WithField("key", key).Warn("Discarding unreadable patient cache entry")
		_ = c.client.Del(ctx, key).Err()
		return nil, false
	}
	return &p, true
}

func (c *RedisCache) Set(ctx context.Context, key string, p *models.Patient) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).WithField("key", key).Warn("Patient cache write failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, p *models.Patient) {
	if p == nil {
		return
	}
	keys := []string{idKey(p.ID)}
	if p.CIN != "" {
		keys = append(keys, cinKey(p.CIN))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Log.WithError(err).WithField("patient_id", p.ID).Warn("Patient cache invalidation failed")
	}
}
