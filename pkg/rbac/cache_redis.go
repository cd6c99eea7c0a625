package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/halldesk/halldesk/pkg/observability"
)

const redisCacheKeyPrefix = "halldesk:rbac:perms:"

// RedisPermissionCache stores permission sets in Redis with native key
// expiry, sharing cached resolutions across service instances. Every Redis
// failure is logged and treated as a miss so authorization falls back to
// recomputing from the database.
type RedisPermissionCache struct {
	client  *redis.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRedisPermissionCache creates a cache over client. logger must not be
// nil; metrics may be.
func NewRedisPermissionCache(client *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *RedisPermissionCache {
	return &RedisPermissionCache{
		client:  client,
		logger:  logger.Named("permission_cache"),
		metrics: metrics,
	}
}

func redisCacheKey(userID int64) string {
	return fmt.Sprintf("%s%d", redisCacheKeyPrefix, userID)
}

// Get returns the cached set for userID, treating any error as a miss.
func (c *RedisPermissionCache) Get(ctx context.Context, userID int64) (PermissionSet, bool) {
	data, err := c.client.Get(ctx, redisCacheKey(userID)).Bytes()
	if err == redis.Nil {
		c.countMiss()
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("cache read failed, treating as miss")
		c.countError("get")
		c.countMiss()
		return nil, false
	}

	var set PermissionSet
	if err := json.Unmarshal(data, &set); err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("cache entry corrupt, treating as miss")
		c.countError("decode")
		c.countMiss()
		return nil, false
	}
	c.countHit()
	return set, true
}

// Set stores the set for userID with Redis-side expiry. Failures are logged
// and dropped.
func (c *RedisPermissionCache) Set(ctx context.Context, userID int64, set PermissionSet, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(set)
	if err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Error("failed to encode permission set")
		return
	}
	if err := c.client.Set(ctx, redisCacheKey(userID), data, ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("cache write failed")
		c.countError("set")
	}
}

// Delete evicts userID's entry. Failures are logged; the TTL covers the
// stale window.
func (c *RedisPermissionCache) Delete(ctx context.Context, userID int64) {
	if err := c.client.Del(ctx, redisCacheKey(userID)).Err(); err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("cache eviction failed")
		c.countError("delete")
		return
	}
	c.countEviction()
}

func (c *RedisPermissionCache) countHit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
	}
}

func (c *RedisPermissionCache) countMiss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
	}
}

func (c *RedisPermissionCache) countEviction() {
	if c.metrics != nil {
		c.metrics.CacheEvictionsTotal.WithLabelValues("redis", "invalidated").Inc()
	}
}

func (c *RedisPermissionCache) countError(op string) {
	if c.metrics != nil {
		c.metrics.RedisErrorsTotal.WithLabelValues("cache_" + op).Inc()
	}
}
