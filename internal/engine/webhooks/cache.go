package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"contentflow/internal/platform/config"
	"contentflow/internal/platform/models"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SubscriberCache holds each tenant's active subscribers for a short TTL. A stale entry
// can sign with an old secret; the delivery fails and is retried after expiry.
type SubscriberCache interface {
	Get(ctx context.Context, tenantID string) ([]*models.WebhookSubscriber, bool)
	Set(ctx context.Context, tenantID string, subs []*models.WebhookSubscriber)
	Invalidate(ctx context.Context, tenantID string)
}

func NewCache(cfg config.CacheConfig, clock clockwork.Clock) (SubscriberCache, error) {
	switch cfg.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse webhooks.cache.redis_url: %w", err)
		}
		return NewRedisCache(redis.NewClient(opts), cfg.TTL), nil
	case "memory", "":
		return NewMemoryCache(cfg.TTL, clock), nil
	default:
		return nil, fmt.Errorf("unknown webhook cache backend %q", cfg.Backend)
	}
}

type cachedSubscribers struct {
	subs     []*models.WebhookSubscriber
	cachedAt time.Time
}

type MemoryCache struct {
	store sync.Map // map[tenant_id]*cachedSubscribers
	ttl   time.Duration
	clock clockwork.Clock
}

func NewMemoryCache(ttl time.Duration, clock clockwork.Clock) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{ttl: ttl, clock: clock}
}

func (c *MemoryCache) Get(ctx context.Context, tenantID string) ([]*models.WebhookSubscriber, bool) {
	val, ok := c.store.Load(tenantID)
	if !ok {
		return nil, false
	}

	entry := val.(*cachedSubscribers)
	if c.clock.Since(entry.cachedAt) > c.ttl {
		c.store.Delete(tenantID)
		return nil, false
	}

	return entry.subs, true
}

func (c *MemoryCache) Set(ctx context.Context, tenantID string, subs []*models.WebhookSubscriber) {
	c.store.Store(tenantID, &cachedSubscribers{subs: subs, cachedAt: c.clock.Now()})
}

func (c *MemoryCache) Invalidate(ctx context.Context, tenantID string) {
	c.store.Delete(tenantID)
}

// RedisCache shares subscriber lists between server and worker processes, so an API
// change invalidates the entry the workers read.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(tenantID string) string {
	return "contentflow:webhook_subscribers:" + tenantID
}

func (c *RedisCache) Get(ctx context.Context, tenantID string) ([]*models.WebhookSubscriber, bool) {
	data, err := c.client.Get(ctx, redisKey(tenantID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("subscriber cache read failed")
		}
		return nil, false
	}
	var subs []*models.WebhookSubscriber
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, false
	}
	return subs, true
}

func (c *RedisCache) Set(ctx context.Context, tenantID string, subs []*models.WebhookSubscriber) {
	data, err := json.Marshal(subs)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKey(tenantID), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("subscriber cache write failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, tenantID string) {
	if err := c.client.Del(ctx, redisKey(tenantID)).Err(); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("subscriber cache invalidate failed")
	}
}
