package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-scheduling/internal/metrics"
)

// CachedResolver keeps successful lookups in Redis. Misses and cache failures
// fall through to the wrapped resolver; not-found answers are never cached.
type CachedResolver struct {
	next    Resolver
	rdb     *redis.Client
	ttl     time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewCachedResolver(next Resolver, rdb *redis.Client, ttl time.Duration, log zerolog.Logger, m *metrics.Metrics) *CachedResolver {
	return &CachedResolver{
		next:    next,
		rdb:     rdb,
		ttl:     ttl,
		log:     log.With().Str("component", "directory_cache").Logger(),
		metrics: m,
	}
}

func (c *CachedResolver) ResolvePatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	key := cacheKey(kindPatient, id)

	var p Patient
	if c.load(ctx, key, &p) {
		c.metrics.ObserveLookup(kindPatient, "cache", metrics.OutcomeSuccess)
		return &p, nil
	}

	fresh, err := c.next.ResolvePatient(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh)
	return fresh, nil
}

func (c *CachedResolver) ResolveDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	key := cacheKey(kindDoctor, id)

	var d Doctor
	if c.load(ctx, key, &d) {
		c.metrics.ObserveLookup(kindDoctor, "cache", metrics.OutcomeSuccess)
		return &d, nil
	}

	fresh, err := c.next.ResolveDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh)
	return fresh, nil
}

func (c *CachedResolver) load(ctx context.Context, key string, out any) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("directory cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("discarding corrupt directory cache entry")
		return false
	}
	return true
}

func (c *CachedResolver) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("directory cache write failed")
	}
}

func cacheKey(kind string, id uuid.UUID) string {
	return fmt.Sprintf("directory:%s:%s", kind, id.String())
}
