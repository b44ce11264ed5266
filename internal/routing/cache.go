package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"hsl-congestion-recorder/internal/hfp"
)

// MatchCache stores fuzzy trip matches by departure. Implementations treat
// lookup failures as misses; the cache is an optimization, never a source of
// truth.
type MatchCache interface {
	Get(ctx context.Context, dep hfp.Departure) (TripMatch, bool)
	Set(ctx context.Context, dep hfp.Departure, match TripMatch)
}

// CacheMetrics counts cache effectiveness. Implementations must be safe for
// concurrent use.
type CacheMetrics interface {
	CacheHitInc()
	CacheMissInc()
}

// CachingMatcher serves fuzzy trip matches from a cache before falling back
// to the wrapped matcher. Both resolvers query the same departure, and
// vehicles report the same departure for the length of a trip, so most
// lookups repeat. No-match answers are not cached: a later schedule import
// may introduce the trip.
type CachingMatcher struct {
	next    TripMatcher
	cache   MatchCache
	metrics CacheMetrics
}

func NewCachingMatcher(next TripMatcher, cache MatchCache, m CacheMetrics) *CachingMatcher {
	return &CachingMatcher{next: next, cache: cache, metrics: m}
}

func (c *CachingMatcher) FuzzyTrip(ctx context.Context, dep hfp.Departure) (TripMatch, bool, error) {
	if match, ok := c.cache.Get(ctx, dep); ok {
		if c.metrics != nil {
			c.metrics.CacheHitInc()
		}
		return match, true, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMissInc()
	}

	match, found, err := c.next.FuzzyTrip(ctx, dep)
	if err != nil || !found {
		return match, found, err
	}
	c.cache.Set(ctx, dep, match)
	return match, true, nil
}

// RedisMatchCache backs MatchCache with Redis.
type RedisMatchCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisMatchCache(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*RedisMatchCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisMatchCache{
		client: client,
		prefix: "hsl-congestion:fuzzy-trip:",
		ttl:    ttl,
		logger: logger.With("component", "match_cache"),
	}, nil
}

func (c *RedisMatchCache) Close() error {
	return c.client.Close()
}

func (c *RedisMatchCache) key(dep hfp.Departure) string {
	return fmt.Sprintf("%s%s:%d:%s:%d", c.prefix, dep.RouteGtfsID, dep.DirectionID, dep.Date, dep.Seconds)
}

func (c *RedisMatchCache) Get(ctx context.Context, dep hfp.Departure) (TripMatch, bool) {
	data, err := c.client.Get(ctx, c.key(dep)).Bytes()
	if err == redis.Nil {
		return TripMatch{}, false
	}
	if err != nil {
		c.logger.Error("cache get failed", "key", c.key(dep), "error", err)
		return TripMatch{}, false
	}

	var match TripMatch
	if err := json.Unmarshal(data, &match); err != nil {
		c.logger.Error("cache entry corrupt", "key", c.key(dep), "error", err)
		return TripMatch{}, false
	}
	return match, true
}

func (c *RedisMatchCache) Set(ctx context.Context, dep hfp.Departure, match TripMatch) {
	data, err := json.Marshal(match)
	if err != nil {
		c.logger.Error("cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, c.key(dep), data, c.ttl).Err(); err != nil {
		c.logger.Error("cache set failed", "key", c.key(dep), "error", err)
	}
}
