package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/pkg/evaluation"
)

// Loader fills cache misses from the authoritative store. Loaders return the
// store's not-found sentinel unchanged so callers can tell "flag does not
// exist" from a transient failure.
type Loader interface {
	LoadFlag(ctx context.Context, projectKey, flagKey, envKey string) (*evaluation.FlagSnapshot, error)
	LoadEnvironment(ctx context.Context, projectKey, envKey string) ([]*evaluation.FlagSnapshot, error)
}

// FlagKey is the cache key for one flag's snapshot in one environment.
func FlagKey(projectKey, flagKey, envKey string) string {
	return fmt.Sprintf("flag:%s:%s:%s", projectKey, flagKey, envKey)
}

// EnvKey is the cache key for an environment's bootstrap snapshot list.
func EnvKey(projectKey, envKey string) string {
	return fmt.Sprintf("flags:%s:%s", projectKey, envKey)
}

// SnapshotCache is the decision path's read-through cache: an in-process
// ristretto layer in front of a shared Redis layer in front of the Loader.
// Both layers hold entries for the same TTL and both are deleted eagerly on
// invalidation; the TTL is the safety net for invalidations that never
// arrive. Concurrent misses may load the same snapshot twice, which is
// harmless because snapshots are idempotent projections of store state.
type SnapshotCache struct {
	l1     *ristretto.Cache
	redis  *redis.Client
	loader Loader
	ttl    time.Duration
	logger zerolog.Logger
}

// Options tunes the in-process layer.
type Options struct {
	TTL           time.Duration
	L1NumCounters int64
	L1MaxCost     int64
}

// New creates a snapshot cache. A nil Redis client turns off the shared
// layer, leaving per-process caching over the loader.
func New(redisClient *redis.Client, loader Loader, opts Options, logger zerolog.Logger) (*SnapshotCache, error) {
	if opts.TTL <= 0 {
		opts.TTL = 60 * time.Second
	}
	if opts.L1NumCounters <= 0 {
		opts.L1NumCounters = 100_000
	}
	if opts.L1MaxCost <= 0 {
		opts.L1MaxCost = 64 << 20
	}

	l1, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.L1NumCounters,
		MaxCost:     opts.L1MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create in-process cache: %w", err)
	}

	return &SnapshotCache{
		l1:     l1,
		redis:  redisClient,
		loader: loader,
		ttl:    opts.TTL,
		logger: logger.With().Str("component", "snapshot_cache").Logger(),
	}, nil
}

// GetFlag returns the snapshot for one flag in one environment, loading and
// filling on miss.
func (c *SnapshotCache) GetFlag(ctx context.Context, projectKey, flagKey, envKey string) (*evaluation.FlagSnapshot, error) {
	key := FlagKey(projectKey, flagKey, envKey)

	if v, ok := c.l1.Get(key); ok {
		if snap, ok := v.(*evaluation.FlagSnapshot); ok {
			return snap, nil
		}
	}

	if data, ok := c.redisGet(ctx, key); ok {
		snap := &evaluation.FlagSnapshot{}
		if err := json.Unmarshal(data, snap); err == nil {
			c.l1.SetWithTTL(key, snap, int64(len(data)), c.ttl)
			return snap, nil
		}
		c.logger.Warn().Str("key", key).Msg("Dropping undecodable cached snapshot")
	}

	snap, err := c.loader.LoadFlag(ctx, projectKey, flagKey, envKey)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, snap)
	return snap, nil
}

// GetEnvironment returns every active snapshot for a (project, environment),
// the SDK bootstrap payload.
func (c *SnapshotCache) GetEnvironment(ctx context.Context, projectKey, envKey string) ([]*evaluation.FlagSnapshot, error) {
	key := EnvKey(projectKey, envKey)

	if v, ok := c.l1.Get(key); ok {
		if snaps, ok := v.([]*evaluation.FlagSnapshot); ok {
			return snaps, nil
		}
	}

	if data, ok := c.redisGet(ctx, key); ok {
		var snaps []*evaluation.FlagSnapshot
		if err := json.Unmarshal(data, &snaps); err == nil {
			c.l1.SetWithTTL(key, snaps, int64(len(data)), c.ttl)
			return snaps, nil
		}
		c.logger.Warn().Str("key", key).Msg("Dropping undecodable cached snapshot list")
	}

	snaps, err := c.loader.LoadEnvironment(ctx, projectKey, envKey)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, snaps)
	return snaps, nil
}

// Invalidate drops the snapshot for one flag and the environment's bootstrap
// list. Every config write affecting a flag routes through here via the
// outbox drain.
func (c *SnapshotCache) Invalidate(ctx context.Context, projectKey, flagKey, envKey string) {
	keys := []string{FlagKey(projectKey, flagKey, envKey), EnvKey(projectKey, envKey)}
	for _, key := range keys {
		c.l1.Del(key)
	}
	if c.redis != nil {
		if err := c.redis.Del(ctx, keys...).Err(); err != nil {
			// Best effort; the TTL bounds the staleness window.
			c.logger.Warn().Err(err).Strs("keys", keys).Msg("Redis invalidation failed")
		}
	}
}

func (c *SnapshotCache) fill(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to encode snapshot")
		return
	}
	c.l1.SetWithTTL(key, value, int64(len(data)), c.ttl)
	if c.redis != nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Redis fill failed")
		}
	}
}

func (c *SnapshotCache) redisGet(ctx context.Context, key string) ([]byte, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Redis read failed")
		}
		return nil, false
	}
	return data, true
}

// Close releases the in-process layer. The Redis client is shared and closed
// by its owner.
func (c *SnapshotCache) Close() {
	c.l1.Close()
}
