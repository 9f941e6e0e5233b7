// Package cache implements ingest.BlueprintKnower as a Redis-backed
// existence cache decorating the ingest store: a miss always falls through
// to the database, and a Redis failure degrades to "unknown" rather than
// failing the ingest. The cache is purely an optimization and is never
// load-bearing for correctness.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/electron/ventifact/internal/sklog"
)

// keyPrefix namespaces this cache's keys away from any other consumer of
// the same Redis instance.
const keyPrefix = "ventifact:blueprint:"

// Config configures a BlueprintCache.
type Config struct {
	// RedisURL is a standard redis://[user:pass@]host:port/db connection
	// string.
	RedisURL string
	// TTL is how long a known-blueprint marker is retained. TestBlueprint
	// rows are immutable once inserted, so this only bounds how long a
	// deleted (garbage-collected) blueprint's id can spuriously read back
	// as "known" before it is purged from the cache.
	TTL time.Duration
}

// BlueprintCache is a Redis-backed existence cache for TestBlueprint ids,
// used by ingest.Store to skip redundant upserts for ids it has already
// seen.
type BlueprintCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis per cfg and fails fast if the initial ping fails.
func New(ctx context.Context, cfg Config) (*BlueprintCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &BlueprintCache{client: client, ttl: cfg.TTL}, nil
}

func (c *BlueprintCache) key(id int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, id)
}

// KnownTestBlueprints reports, for each id, whether it was previously
// recorded as known. A Redis error degrades to "unknown" for every id in
// the batch rather than propagating: a false negative here only costs an
// extra (harmless, ON CONFLICT DO NOTHING) upsert, never correctness.
func (c *BlueprintCache) KnownTestBlueprints(ctx context.Context, ids []int64) (map[int64]bool, error) {
	known := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return known, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		sklog.Warningf("blueprint cache: MGET failed, treating %d ids as unknown: %v", len(ids), err)
		return known, nil
	}
	for i, v := range vals {
		if v != nil {
			known[ids[i]] = true
		}
	}
	return known, nil
}

// RecordTestBlueprints marks ids as known. It is called only after their
// upsert has committed, so a cache entry never outlives the row it
// describes. Failures are logged and swallowed: a dropped write just
// means the next ingest touching that id re-does a harmless upsert.
func (c *BlueprintCache) RecordTestBlueprints(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}
	pipe := c.client.Pipeline()
	for _, id := range ids {
		pipe.Set(ctx, c.key(id), "1", c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		sklog.Warningf("blueprint cache: failed to record %d ids: %v", len(ids), err)
	}
}

// Close releases the underlying Redis connection pool.
func (c *BlueprintCache) Close() error {
	return c.client.Close()
}
