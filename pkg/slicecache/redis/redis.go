// Package redis implements slicecache.Cache on Redis so several memlayer
// instances can share cached slices.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/papercomputeco/memlayer/pkg/slicecache"
	"github.com/papercomputeco/memlayer/pkg/state"
)

const (
	entryPrefix = "memlayer:slice:"
	indexPrefix = "memlayer:slice-index:"
)

// Cache stores each entry as a hash and tracks a per-stream sorted set of
// entry keys scored by version for invalidation.
type Cache struct {
	client *goredis.Client
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New connects to the Redis instance at url, e.g. "redis://localhost:6379/0".
func New(ctx context.Context, url string) (*Cache, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client) *Cache {
	return &Cache{client: client}
}

func entryKey(k slicecache.Key) string {
	return entryPrefix + k.String()
}

func indexKey(tenant, stream string) string {
	return indexPrefix + slicecache.StreamPrefix(tenant, stream)
}

// Get reads the entry hash and bumps its counters in one round trip.
func (c *Cache) Get(ctx context.Context, key slicecache.Key) (*slicecache.Entry, bool, error) {
	ek := entryKey(key)
	now := time.Now()

	var (
		getCmd *goredis.MapStringStringCmd
		ttlCmd *goredis.DurationCmd
	)
	_, err := c.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		getCmd = p.HGetAll(ctx, ek)
		ttlCmd = p.PTTL(ctx, ek)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading slice cache: %w", err)
	}

	fields := getCmd.Val()
	if len(fields) == 0 {
		c.misses.Add(1)
		return nil, false, nil
	}

	// HIncrBy on an expired-between-calls key would recreate it without a
	// TTL, so only bump counters on keys that still exist.
	count, err := c.client.Eval(ctx, touchScript, []string{ek}, now.UnixNano()).Int64()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, false, fmt.Errorf("touching slice cache entry: %w", err)
	}
	if count == 0 {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)

	var slice state.Slice
	if err := json.Unmarshal([]byte(fields["slice"]), &slice); err != nil {
		return nil, false, fmt.Errorf("decoding cached slice: %w", err)
	}
	entry := &slicecache.Entry{
		Slice:       &slice,
		AccessCount: count,
		AccessedAt:  now,
	}
	if ttl := ttlCmd.Val(); ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	return entry, true, nil
}

const touchScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then return 0 end
redis.call("HSET", KEYS[1], "accessed_at", ARGV[1])
return redis.call("HINCRBY", KEYS[1], "access_count", 1)
`

// Put writes the entry hash, its TTL and the stream index entry.
func (c *Cache) Put(ctx context.Context, key slicecache.Key, slice *state.Slice, ttl time.Duration) error {
	body, err := json.Marshal(slice)
	if err != nil {
		return fmt.Errorf("encoding slice: %w", err)
	}
	ek := entryKey(key)
	ik := indexKey(key.Tenant, key.Stream)
	now := time.Now()

	_, err = c.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, ek)
		p.HSet(ctx, ek,
			"slice", body,
			"access_count", 1,
			"accessed_at", now.UnixNano(),
		)
		p.PExpire(ctx, ek, ttl)
		p.ZAdd(ctx, ik, goredis.Z{Score: float64(key.Version), Member: ek})
		p.PExpire(ctx, ik, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing slice cache: %w", err)
	}
	return nil
}

// InvalidateBefore deletes the stream's entries below version.
func (c *Cache) InvalidateBefore(ctx context.Context, tenant, stream string, version int64) (int, error) {
	ik := indexKey(tenant, stream)
	upper := "(" + strconv.FormatInt(version, 10)

	keys, err := c.client.ZRangeByScore(ctx, ik, &goredis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("reading slice index: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var delCmd *goredis.IntCmd
	_, err = c.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		delCmd = p.Del(ctx, keys...)
		p.ZRemRangeByScore(ctx, ik, "-inf", upper)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("invalidating slices: %w", err)
	}
	return int(delCmd.Val()), nil
}

// Sweep is a no-op: Redis expires entries itself.
func (c *Cache) Sweep(context.Context) (int, error) {
	return 0, nil
}

// Stats counts entry keys with SCAN; use it for diagnostics only.
func (c *Cache) Stats(ctx context.Context) (slicecache.Stats, error) {
	entries := 0
	iter := c.client.Scan(ctx, 0, entryPrefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		entries++
	}
	if err := iter.Err(); err != nil {
		return slicecache.Stats{}, fmt.Errorf("scanning slice cache: %w", err)
	}
	return slicecache.Stats{
		Backend: "redis",
		Entries: entries,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}
