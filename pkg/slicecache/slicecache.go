// Package slicecache memoizes slice extraction results. Entries are keyed by
// document version, so a newer version never reads an older slice; explicit
// invalidation only bounds memory.
package slicecache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/memlayer/pkg/state"
)

// Key identifies one cached slice.
type Key struct {
	Tenant  string
	Stream  string
	Version int64
	Pattern string
	Limit   int
}

// KeyFor builds the cache key of a slice request against doc.
func KeyFor(doc *state.Document, pattern string, limit int) Key {
	if limit < 0 {
		limit = 0
	}
	return Key{Tenant: doc.Tenant, Stream: doc.StreamID, Version: doc.Version, Pattern: pattern, Limit: limit}
}

// StreamPrefix returns the string prefix shared by every key of a stream.
func StreamPrefix(tenant, stream string) string {
	return escape(tenant) + "|" + escape(stream) + "|"
}

// String encodes the key. Tenant and stream are escaped so the encoding is
// unambiguous.
func (k Key) String() string {
	return StreamPrefix(k.Tenant, k.Stream) + strconv.FormatInt(k.Version, 10) + "|" + strconv.Itoa(k.Limit) + "|" + k.Pattern
}

// VersionFromString extracts the version from an encoded key.
func VersionFromString(s string) (int64, bool) {
	parts := strings.SplitN(s, "|", 5)
	if len(parts) < 5 {
		return 0, false
	}
	v, err := strconv.ParseInt(parts[2], 10, 64)
	return v, err == nil
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, "|", `\p`).Replace(s)
}

// Entry is a cached slice plus its bookkeeping.
type Entry struct {
	Slice       *state.Slice `json:"slice"`
	AccessCount int64        `json:"access_count"`
	AccessedAt  time.Time    `json:"accessed_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Stats summarizes cache activity.
type Stats struct {
	Backend string `json:"backend"`
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Cache stores slices with a TTL. Implementations must be safe for
// concurrent use; a failing cache is treated as a miss by callers.
type Cache interface {
	// Get returns the entry and bumps its access count, or ok=false on miss.
	Get(ctx context.Context, key Key) (entry *Entry, ok bool, err error)

	// Put stores a slice with accessCount=1. Last writer wins.
	Put(ctx context.Context, key Key, slice *state.Slice, ttl time.Duration) error

	// InvalidateBefore drops every entry of the stream older than version.
	InvalidateBefore(ctx context.Context, tenant, stream string, version int64) (int, error)

	// Sweep evicts expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)

	Stats(ctx context.Context) (Stats, error)

	Close() error
}
