// Package docstore is the DocumentStore service: versioned per-stream
// documents mutated only through delta lists, plus cached slice reads.
//
// Writers serialize per (tenant, stream) on an in-process lock and use the
// stream's current version as an optimistic token; readers never take the
// lock and always see the last committed version.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/memlayer/pkg/eventstream"
	"github.com/papercomputeco/memlayer/pkg/logger"
	"github.com/papercomputeco/memlayer/pkg/metrics"
	"github.com/papercomputeco/memlayer/pkg/slicecache"
	"github.com/papercomputeco/memlayer/pkg/state"
	"github.com/papercomputeco/memlayer/pkg/storage"
	"github.com/papercomputeco/memlayer/pkg/utils"
)

const defaultSliceTTL = 10 * time.Minute

// Config configures a Store.
type Config struct {
	Driver storage.DocumentDriver

	// Cache is optional. A nil or failing cache makes every slice a recompute.
	Cache slicecache.Cache

	// SliceTTL is how long extracted slices stay cached (defaults to 10m).
	SliceTTL time.Duration

	// Publisher receives a delta event per committed version. Optional.
	Publisher eventstream.Publisher

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store implements the document operations.
type Store struct {
	driver    storage.DocumentDriver
	cache     slicecache.Cache
	sliceTTL  atomic.Int64
	publisher eventstream.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	locks utils.KeyedMutex
}

// New creates a Store.
func New(c Config) *Store {
	s := &Store{
		driver:    c.Driver,
		cache:     c.Cache,
		publisher: c.Publisher,
		metrics:   c.Metrics,
		logger:    logger.OrNop(c.Logger).With("component", "docstore"),
		now:       c.Now,
	}
	ttl := c.SliceTTL
	if ttl <= 0 {
		ttl = defaultSliceTTL
	}
	s.sliceTTL.Store(int64(ttl))
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetSliceTTL changes the TTL used for newly cached slices.
func (s *Store) SetSliceTTL(ttl time.Duration) {
	if ttl > 0 {
		s.sliceTTL.Store(int64(ttl))
	}
}

// GetState returns the requested version, or the current one when version
// is 0.
func (s *Store) GetState(ctx context.Context, key state.StreamKey, version int64) (*state.Document, error) {
	if version < 0 {
		return nil, fmt.Errorf("%w: version must not be negative", storage.ErrInvalidInput)
	}
	if version == 0 {
		return s.driver.LatestDocument(ctx, key)
	}
	return s.driver.GetDocument(ctx, key, version)
}

// ApplyRequest is one delta write.
type ApplyRequest struct {
	Ops       []state.Delta `json:"ops"`
	Actor     string        `json:"actor"`
	LineageID string        `json:"lineage_id"`

	// ParentVersion, when set, is the version the caller based its ops on.
	// The write fails with a VersionConflictError if the stream has moved
	// past it. 0 means the caller expects the stream not to exist yet.
	ParentVersion *int64 `json:"parent_version,omitempty"`
}

// ApplyDelta applies req.Ops to the current version and commits the result
// as version current+1.
func (s *Store) ApplyDelta(ctx context.Context, key state.StreamKey, req ApplyRequest) (*state.Document, error) {
	if err := state.Validate(req.Ops); err != nil {
		s.metrics.InvalidDelta()
		return nil, err
	}
	if len(req.Ops) == 0 {
		s.metrics.InvalidDelta()
		return nil, fmt.Errorf("%w: no operations", state.ErrInvalidDelta)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next, err := s.commit(ctx, key, req)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrVersionConflict):
			s.metrics.Conflict()
		case errors.Is(err, state.ErrInvalidDelta):
			s.metrics.InvalidDelta()
		}
		return nil, err
	}
	s.metrics.DeltaApplied()

	s.logger.Debug("delta applied",
		"tenant", key.Tenant,
		"stream", key.Stream,
		"version", next.Version,
		"ops", len(req.Ops),
	)

	s.afterCommit(ctx, next, len(req.Ops))
	return next, nil
}

func (s *Store) commit(ctx context.Context, key state.StreamKey, req ApplyRequest) (*state.Document, error) {
	unlock := s.locks.Lock(key.String())
	defer unlock()

	current, err := s.driver.LatestDocument(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("reading current version: %w", err)
	}

	if req.ParentVersion != nil {
		var cv int64
		if current != nil {
			cv = current.Version
		}
		if cv != *req.ParentVersion {
			return nil, storage.VersionConflictError{Stream: key.String(), Expected: *req.ParentVersion, Current: cv}
		}
	}

	next, err := current.Next(key, req.Ops, req.Actor, req.LineageID, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.driver.PutDocument(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// afterCommit runs the best-effort follow ups of a write. None of them can
// fail the write.
func (s *Store) afterCommit(ctx context.Context, doc *state.Document, ops int) {
	if s.cache != nil {
		if n, err := s.cache.InvalidateBefore(ctx, doc.Tenant, doc.StreamID, doc.Version); err != nil {
			s.logger.Warn("slice cache invalidation failed", "stream", doc.Key().String(), "error", err)
		} else if n > 0 {
			s.logger.Debug("slice cache invalidated", "stream", doc.Key().String(), "entries", n)
		}
	}

	if s.publisher != nil {
		event := eventstream.NewDeltaApplied(
			eventstream.EventSource{Tenant: doc.Tenant, Stream: doc.StreamID, Actor: doc.Actor},
			eventstream.DeltaApplied{
				Version:       doc.Version,
				ParentVersion: doc.ParentVersion,
				LineageID:     doc.LineageID,
				Ops:           ops,
			},
			doc.CreatedAt,
		)
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("delta event not published", "stream", doc.Key().String(), "error", err)
		}
	}
}

// Slice extracts the entries of a document version matching pattern,
// serving from the cache when it can. version 0 means current.
func (s *Store) Slice(ctx context.Context, key state.StreamKey, version int64, pattern string, limit int) (*state.Slice, error) {
	if _, err := state.CompilePattern(pattern); err != nil {
		return nil, err
	}
	doc, err := s.GetState(ctx, key, version)
	if err != nil {
		return nil, err
	}
	return s.ExtractSlice(ctx, doc, pattern, limit)
}

// ExtractSlice is the cache-through form of state.ExtractSlice.
func (s *Store) ExtractSlice(ctx context.Context, doc *state.Document, pattern string, limit int) (*state.Slice, error) {
	ck := slicecache.KeyFor(doc, pattern, limit)

	if s.cache != nil {
		entry, ok, err := s.cache.Get(ctx, ck)
		switch {
		case err != nil:
			s.metrics.CacheLookup("error")
			s.logger.Warn("slice cache read failed", "key", ck.String(), "error", err)
		case ok:
			s.metrics.CacheLookup("hit")
			return entry.Slice, nil
		default:
			s.metrics.CacheLookup("miss")
		}
	}

	slice, err := state.ExtractSlice(doc, pattern, limit)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, ck, slice, time.Duration(s.sliceTTL.Load())); err != nil {
			s.logger.Warn("slice cache write failed", "key", ck.String(), "error", err)
		}
	}
	return slice, nil
}

// History lists version headers newest first.
func (s *Store) History(ctx context.Context, key state.StreamKey, limit int) ([]state.Header, error) {
	return s.driver.ListHeaders(ctx, key, limit)
}
