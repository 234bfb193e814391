// Package recordstore is the MemoryRecordStore service. It owns memory
// records and their append-only payload history, places payloads in the
// inline, compressed or cold tier, and enforces governance on every call
// made on behalf of a caller.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/papercomputeco/memlayer/pkg/blob"
	"github.com/papercomputeco/memlayer/pkg/embeddings"
	"github.com/papercomputeco/memlayer/pkg/eventstream"
	"github.com/papercomputeco/memlayer/pkg/governance"
	"github.com/papercomputeco/memlayer/pkg/logger"
	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/metrics"
	"github.com/papercomputeco/memlayer/pkg/storage"
	"github.com/papercomputeco/memlayer/pkg/utils"
	"github.com/papercomputeco/memlayer/pkg/worker"
)

const defaultFetchTimeout = 10 * time.Second

// Record change actions carried by events and metrics.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionLinked  = "linked"
	ActionPurged  = "purged"
)

// Config configures a Store.
type Config struct {
	Driver storage.RecordDriver

	// Blobs holds cold payloads. Without it, cold writes fail.
	Blobs blob.Store

	// FetchTimeout bounds one cold payload read or write. Defaults to 10s.
	FetchTimeout time.Duration

	// Embedder, when set, embeds label and content after every write.
	Embedder embeddings.Embedder

	// Pool runs embedding refreshes off the request path. When nil the
	// refresh runs before the write returns.
	Pool *worker.Pool

	Publisher eventstream.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store implements the memory record operations.
type Store struct {
	driver       storage.RecordDriver
	blobs        blob.Store
	fetchTimeout time.Duration
	embedder     embeddings.Embedder
	pool         *worker.Pool
	publisher    eventstream.Publisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time

	locks utils.KeyedMutex
}

// New creates a Store.
func New(c Config) *Store {
	s := &Store{
		driver:       c.Driver,
		blobs:        c.Blobs,
		fetchTimeout: c.FetchTimeout,
		embedder:     c.Embedder,
		pool:         c.Pool,
		publisher:    c.Publisher,
		metrics:      c.Metrics,
		logger:       logger.OrNop(c.Logger).With("component", "recordstore"),
		now:          c.Now,
	}
	if s.fetchTimeout <= 0 {
		s.fetchTimeout = defaultFetchTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateRequest carries the caller supplied fields of a new record.
type CreateRequest struct {
	ProjectID  string             `json:"project_id"`
	Label      string             `json:"label"`
	Type       memcube.Type       `json:"type"`
	Priority   memcube.Priority   `json:"priority"`
	Governance memcube.Governance `json:"governance"`
	Content    string             `json:"content"`
	Tasks      []string           `json:"tasks,omitempty"`

	// StorageMode pins the tier. Empty picks the tier by size.
	StorageMode memcube.StorageMode `json:"storage_mode,omitempty"`

	// TokenCount overrides the estimated token cost.
	TokenCount int `json:"token_count,omitempty"`
}

// Create validates and stores a new record at version 1 with lifecycle new.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*memcube.Record, error) {
	now := s.now()
	r := &memcube.Record{
		ID:         newID(),
		ProjectID:  req.ProjectID,
		Label:      req.Label,
		Type:       req.Type,
		Version:    1,
		Governance: req.Governance,
		Priority:   req.Priority,
		Lifecycle:  memcube.LifecycleNew,
		Tasks:      dedupe(req.Tasks),
		CreatedAt:  now,
		UpdatedAt:  now,
		Payload: memcube.Payload{
			StorageMode: req.StorageMode,
			TokenCount:  req.TokenCount,
		},
	}
	if r.Type == "" {
		r.Type = memcube.TypePlaintext
	}
	if r.Priority == "" {
		r.Priority = memcube.PriorityWarm
	}
	if err := r.ValidateNew(); err != nil {
		return nil, err
	}

	p, err := s.encode(ctx, r.ID, req.Content, req.StorageMode, req.TokenCount)
	if err != nil {
		return nil, err
	}
	p.Version = 1
	r.Payload = p

	if err := s.driver.CreateRecord(ctx, r); err != nil {
		s.discard(p)
		return nil, fmt.Errorf("creating record: %w", err)
	}

	s.metrics.RecordWrite(ActionCreated, string(p.StorageMode))
	s.logger.Debug("record created", "id", r.ID, "project", r.ProjectID, "mode", p.StorageMode, "size", p.Size)
	s.publishChange(ctx, r, ActionCreated)
	s.refreshEmbedding(r.ID, r.Version, r.Label, req.Content)

	r.Payload.Content = req.Content
	return r, nil
}

// Get returns a record with its current content, after a read access check.
func (s *Store) Get(ctx context.Context, id string) (*memcube.Record, error) {
	r, err := s.driver.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := governance.CheckRead(ctx, r); err != nil {
		return nil, err
	}
	if err := s.decode(ctx, &r.Payload); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateRequest replaces a record's content with a new payload version.
type UpdateRequest struct {
	Content     string              `json:"content"`
	StorageMode memcube.StorageMode `json:"storage_mode,omitempty"`
	TokenCount  int                 `json:"token_count,omitempty"`

	// Priority, when set, moves the record to another tier.
	Priority memcube.Priority `json:"priority,omitempty"`
}

// Update appends a payload version. Prior versions are never modified.
func (s *Store) Update(ctx context.Context, id string, req UpdateRequest) (*memcube.Record, error) {
	switch req.Priority {
	case "", memcube.PriorityHot, memcube.PriorityWarm, memcube.PriorityCold:
	default:
		return nil, fmt.Errorf("%w: unknown priority %q", memcube.ErrInvalidRecord, req.Priority)
	}

	current, err := s.writable(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := updatable(current); err != nil {
		return nil, err
	}

	p, err := s.encode(ctx, current.ID, req.Content, req.StorageMode, req.TokenCount)
	if err != nil {
		return nil, err
	}

	r, err := s.mutate(ctx, id, func(r *memcube.Record) (*memcube.Payload, error) {
		if err := updatable(r); err != nil {
			return nil, err
		}
		r.Version++
		p.Version = r.Version
		r.Payload = p
		if req.Priority != "" {
			r.Priority = req.Priority
		}
		r.UpdatedAt = s.now()
		return &p, nil
	})
	if err != nil {
		s.discard(p)
		return nil, err
	}

	s.metrics.RecordWrite(ActionUpdated, string(p.StorageMode))
	s.publishChange(ctx, r, ActionUpdated)
	s.refreshEmbedding(r.ID, r.Version, r.Label, req.Content)

	r.Payload.Content = req.Content
	return r, nil
}

// History returns every payload version of a record, oldest first, with
// content filled in.
func (s *Store) History(ctx context.Context, id string) ([]memcube.Payload, error) {
	r, err := s.driver.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := governance.CheckRead(ctx, r); err != nil {
		return nil, err
	}
	payloads, err := s.driver.ListPayloads(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range payloads {
		if err := s.decode(ctx, &payloads[i]); err != nil {
			return nil, err
		}
	}
	return payloads, nil
}

// Archive moves a record to archived. Archiving an archived record is a
// no-op; expired records cannot move back.
func (s *Store) Archive(ctx context.Context, id string) (*memcube.Record, error) {
	if _, err := s.writable(ctx, id); err != nil {
		return nil, err
	}

	var from memcube.Lifecycle
	r, err := s.mutate(ctx, id, func(r *memcube.Record) (*memcube.Payload, error) {
		if r.Lifecycle == memcube.LifecycleArchived {
			return nil, errUnchanged
		}
		from = r.Lifecycle
		return nil, memcube.Transition(r, memcube.LifecycleArchived, s.now())
	})
	if errors.Is(err, errUnchanged) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, r, from, "archived by caller")
	return r, nil
}

// RecordAccess counts a use of the record: usageHits+1, lastUsed=now, and a
// new or stale record becomes active. Archived and expired records are left
// untouched. It carries no governance check; callers that expose it must
// have checked read access already.
func (s *Store) RecordAccess(ctx context.Context, id string) (*memcube.Record, error) {
	var from memcube.Lifecycle
	r, err := s.mutate(ctx, id, func(r *memcube.Record) (*memcube.Payload, error) {
		if !r.Schedulable() {
			return nil, errUnchanged
		}
		now := s.now()
		from = r.Lifecycle
		r.UsageHits++
		r.LastUsed = &now
		r.UpdatedAt = now
		if r.Lifecycle == memcube.LifecycleNew || r.Lifecycle == memcube.LifecycleStale {
			return nil, memcube.Transition(r, memcube.LifecycleActive, now)
		}
		return nil, nil
	})
	if errors.Is(err, errUnchanged) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}

	if from != r.Lifecycle {
		s.transitioned(ctx, r, from, "accessed")
	}
	return r, nil
}

// LinkTask explicitly links a record to a task. Linking twice is a no-op.
func (s *Store) LinkTask(ctx context.Context, id, taskID string) (*memcube.Record, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, fmt.Errorf("%w: task_id is required", memcube.ErrInvalidRecord)
	}
	if _, err := s.writable(ctx, id); err != nil {
		return nil, err
	}

	r, err := s.mutate(ctx, id, func(r *memcube.Record) (*memcube.Payload, error) {
		if r.LinkedTo(taskID) {
			return nil, errUnchanged
		}
		r.Tasks = append(r.Tasks, taskID)
		r.UpdatedAt = s.now()
		return nil, nil
	})
	if errors.Is(err, errUnchanged) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordWrite(ActionLinked, string(r.Payload.StorageMode))
	s.publishChange(ctx, r, ActionLinked)
	return r, nil
}

// Purge hard deletes an expired record, its payload history and its cold
// blobs. Records in any other lifecycle state are rejected.
func (s *Store) Purge(ctx context.Context, id string) error {
	if _, err := s.writable(ctx, id); err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	r, err := s.driver.GetRecord(ctx, id)
	if err != nil {
		unlock()
		return err
	}
	if r.Lifecycle != memcube.LifecycleExpired {
		unlock()
		return fmt.Errorf("%w: only expired records can be purged, %s is %s", memcube.ErrInvalidRecord, id, r.Lifecycle)
	}
	payloads, err := s.driver.ListPayloads(ctx, id)
	if err == nil {
		err = s.driver.DeleteRecord(ctx, id)
	}
	unlock()
	if err != nil {
		return fmt.Errorf("purging record: %w", err)
	}

	for _, p := range payloads {
		s.discard(p)
	}

	s.metrics.RecordWrite(ActionPurged, string(r.Payload.StorageMode))
	s.logger.Info("record purged", "id", id, "versions", len(payloads))
	s.publishChange(ctx, r, ActionPurged)
	return nil
}

// List returns the records matching q that the caller may read, without
// content. With no lifecycle filter, archived and expired records are
// left out.
func (s *Store) List(ctx context.Context, q storage.RecordQuery) ([]*memcube.Record, error) {
	if len(q.Lifecycles) == 0 {
		q.Lifecycles = []memcube.Lifecycle{memcube.LifecycleNew, memcube.LifecycleActive, memcube.LifecycleStale}
	}
	limit := q.Limit
	q.Limit = 0

	all, err := s.driver.ListRecords(ctx, q)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if !governance.CanRead(ctx, r) {
			continue
		}
		r.Payload.Data = nil
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Advance applies the lifecycle transition policy p yields for the record
// at now, if any, under the record's lock. It reports the edge taken.
func (s *Store) Advance(ctx context.Context, id string, p memcube.Policy, now time.Time) (from, to memcube.Lifecycle, changed bool, err error) {
	r, err := s.mutate(ctx, id, func(r *memcube.Record) (*memcube.Payload, error) {
		next, ok := p.NextLifecycle(r, now)
		if !ok {
			return nil, errUnchanged
		}
		from = r.Lifecycle
		return nil, memcube.Transition(r, next, now)
	})
	if errors.Is(err, errUnchanged) {
		return r.Lifecycle, r.Lifecycle, false, nil
	}
	if err != nil {
		return "", "", false, err
	}

	s.transitioned(ctx, r, from, "sweep")
	return from, r.Lifecycle, true, nil
}

var errUnchanged = errors.New("unchanged")

// mutate runs fn on a fresh copy of the record under its lock and writes
// the result. fn returns errUnchanged to skip the write; the returned
// record is then the unchanged copy.
func (s *Store) mutate(ctx context.Context, id string, fn func(r *memcube.Record) (*memcube.Payload, error)) (*memcube.Record, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	r, err := s.driver.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	appended, err := fn(r)
	if errors.Is(err, errUnchanged) {
		return r, err
	}
	if err != nil {
		return nil, err
	}
	if err := s.driver.UpdateRecord(ctx, r, appended); err != nil {
		return nil, fmt.Errorf("updating record: %w", err)
	}
	return r, nil
}

// writable loads a record and checks the caller may write it.
func (s *Store) writable(ctx context.Context, id string) (*memcube.Record, error) {
	r, err := s.driver.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := governance.CheckWrite(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func updatable(r *memcube.Record) error {
	if !r.Schedulable() {
		return fmt.Errorf("%w: record %s is %s", memcube.ErrInvalidRecord, r.ID, r.Lifecycle)
	}
	return nil
}

func (s *Store) transitioned(ctx context.Context, r *memcube.Record, from memcube.Lifecycle, reason string) {
	s.metrics.Transition(string(r.Lifecycle))
	s.logger.Info("record lifecycle changed", "id", r.ID, "from", from, "to", r.Lifecycle, "reason", reason)
	if s.publisher == nil {
		return
	}
	event := eventstream.NewLifecycleTransitioned(
		eventstream.EventSource{ProjectID: r.ProjectID, Actor: governance.FromContext(ctx).ID},
		eventstream.LifecycleTransitioned{RecordID: r.ID, From: string(from), To: string(r.Lifecycle), Reason: reason},
		s.now(),
	)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("lifecycle event not published", "id", r.ID, "error", err)
	}
}

func (s *Store) publishChange(ctx context.Context, r *memcube.Record, action string) {
	if s.publisher == nil {
		return
	}
	event := eventstream.NewRecordChanged(
		eventstream.EventSource{ProjectID: r.ProjectID, Actor: governance.FromContext(ctx).ID},
		eventstream.RecordChanged{RecordID: r.ID, Action: action, Version: r.Version},
		s.now(),
	)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("record event not published", "id", r.ID, "action", action, "error", err)
	}
}

// refreshEmbedding embeds label and content and stores the vector, as long
// as the record is still at version when the embedding arrives.
func (s *Store) refreshEmbedding(id string, version int, label, content string) {
	if s.embedder == nil {
		return
	}
	run := func(ctx context.Context) error {
		vec, err := s.embedder.Embed(ctx, label+"\n"+content)
		if err != nil {
			return err
		}
		_, err = s.mutate(ctx, id, func(r *memcube.Record) (*memcube.Payload, error) {
			if r.Version != version {
				return nil, errUnchanged
			}
			r.Embedding = vec
			return nil, nil
		})
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}

	if s.pool == nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
		defer cancel()
		if err := run(ctx); err != nil {
			s.logger.Warn("embedding refresh failed", "id", id, "error", err)
		}
		return
	}
	if !s.pool.Enqueue(worker.Job{Kind: "embedding_refresh", Subject: id, Run: run}) {
		s.logger.Warn("embedding refresh dropped", "id", id)
	}
}

func dedupe(tasks []string) []string {
	var out []string
	for _, t := range tasks {
		if t = strings.TrimSpace(t); t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
