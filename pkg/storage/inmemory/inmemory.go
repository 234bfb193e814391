// Package inmemory provides a map-backed storage.Driver. Document versions
// are kept as an arena of immutable snapshots per stream.
package inmemory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"

	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/state"
	"github.com/papercomputeco/memlayer/pkg/storage"
)

// Driver implements storage.Driver using in-memory maps.
type Driver struct {
	// mu guards every map below
	mu sync.RWMutex

	// streams maps a stream key to its version arena
	streams map[state.StreamKey]*stream

	// records is keyed by record ID
	records map[string]*memcube.Record

	// payloads holds each record's payload history, oldest first
	payloads map[string][]memcube.Payload

	// order remembers insertion order so listings are stable
	order []string
}

type stream struct {
	versions map[int64]*state.Document
	current  int64
}

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		streams:  make(map[state.StreamKey]*stream),
		records:  make(map[string]*memcube.Record),
		payloads: make(map[string][]memcube.Payload),
	}
}

// PutDocument stores a new immutable version and advances the current pointer.
func (d *Driver) PutDocument(_ context.Context, doc *state.Document) error {
	if doc == nil {
		return errors.New("cannot store nil document")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := doc.Key()
	s, ok := d.streams[key]
	if !ok {
		s = &stream{versions: make(map[int64]*state.Document)}
		d.streams[key] = s
	}
	if _, exists := s.versions[doc.Version]; exists {
		return storage.VersionConflictError{Stream: key.String(), Expected: doc.Version - 1, Current: s.current}
	}

	cp := *doc
	s.versions[doc.Version] = &cp
	if doc.Version > s.current {
		s.current = doc.Version
	}
	return nil
}

// GetDocument returns a stored version.
func (d *Driver) GetDocument(_ context.Context, key state.StreamKey, version int64) (*state.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.streams[key]
	if !ok {
		return nil, storage.NotFoundError{Kind: "stream", ID: key.String()}
	}
	doc, ok := s.versions[version]
	if !ok {
		return nil, storage.NotFoundError{Kind: "document version", ID: versionID(key, version)}
	}
	cp := *doc
	return &cp, nil
}

// LatestDocument returns the current version of the stream.
func (d *Driver) LatestDocument(ctx context.Context, key state.StreamKey) (*state.Document, error) {
	d.mu.RLock()
	s, ok := d.streams[key]
	var current int64
	if ok {
		current = s.current
	}
	d.mu.RUnlock()

	if !ok || current == 0 {
		return nil, storage.NotFoundError{Kind: "stream", ID: key.String()}
	}
	return d.GetDocument(ctx, key, current)
}

// ListHeaders returns version headers newest first.
func (d *Driver) ListHeaders(_ context.Context, key state.StreamKey, limit int) ([]state.Header, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.streams[key]
	if !ok {
		return nil, storage.NotFoundError{Kind: "stream", ID: key.String()}
	}

	headers := make([]state.Header, 0, len(s.versions))
	for _, doc := range s.versions {
		headers = append(headers, doc.Header())
	}
	slices.SortFunc(headers, func(a, b state.Header) int {
		return cmp.Compare(b.Version, a.Version)
	})
	if limit > 0 && len(headers) > limit {
		headers = headers[:limit]
	}
	return headers, nil
}

// CreateRecord inserts a record and its first payload.
func (d *Driver) CreateRecord(_ context.Context, r *memcube.Record) error {
	if r == nil {
		return errors.New("cannot store nil record")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.records[r.ID]; exists {
		return errors.New("record already exists: " + r.ID)
	}
	d.records[r.ID] = r.Clone()
	d.payloads[r.ID] = []memcube.Payload{clonePayload(r.Payload)}
	d.order = append(d.order, r.ID)
	return nil
}

// GetRecord returns a copy of the stored record.
func (d *Driver) GetRecord(_ context.Context, id string) (*memcube.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.records[id]
	if !ok {
		return nil, storage.NotFoundError{Kind: "memory record", ID: id}
	}
	return r.Clone(), nil
}

// UpdateRecord replaces record metadata and optionally appends a payload.
func (d *Driver) UpdateRecord(_ context.Context, r *memcube.Record, appended *memcube.Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.records[r.ID]; !ok {
		return storage.NotFoundError{Kind: "memory record", ID: r.ID}
	}
	if appended != nil {
		d.payloads[r.ID] = append(d.payloads[r.ID], clonePayload(*appended))
	}
	d.records[r.ID] = r.Clone()
	return nil
}

// ListPayloads returns the payload history oldest first.
func (d *Driver) ListPayloads(_ context.Context, id string) ([]memcube.Payload, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ps, ok := d.payloads[id]
	if !ok {
		return nil, storage.NotFoundError{Kind: "memory record", ID: id}
	}
	out := make([]memcube.Payload, len(ps))
	for i, p := range ps {
		out[i] = clonePayload(p)
	}
	return out, nil
}

// ListRecords returns matching records in insertion order.
func (d *Driver) ListRecords(_ context.Context, q storage.RecordQuery) ([]*memcube.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*memcube.Record
	for _, id := range d.order {
		r, ok := d.records[id]
		if !ok || !q.Matches(r) {
			continue
		}
		out = append(out, r.Clone())
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// DeleteRecord removes a record and its history.
func (d *Driver) DeleteRecord(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.records[id]; !ok {
		return storage.NotFoundError{Kind: "memory record", ID: id}
	}
	delete(d.records, id)
	delete(d.payloads, id)
	d.order = slices.DeleteFunc(d.order, func(x string) bool { return x == id })
	return nil
}

// Count returns the number of stored records.
func (d *Driver) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

func clonePayload(p memcube.Payload) memcube.Payload {
	p.Data = slices.Clone(p.Data)
	return p
}

func versionID(key state.StreamKey, version int64) string {
	return key.String() + "@" + strconv.FormatInt(version, 10)
}
