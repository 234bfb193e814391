// Package storage defines the persistence contracts for documents and memory
// records. Implementations live in the inmemory, sqlite and postgres
// subpackages.
package storage

import (
	"context"
	"slices"

	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/state"
)

// DocumentDriver persists immutable document versions.
type DocumentDriver interface {
	// PutDocument stores a new version. It must fail with a
	// VersionConflictError when the version already exists for the stream,
	// so two writers can never commit the same version.
	PutDocument(ctx context.Context, doc *state.Document) error

	// GetDocument returns one version of a stream.
	GetDocument(ctx context.Context, key state.StreamKey, version int64) (*state.Document, error)

	// LatestDocument returns the highest version of a stream.
	LatestDocument(ctx context.Context, key state.StreamKey) (*state.Document, error)

	// ListHeaders returns version headers, newest first. limit <= 0 means all.
	ListHeaders(ctx context.Context, key state.StreamKey, limit int) ([]state.Header, error)

	// Close releases any resources held by the driver.
	Close() error
}

// RecordDriver persists memory records and their payload history.
type RecordDriver interface {
	// CreateRecord inserts a record and its payload as the first version.
	CreateRecord(ctx context.Context, r *memcube.Record) error

	// GetRecord returns a record with its current payload.
	GetRecord(ctx context.Context, id string) (*memcube.Record, error)

	// UpdateRecord replaces the record's metadata. When appended is non-nil it
	// is added to the payload history in the same write and becomes current.
	UpdateRecord(ctx context.Context, r *memcube.Record, appended *memcube.Payload) error

	// ListPayloads returns every payload version of a record, oldest first.
	ListPayloads(ctx context.Context, id string) ([]memcube.Payload, error)

	// ListRecords returns the records matching q, oldest first.
	ListRecords(ctx context.Context, q RecordQuery) ([]*memcube.Record, error)

	// DeleteRecord removes a record and its payload history.
	DeleteRecord(ctx context.Context, id string) error

	Close() error
}

// RecordQuery filters ListRecords. Zero fields match everything.
type RecordQuery struct {
	ProjectID  string
	Lifecycles []memcube.Lifecycle
	Priorities []memcube.Priority
	Limit      int
}

// Matches reports whether r satisfies the query filters (ignoring Limit).
func (q RecordQuery) Matches(r *memcube.Record) bool {
	if q.ProjectID != "" && r.ProjectID != q.ProjectID {
		return false
	}
	if len(q.Lifecycles) > 0 && !slices.Contains(q.Lifecycles, r.Lifecycle) {
		return false
	}
	if len(q.Priorities) > 0 && !slices.Contains(q.Priorities, r.Priority) {
		return false
	}
	return true
}

// Driver is a backend that stores both documents and records.
type Driver interface {
	DocumentDriver
	RecordDriver
}
