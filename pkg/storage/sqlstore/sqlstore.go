// Package sqlstore implements storage.Driver over database/sql using the ent
// dialect query builders, so the same code serves SQLite and PostgreSQL.
// The sqlite and postgres packages open the connection and embed a Store.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/memlayer/pkg/state"
	"github.com/papercomputeco/memlayer/pkg/storage"
)

// Store implements storage.Driver on top of an ent SQL driver.
type Store struct {
	drv *entsql.Driver
}

// New wraps an open ent SQL driver.
func New(drv *entsql.Driver) *Store {
	return &Store{drv: drv}
}

func (s *Store) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.drv.Dialect())
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.drv.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.drv.DB()
}

var documentColumns = []string{"tenant", "stream_id", "version", "parent_version", "state", "actor", "lineage_id", "created_at"}

// PutDocument inserts a version. The primary key on (tenant, stream_id,
// version) rejects a second writer of the same version.
func (s *Store) PutDocument(ctx context.Context, doc *state.Document) error {
	if doc == nil {
		return errors.New("cannot store nil document")
	}
	body, err := json.Marshal(doc.State)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	var parent any
	if doc.ParentVersion != nil {
		parent = *doc.ParentVersion
	}

	query, args := s.builder().Insert(documentsTable).
		Columns(documentColumns...).
		Values(doc.Tenant, doc.StreamID, doc.Version, parent, string(body), doc.Actor, doc.LineageID, doc.CreatedAt.UnixNano()).
		Query()
	if err := s.drv.Exec(ctx, query, args, nil); err != nil {
		key := doc.Key()
		if latest, lerr := s.LatestDocument(ctx, key); lerr == nil && latest.Version >= doc.Version {
			return storage.VersionConflictError{Stream: key.String(), Expected: doc.Version - 1, Current: latest.Version}
		}
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// GetDocument returns one version of a stream.
func (s *Store) GetDocument(ctx context.Context, key state.StreamKey, version int64) (*state.Document, error) {
	sel := s.builder().Select(documentColumns...).
		From(entsql.Table(documentsTable)).
		Where(entsql.And(
			entsql.EQ("tenant", key.Tenant),
			entsql.EQ("stream_id", key.Stream),
			entsql.EQ("version", version),
		))
	docs, err := s.queryDocuments(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, storage.NotFoundError{Kind: "document version", ID: fmt.Sprintf("%s@%d", key, version)}
	}
	return docs[0], nil
}

// LatestDocument returns the highest version of a stream.
func (s *Store) LatestDocument(ctx context.Context, key state.StreamKey) (*state.Document, error) {
	sel := s.builder().Select(documentColumns...).
		From(entsql.Table(documentsTable)).
		Where(entsql.And(
			entsql.EQ("tenant", key.Tenant),
			entsql.EQ("stream_id", key.Stream),
		)).
		OrderBy(entsql.Desc("version")).
		Limit(1)
	docs, err := s.queryDocuments(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, storage.NotFoundError{Kind: "stream", ID: key.String()}
	}
	return docs[0], nil
}

// ListHeaders returns version headers newest first.
func (s *Store) ListHeaders(ctx context.Context, key state.StreamKey, limit int) ([]state.Header, error) {
	sel := s.builder().Select(documentColumns...).
		From(entsql.Table(documentsTable)).
		Where(entsql.And(
			entsql.EQ("tenant", key.Tenant),
			entsql.EQ("stream_id", key.Stream),
		)).
		OrderBy(entsql.Desc("version"))
	if limit > 0 {
		sel.Limit(limit)
	}
	docs, err := s.queryDocuments(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, storage.NotFoundError{Kind: "stream", ID: key.String()}
	}
	headers := make([]state.Header, len(docs))
	for i, d := range docs {
		headers[i] = d.Header()
	}
	return headers, nil
}

func (s *Store) queryDocuments(ctx context.Context, sel *entsql.Selector) ([]*state.Document, error) {
	query, args := sel.Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var out []*state.Document
	for rows.Next() {
		var (
			doc     state.Document
			parent  sql.NullInt64
			body    string
			created int64
		)
		if err := rows.Scan(&doc.Tenant, &doc.StreamID, &doc.Version, &parent, &body, &doc.Actor, &doc.LineageID, &created); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		if parent.Valid {
			pv := parent.Int64
			doc.ParentVersion = &pv
		}
		if err := json.Unmarshal([]byte(body), &doc.State); err != nil {
			return nil, fmt.Errorf("decoding state of %s@%d: %w", doc.Key(), doc.Version, err)
		}
		doc.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, &doc)
	}
	return out, rows.Err()
}

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
