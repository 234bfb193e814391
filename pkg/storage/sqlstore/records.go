package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/storage"
)

var recordColumns = []string{
	"id", "project_id", "label", "type", "version", "governance", "priority", "lifecycle",
	"usage_hits", "last_used", "tasks", "embedding", "payload_version",
	"created_at", "updated_at", "archived_at", "expired_at",
}

var payloadColumns = []string{
	"record_id", "version", "storage_mode", "token_count", "size", "checksum", "blob_ref", "data", "created_at",
}

// CreateRecord inserts the record row and its first payload in one transaction.
func (s *Store) CreateRecord(ctx context.Context, r *memcube.Record) error {
	if r == nil {
		return errors.New("cannot store nil record")
	}
	values, err := recordValues(r)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx dialect.Tx) error {
		query, args := s.builder().Insert(recordsTable).Columns(recordColumns...).Values(values...).Query()
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
		return s.insertPayload(ctx, tx, r.ID, r.Payload)
	})
}

// GetRecord loads a record and its current payload.
func (s *Store) GetRecord(ctx context.Context, id string) (*memcube.Record, error) {
	sel := s.builder().Select(recordColumns...).
		From(entsql.Table(recordsTable)).
		Where(entsql.EQ("id", id))
	recs, err := s.queryRecords(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, storage.NotFoundError{Kind: "memory record", ID: id}
	}
	return recs[0], nil
}

// UpdateRecord rewrites the record row and appends a payload when given.
func (s *Store) UpdateRecord(ctx context.Context, r *memcube.Record, appended *memcube.Payload) error {
	gov, err := json.Marshal(r.Governance)
	if err != nil {
		return fmt.Errorf("encoding governance: %w", err)
	}
	tasks, embedding, err := encodeLists(r)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx dialect.Tx) error {
		if appended != nil {
			if err := s.insertPayload(ctx, tx, r.ID, *appended); err != nil {
				return err
			}
		}

		upd := s.builder().Update(recordsTable).
			Set("project_id", r.ProjectID).
			Set("label", r.Label).
			Set("type", string(r.Type)).
			Set("version", r.Version).
			Set("governance", string(gov)).
			Set("priority", string(r.Priority)).
			Set("lifecycle", string(r.Lifecycle)).
			Set("usage_hits", r.UsageHits).
			Set("last_used", nanos(r.LastUsed)).
			Set("tasks", tasks).
			Set("embedding", embedding).
			Set("payload_version", r.Payload.Version).
			Set("updated_at", r.UpdatedAt.UnixNano()).
			Set("archived_at", nanos(r.ArchivedAt)).
			Set("expired_at", nanos(r.ExpiredAt)).
			Where(entsql.EQ("id", r.ID))
		query, args := upd.Query()

		var res sql.Result
		if err := tx.Exec(ctx, query, args, &res); err != nil {
			return fmt.Errorf("updating record %s: %w", r.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return storage.NotFoundError{Kind: "memory record", ID: r.ID}
		}
		return nil
	})
}

// ListPayloads returns the payload history oldest first.
func (s *Store) ListPayloads(ctx context.Context, id string) ([]memcube.Payload, error) {
	if _, err := s.GetRecord(ctx, id); err != nil {
		return nil, err
	}
	sel := s.builder().Select(payloadColumns...).
		From(entsql.Table(payloadsTable)).
		Where(entsql.EQ("record_id", id)).
		OrderBy(entsql.Asc("version"))
	return s.queryPayloads(ctx, sel)
}

// ListRecords returns matching records ordered by creation.
func (s *Store) ListRecords(ctx context.Context, q storage.RecordQuery) ([]*memcube.Record, error) {
	var preds []*entsql.Predicate
	if q.ProjectID != "" {
		preds = append(preds, entsql.EQ("project_id", q.ProjectID))
	}
	if len(q.Lifecycles) > 0 {
		preds = append(preds, entsql.In("lifecycle", anySlice(q.Lifecycles)...))
	}
	if len(q.Priorities) > 0 {
		preds = append(preds, entsql.In("priority", anySlice(q.Priorities)...))
	}

	sel := s.builder().Select(recordColumns...).
		From(entsql.Table(recordsTable)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("id"))
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	if q.Limit > 0 {
		sel.Limit(q.Limit)
	}
	return s.queryRecords(ctx, sel)
}

// DeleteRecord removes the record and every payload version.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx dialect.Tx) error {
		query, args := s.builder().Delete(payloadsTable).Where(entsql.EQ("record_id", id)).Query()
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("deleting payloads of %s: %w", id, err)
		}

		query, args = s.builder().Delete(recordsTable).Where(entsql.EQ("id", id)).Query()
		var res sql.Result
		if err := tx.Exec(ctx, query, args, &res); err != nil {
			return fmt.Errorf("deleting record %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return storage.NotFoundError{Kind: "memory record", ID: id}
		}
		return nil
	})
}

func (s *Store) insertPayload(ctx context.Context, tx dialect.Tx, id string, p memcube.Payload) error {
	query, args := s.builder().Insert(payloadsTable).
		Columns(payloadColumns...).
		Values(id, p.Version, string(p.StorageMode), p.TokenCount, p.Size, p.Checksum, p.BlobRef, p.Data, p.CreatedAt.UnixNano()).
		Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("inserting payload %s v%d: %w", id, p.Version, err)
	}
	return nil
}

func (s *Store) queryRecords(ctx context.Context, sel *entsql.Selector) ([]*memcube.Record, error) {
	query, args := sel.Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}

	var (
		out      []*memcube.Record
		versions []int
	)
	for rows.Next() {
		var (
			r                          memcube.Record
			gov, tasks, embedding      string
			typ, priority, lifecycle   string
			payloadVersion             int
			created, updated           int64
			lastUsed, archived, expiry sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Label, &typ, &r.Version, &gov, &priority, &lifecycle,
			&r.UsageHits, &lastUsed, &tasks, &embedding, &payloadVersion,
			&created, &updated, &archived, &expiry); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r.Type = memcube.Type(typ)
		r.Priority = memcube.Priority(priority)
		r.Lifecycle = memcube.Lifecycle(lifecycle)
		r.LastUsed = fromNanos(lastUsed)
		r.ArchivedAt = fromNanos(archived)
		r.ExpiredAt = fromNanos(expiry)
		r.CreatedAt = time.Unix(0, created).UTC()
		r.UpdatedAt = time.Unix(0, updated).UTC()
		if err := json.Unmarshal([]byte(gov), &r.Governance); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding governance of %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(tasks), &r.Tasks); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding tasks of %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(embedding), &r.Embedding); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding embedding of %s: %w", r.ID, err)
		}
		if len(r.Tasks) == 0 {
			r.Tasks = nil
		}
		if len(r.Embedding) == 0 {
			r.Embedding = nil
		}
		out = append(out, &r)
		versions = append(versions, payloadVersion)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Current payloads are loaded after the cursor is closed so single
	// connection databases are not asked for a second concurrent cursor.
	for i, r := range out {
		sel := s.builder().Select(payloadColumns...).
			From(entsql.Table(payloadsTable)).
			Where(entsql.And(entsql.EQ("record_id", r.ID), entsql.EQ("version", versions[i])))
		ps, err := s.queryPayloads(ctx, sel)
		if err != nil {
			return nil, err
		}
		if len(ps) == 0 {
			return nil, fmt.Errorf("record %s is missing payload v%d", r.ID, versions[i])
		}
		r.Payload = ps[0]
	}
	return out, nil
}

func (s *Store) queryPayloads(ctx context.Context, sel *entsql.Selector) ([]memcube.Payload, error) {
	query, args := sel.Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("querying payloads: %w", err)
	}
	defer rows.Close()

	var out []memcube.Payload
	for rows.Next() {
		var (
			p        memcube.Payload
			recordID string
			mode     string
			created  int64
		)
		if err := rows.Scan(&recordID, &p.Version, &mode, &p.TokenCount, &p.Size, &p.Checksum, &p.BlobRef, &p.Data, &created); err != nil {
			return nil, fmt.Errorf("scanning payload: %w", err)
		}
		p.StorageMode = memcube.StorageMode(mode)
		p.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(tx dialect.Tx) error) error {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return tx.Commit()
}

func recordValues(r *memcube.Record) ([]any, error) {
	gov, err := json.Marshal(r.Governance)
	if err != nil {
		return nil, fmt.Errorf("encoding governance: %w", err)
	}
	tasks, embedding, err := encodeLists(r)
	if err != nil {
		return nil, err
	}
	return []any{
		r.ID, r.ProjectID, r.Label, string(r.Type), r.Version, string(gov), string(r.Priority), string(r.Lifecycle),
		r.UsageHits, nanos(r.LastUsed), tasks, embedding, r.Payload.Version,
		r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(), nanos(r.ArchivedAt), nanos(r.ExpiredAt),
	}, nil
}

func encodeLists(r *memcube.Record) (string, string, error) {
	tasks := r.Tasks
	if tasks == nil {
		tasks = []string{}
	}
	tb, err := json.Marshal(tasks)
	if err != nil {
		return "", "", fmt.Errorf("encoding tasks: %w", err)
	}
	emb := r.Embedding
	if emb == nil {
		emb = []float32{}
	}
	eb, err := json.Marshal(emb)
	if err != nil {
		return "", "", fmt.Errorf("encoding embedding: %w", err)
	}
	return string(tb), string(eb), nil
}

func anySlice[T ~string](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}
