package sqlstore

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
)

const (
	documentsTable = "documents"
	recordsTable   = "memory_records"
	payloadsTable  = "memory_payloads"
)

// ddl returns the schema statements for a dialect. Every statement is
// idempotent so Migrate can run on each start.
func ddl(name string) ([]string, error) {
	var blob string
	switch name {
	case dialect.SQLite:
		blob = "BLOB"
	case dialect.Postgres:
		blob = "BYTEA"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS documents (
			tenant         TEXT   NOT NULL,
			stream_id      TEXT   NOT NULL,
			version        BIGINT NOT NULL,
			parent_version BIGINT,
			state          TEXT   NOT NULL,
			actor          TEXT   NOT NULL DEFAULT '',
			lineage_id     TEXT   NOT NULL DEFAULT '',
			created_at     BIGINT NOT NULL,
			PRIMARY KEY (tenant, stream_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS memory_records (
			id              TEXT    PRIMARY KEY,
			project_id      TEXT    NOT NULL,
			label           TEXT    NOT NULL,
			type            TEXT    NOT NULL,
			version         INTEGER NOT NULL,
			governance      TEXT    NOT NULL,
			priority        TEXT    NOT NULL,
			lifecycle       TEXT    NOT NULL,
			usage_hits      INTEGER NOT NULL DEFAULT 0,
			last_used       BIGINT,
			tasks           TEXT    NOT NULL DEFAULT '[]',
			embedding       TEXT    NOT NULL DEFAULT '[]',
			payload_version INTEGER NOT NULL,
			created_at      BIGINT  NOT NULL,
			updated_at      BIGINT  NOT NULL,
			archived_at     BIGINT,
			expired_at      BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS memory_records_project ON memory_records (project_id, lifecycle)`,
		`CREATE TABLE IF NOT EXISTS memory_payloads (
			record_id    TEXT    NOT NULL,
			version      INTEGER NOT NULL,
			storage_mode TEXT    NOT NULL,
			token_count  INTEGER NOT NULL,
			size         INTEGER NOT NULL,
			checksum     TEXT    NOT NULL,
			blob_ref     TEXT    NOT NULL DEFAULT '',
			data         ` + blob + `,
			created_at   BIGINT  NOT NULL,
			PRIMARY KEY (record_id, version)
		)`,
	}, nil
}

// Migrate creates the tables if they don't exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmts, err := ddl(s.drv.Dialect())
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if err := s.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}
