package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables used by the document store, the lexical source and the
// task log. Both binaries call it on startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE EXTENSION IF NOT EXISTS fuzzystrmatch;

CREATE TABLE IF NOT EXISTS documents (
	index_uid TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	seq BIGSERIAL,
	fields JSONB NOT NULL,
	vectors JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (index_uid, doc_id)
);

CREATE INDEX IF NOT EXISTS idx_documents_seq ON documents(index_uid, seq);

CREATE TABLE IF NOT EXISTS document_terms (
	index_uid TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	attribute TEXT NOT NULL,
	term TEXT NOT NULL,
	PRIMARY KEY (index_uid, doc_id, attribute, term)
);

CREATE INDEX IF NOT EXISTS idx_document_terms_lookup ON document_terms(index_uid, attribute, term);

CREATE TABLE IF NOT EXISTS tasks (
	uid TEXT PRIMARY KEY,
	index_uid TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	payload_key TEXT NOT NULL,
	received_documents INTEGER NOT NULL DEFAULT 0,
	indexed_documents INTEGER NOT NULL DEFAULT 0,
	error JSONB,
	enqueued_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// placeholders renders "$from, $from+1, ..." for n arguments.
func placeholders(from, n int) string {
	buf := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		buf = fmt.Appendf(buf, "$%d", from+i)
	}
	return string(buf)
}
