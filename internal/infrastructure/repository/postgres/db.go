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
	if err := prepare(db); err != nil {
		return nil, err
	}
	return db, nil
}

// prepare sizes the pool and checks connectivity. The pool is closed when
// the database is unreachable.
func prepare(db *sql.DB) error {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

// EnsureSchema creates the tables owned by this service. Person tables belong
// to the registry and are only read.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS validation_journal (
	event_id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	tuple_id BIGINT NOT NULL,
	tuple_number INTEGER NOT NULL,
	reviewer_id BIGINT NOT NULL,
	institution_id BIGINT,
	action TEXT NOT NULL,
	existing_person_id BIGINT,
	person_id BIGINT,
	sacrament_id BIGINT,
	validated_data JSONB NOT NULL DEFAULT '{}'::jsonb,
	observations TEXT NOT NULL DEFAULT '',
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	validated_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validation_journal_document ON validation_journal(document_id, tuple_number);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
