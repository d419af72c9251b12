package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
)

const schemaLockID int64 = 2026101601

// DocumentRegistry records which document versions are indexed and active.
type DocumentRegistry struct {
	db *sql.DB
}

func NewDocumentRegistry(db *sql.DB) *DocumentRegistry {
	return &DocumentRegistry{db: db}
}

func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "db ping", err)
	}
	return db, nil
}

func (r *DocumentRegistry) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS indexed_documents (
	document_name TEXT NOT NULL,
	version TEXT NOT NULL,
	chunks_indexed INTEGER NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	indexed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (document_name, version)
);

CREATE INDEX IF NOT EXISTS idx_indexed_documents_active ON indexed_documents(is_active);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// RecordIndexed upserts the document version; re-indexing reactivates it.
func (r *DocumentRegistry) RecordIndexed(ctx context.Context, doc domain.IndexedDocument) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO indexed_documents (document_name, version, chunks_indexed, is_active, indexed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (document_name, version) DO UPDATE
SET chunks_indexed = EXCLUDED.chunks_indexed,
	is_active = EXCLUDED.is_active,
	indexed_at = EXCLUDED.indexed_at
`, doc.DocumentName, doc.Version, doc.ChunksIndexed, doc.Active, doc.IndexedAt.UTC())
	if err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "record indexed document", err)
	}
	return nil
}

// Deactivate flags active rows of a document; an empty version matches all
// versions. It returns the number of rows changed.
func (r *DocumentRegistry) Deactivate(ctx context.Context, documentName, version string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if version == "" {
		res, err = r.db.ExecContext(ctx, `
UPDATE indexed_documents
SET is_active = FALSE
WHERE document_name = $1 AND is_active
`, documentName)
	} else {
		res, err = r.db.ExecContext(ctx, `
UPDATE indexed_documents
SET is_active = FALSE
WHERE document_name = $1 AND version = $2 AND is_active
`, documentName, version)
	}
	if err != nil {
		return 0, domain.WrapError(domain.ErrBackendUnavailable, "deactivate document", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate document rows affected: %w", err)
	}
	return rows, nil
}

func (r *DocumentRegistry) List(ctx context.Context, activeOnly bool) ([]domain.IndexedDocument, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT document_name, version, chunks_indexed, is_active, indexed_at
FROM indexed_documents
WHERE is_active OR NOT $1
ORDER BY document_name, indexed_at DESC
`, activeOnly)
	if err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "list documents", err)
	}
	defer rows.Close()

	out := make([]domain.IndexedDocument, 0)
	for rows.Next() {
		var doc domain.IndexedDocument
		if err := rows.Scan(&doc.DocumentName, &doc.Version, &doc.ChunksIndexed, &doc.Active, &doc.IndexedAt); err != nil {
			return nil, fmt.Errorf("scan indexed document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexed documents: %w", err)
	}
	return out, nil
}

func (r *DocumentRegistry) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "db ping", err)
	}
	return nil
}
