package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/logger"
	"github.com/markdave123-py/papertrail/internal/models"
)

var _ core.VectorStore = (*PgVectorStore)(nil)

// PgVectorStore keeps embeddings in a postgres table with a pgvector column.
// It shares the relational pool, so it only works with the postgres driver.
type PgVectorStore struct {
	db  *sql.DB
	dim int
	log *zap.Logger
}

// NewPgVectorStore creates the extension and table if needed.
func NewPgVectorStore(ctx context.Context, db *sql.DB, dim int, log *zap.Logger) (*PgVectorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pgvector store needs a database handle")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("pgvector store needs a positive dimension, got %d", dim)
	}
	s := &PgVectorStore{db: db, dim: dim, log: logger.Component(log, "pgvector")}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorStoreUnreachable, err)
	}
	return s, nil
}

func (s *PgVectorStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
			id          TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			level       TEXT NOT NULL,
			page_number INTEGER NOT NULL DEFAULT 0,
			chunk_index INTEGER NOT NULL DEFAULT -1,
			key_version INTEGER NOT NULL,
			embedding   vector(%d) NOT NULL
		)`, s.dim),
		`CREATE INDEX IF NOT EXISTS idx_embeddings_document ON embeddings(document_id, level)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Upsert writes all records in one transaction.
func (s *PgVectorStore) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if len(r.Vector) != s.dim {
			return fmt.Errorf("%w: %s has %d dimensions, expected %d", ErrDimensionMismatch, r.ID, len(r.Vector), s.dim)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (id, document_id, level, page_number, chunk_index, key_version, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			level = EXCLUDED.level,
			page_number = EXCLUDED.page_number,
			chunk_index = EXCLUDED.chunk_index,
			key_version = EXCLUDED.key_version,
			embedding = EXCLUDED.embedding
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.DocumentID, string(r.Level), r.PageNumber, r.ChunkIndex, KeyVersion, pgvector.NewVector(r.Vector),
		); err != nil {
			return fmt.Errorf("upsert vector %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *PgVectorStore) DeleteByDocument(ctx context.Context, documentID string, levels ...models.VectorLevel) error {
	levels = levelsOrAll(levels)
	args := []any{documentID}
	ph := make([]string, len(levels))
	for i, l := range levels {
		args = append(args, string(l))
		ph[i] = fmt.Sprintf("$%d", i+2)
	}
	q := `DELETE FROM embeddings WHERE document_id = $1 AND level IN (` + strings.Join(ph, ", ") + `)`
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

// Query ranks by cosine distance; the returned score is 1 - distance.
func (s *PgVectorStore) Query(ctx context.Context, vector []float32, filter models.VectorFilter, k int) ([]models.VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", ErrDimensionMismatch, len(vector), s.dim)
	}

	args := []any{pgvector.NewVector(vector)}
	var where []string
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		where = append(where, fmt.Sprintf("document_id = $%d", len(args)))
	}
	if len(filter.Levels) > 0 {
		ph := make([]string, len(filter.Levels))
		for i, l := range filter.Levels {
			args = append(args, string(l))
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "level IN ("+strings.Join(ph, ", ")+")")
	}
	args = append(args, k)

	q := `SELECT id, document_id, level, page_number, chunk_index, 1 - (embedding <=> $1) AS score FROM embeddings`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(` ORDER BY embedding <=> $1, id LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var out []models.VectorHit
	for rows.Next() {
		var (
			h     models.VectorHit
			level string
			score sql.NullFloat64
		)
		if err := rows.Scan(&h.ID, &h.DocumentID, &level, &h.PageNumber, &h.ChunkIndex, &score); err != nil {
			return nil, err
		}
		h.Level = models.VectorLevel(level)
		// zero vectors have an undefined cosine distance
		if score.Valid && !math.IsNaN(score.Float64) {
			h.Score = float32(score.Float64)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Close is a no-op; the pool belongs to the relational client.
func (s *PgVectorStore) Close() error { return nil }
