package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/markdave123-py/papertrail/internal/models"
)

const chunkColumns = `id, document_id, page_number, position, chunk_index, chunk_type, text, bbox, vector_id, created_at`

// ReplaceChunks swaps all chunk rows of a document in a single transaction.
// The caller collects every row first; nothing is written per item.
func (c *DatabaseClient) ReplaceChunks(ctx context.Context, documentID string, chunks []models.SemanticChunk) error {
	args, err := chunkArgs(chunks)
	if err != nil {
		return err
	}
	del := c.q(`DELETE FROM semantic_chunks WHERE document_id = ?`)
	ins := c.q(`INSERT INTO semantic_chunks (` + chunkColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	return c.withTx(ctx, "replace chunks", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, del, documentID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, ins)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range args {
			if _, err := stmt.ExecContext(ctx, a...); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertChunk writes one chunk row. It is the per-row fallback used only after
// a bulk write failed, so it upserts to stay idempotent.
func (c *DatabaseClient) InsertChunk(ctx context.Context, chunk models.SemanticChunk) error {
	args, err := chunkArgs([]models.SemanticChunk{chunk})
	if err != nil {
		return err
	}
	q := c.q(`
		INSERT INTO semantic_chunks (` + chunkColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			page_number = excluded.page_number,
			position = excluded.position,
			chunk_index = excluded.chunk_index,
			chunk_type = excluded.chunk_type,
			text = excluded.text,
			bbox = excluded.bbox,
			vector_id = excluded.vector_id
	`)
	return c.withRetry(ctx, "insert chunk", func(ctx context.Context) error {
		_, err := c.db.ExecContext(ctx, q, args[0]...)
		return err
	})
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.SemanticChunk, error) {
	q := c.q(`SELECT ` + chunkColumns + ` FROM semantic_chunks WHERE document_id = ? ORDER BY chunk_index ASC`)
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SemanticChunk
	for rows.Next() {
		var (
			ch    models.SemanticChunk
			ctype string
			bbox  sql.NullString
		)
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.PageNumber, &ch.Position, &ch.ChunkIndex,
			&ctype, &ch.Text, &bbox, &ch.VectorID, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.Type = models.ChunkType(ctype)
		if bbox.Valid && bbox.String != "" {
			var b models.BBox
			if err := json.Unmarshal([]byte(bbox.String), &b); err != nil {
				return nil, fmt.Errorf("decode bbox of chunk %s: %w", ch.ID, err)
			}
			ch.BBox = &b
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func chunkArgs(chunks []models.SemanticChunk) ([][]any, error) {
	now := time.Now().UTC()
	out := make([][]any, len(chunks))
	for i := range chunks {
		ch := &chunks[i]
		var bbox sql.NullString
		if ch.BBox != nil {
			s, err := toJSON(ch.BBox)
			if err != nil {
				return nil, fmt.Errorf("encode bbox: %w", err)
			}
			bbox = sql.NullString{String: s, Valid: true}
		}
		created := ch.CreatedAt
		if created.IsZero() {
			created = now
		}
		out[i] = []any{
			ch.ID, ch.DocumentID, ch.PageNumber, ch.Position, ch.ChunkIndex,
			string(ch.Type), ch.Text, bbox, ch.VectorID, created.UTC(),
		}
	}
	return out, nil
}
