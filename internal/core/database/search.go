package db

import (
	"context"

	"github.com/markdave123-py/papertrail/internal/models"
)

// SearchPageText returns pages whose text contains query, case-insensitively.
func (c *DatabaseClient) SearchPageText(ctx context.Context, query string, limit int) ([]models.TextMatch, error) {
	q := c.q(`
		SELECT document_id, page_number, text
		FROM page_texts
		WHERE LOWER(text) LIKE ? ESCAPE '\'
		ORDER BY document_id, page_number
		LIMIT ?
	`)
	rows, err := c.db.QueryContext(ctx, q, escapeLike(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TextMatch
	for rows.Next() {
		m := models.TextMatch{Level: models.LevelPage, ChunkIndex: -1}
		if err := rows.Scan(&m.DocumentID, &m.PageNumber, &m.Text); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchChunkText returns chunks whose text contains query, case-insensitively.
func (c *DatabaseClient) SearchChunkText(ctx context.Context, query string, limit int) ([]models.TextMatch, error) {
	q := c.q(`
		SELECT document_id, page_number, chunk_index, text
		FROM semantic_chunks
		WHERE LOWER(text) LIKE ? ESCAPE '\'
		ORDER BY document_id, chunk_index
		LIMIT ?
	`)
	rows, err := c.db.QueryContext(ctx, q, escapeLike(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TextMatch
	for rows.Next() {
		m := models.TextMatch{Level: models.LevelChunk}
		if err := rows.Scan(&m.DocumentID, &m.PageNumber, &m.ChunkIndex, &m.Text); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchDocuments matches the query against titles and filenames.
func (c *DatabaseClient) SearchDocuments(ctx context.Context, query string, limit int) ([]models.TextMatch, error) {
	q := c.q(`
		SELECT d.id, d.filename, COALESCE(m.title, '')
		FROM documents d
		LEFT JOIN document_metadata m ON m.document_id = d.id
		WHERE LOWER(d.filename) LIKE ? ESCAPE '\'
		   OR LOWER(COALESCE(m.title, '')) LIKE ? ESCAPE '\'
		ORDER BY d.id
		LIMIT ?
	`)
	pattern := escapeLike(query)
	rows, err := c.db.QueryContext(ctx, q, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TextMatch
	for rows.Next() {
		var filename, title string
		m := models.TextMatch{Level: models.LevelDocument, ChunkIndex: -1}
		if err := rows.Scan(&m.DocumentID, &filename, &title); err != nil {
			return nil, err
		}
		m.Text = title + "\n" + filename
		out = append(out, m)
	}
	return out, rows.Err()
}
