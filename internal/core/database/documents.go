package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/models"
)

// SaveExtraction persists everything the extract_text step produced in one
// transaction. Re-running it for the same document replaces the pages.
// Upload-supplied metadata is only written when the document has none yet,
// so an edit made after upload survives a retry.
func (c *DatabaseClient) SaveExtraction(ctx context.Context, job *models.Job, doc *models.Document, pages []models.PageText, supplied *models.Metadata) error {
	if doc == nil || job == nil {
		return errors.New("nil document or job")
	}

	upsertDoc := c.q(`
		INSERT INTO documents (id, filename, storage_path, content_type, page_count, used_ocr, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			filename = excluded.filename,
			storage_path = excluded.storage_path,
			content_type = excluded.content_type,
			page_count = excluded.page_count,
			used_ocr = excluded.used_ocr,
			updated_at = excluded.updated_at
	`)
	deletePages := c.q(`DELETE FROM page_texts WHERE document_id = ?`)
	insertPage := c.q(`
		INSERT INTO page_texts (document_id, page_number, text, method, failed, blocks)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	bindJob := c.q(`UPDATE jobs SET document_id = ?, updated_at = ? WHERE id = ?`)

	encoded := make([]string, len(pages))
	for i := range pages {
		b, err := toJSON(pages[i].Blocks)
		if err != nil {
			return fmt.Errorf("encode blocks of page %d: %w", pages[i].PageNumber, err)
		}
		encoded[i] = b
	}

	return c.withTx(ctx, "save extraction", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertDoc,
			doc.ID, doc.Filename, doc.StoragePath, doc.ContentType, doc.PageCount, doc.UsedOCR,
			doc.CreatedAt.UTC(), doc.UpdatedAt.UTC()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, deletePages, doc.ID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, insertPage)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range pages {
			p := &pages[i]
			if _, err := stmt.ExecContext(ctx,
				doc.ID, p.PageNumber, p.Text, string(p.Method), p.Failed, encoded[i]); err != nil {
				return err
			}
		}

		if supplied != nil {
			m := *supplied
			m.DocumentID = doc.ID
			if err := c.execUpsertMetadata(ctx, tx, &m, models.ProvenanceExternal, metadataInsertOnly); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, bindJob, doc.ID, job.UpdatedAt.UTC(), job.ID)
		return err
	})
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := c.q(`
		SELECT id, filename, storage_path, content_type, page_count, used_ocr, created_at, updated_at
		FROM documents
		WHERE id = ?
	`)
	var d models.Document
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.Filename, &d.StoragePath, &d.ContentType, &d.PageCount, &d.UsedOCR, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) ListDocuments(ctx context.Context, limit, offset int) ([]models.Document, error) {
	q := c.q(`
		SELECT id, filename, storage_path, content_type, page_count, used_ocr, created_at, updated_at
		FROM documents
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`)
	rows, err := c.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.Filename, &d.StoragePath, &d.ContentType, &d.PageCount, &d.UsedOCR, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) GetPageTexts(ctx context.Context, documentID string) ([]models.PageText, error) {
	q := c.q(`
		SELECT document_id, page_number, text, method, failed, blocks
		FROM page_texts
		WHERE document_id = ?
		ORDER BY page_number ASC
	`)
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PageText
	for rows.Next() {
		var (
			p      models.PageText
			method string
			blocks string
		)
		if err := rows.Scan(&p.DocumentID, &p.PageNumber, &p.Text, &method, &p.Failed, &blocks); err != nil {
			return nil, err
		}
		p.Method = models.ExtractionMethod(method)
		if blocks != "" {
			if err := json.Unmarshal([]byte(blocks), &p.Blocks); err != nil {
				return nil, fmt.Errorf("decode blocks of page %d: %w", p.PageNumber, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetMetadata returns nil without error when the document has no metadata yet.
func (c *DatabaseClient) GetMetadata(ctx context.Context, documentID string) (*models.Metadata, error) {
	q := c.q(`
		SELECT document_id, title, authors, venue, year, doi, abstract, provenance, updated_at
		FROM document_metadata
		WHERE document_id = ?
	`)
	var (
		m                           models.Metadata
		title, venue, doi, abstract sql.NullString
		authors, provenance         string
		year                        sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx, q, documentID).Scan(
		&m.DocumentID, &title, &authors, &venue, &year, &doi, &abstract, &provenance, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Title, m.Venue, m.DOI, m.Abstract = title.String, venue.String, doi.String, abstract.String
	m.Provenance = models.Provenance(provenance)
	if year.Valid {
		y := int(year.Int64)
		m.Year = &y
	}
	if authors != "" {
		if err := json.Unmarshal([]byte(authors), &m.Authors); err != nil {
			return nil, fmt.Errorf("decode authors: %w", err)
		}
	}
	return &m, nil
}

// UpsertExtractedMetadata writes pipeline-derived metadata unless an external
// record already exists. The guard lives in the statement so a concurrent
// manual edit cannot be clobbered.
func (c *DatabaseClient) UpsertExtractedMetadata(ctx context.Context, m *models.Metadata) (bool, error) {
	if m == nil {
		return false, errors.New("nil metadata")
	}
	var applied bool
	err := c.withTx(ctx, "upsert metadata", func(ctx context.Context, tx *sql.Tx) error {
		res, err := c.upsertMetadata(ctx, tx, m, models.ProvenanceExtracted, metadataKeepExternal)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		applied = n > 0
		return nil
	})
	return applied, err
}

// SetExternalMetadata stores caller-provided metadata; it always wins.
func (c *DatabaseClient) SetExternalMetadata(ctx context.Context, m *models.Metadata) error {
	if m == nil {
		return errors.New("nil metadata")
	}
	return c.withTx(ctx, "set metadata", func(ctx context.Context, tx *sql.Tx) error {
		return c.execUpsertMetadata(ctx, tx, m, models.ProvenanceExternal, metadataOverwrite)
	})
}

// metadataWrite picks how an existing document_metadata row is treated.
type metadataWrite int

const (
	metadataOverwrite metadataWrite = iota
	// metadataKeepExternal replaces the row unless it is external.
	metadataKeepExternal
	// metadataInsertOnly never touches an existing row.
	metadataInsertOnly
)

func (c *DatabaseClient) execUpsertMetadata(ctx context.Context, tx *sql.Tx, m *models.Metadata, prov models.Provenance, mode metadataWrite) error {
	_, err := c.upsertMetadata(ctx, tx, m, prov, mode)
	return err
}

func (c *DatabaseClient) upsertMetadata(ctx context.Context, tx *sql.Tx, m *models.Metadata, prov models.Provenance, mode metadataWrite) (sql.Result, error) {
	authors, err := toJSON(nonNil(m.Authors))
	if err != nil {
		return nil, fmt.Errorf("encode authors: %w", err)
	}
	now := m.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}

	args := []any{
		m.DocumentID, nullString(m.Title), authors, nullString(m.Venue), nullInt(m.Year),
		nullString(m.DOI), nullString(m.Abstract), string(prov), now.UTC(),
	}
	q := `
		INSERT INTO document_metadata (document_id, title, authors, venue, year, doi, abstract, provenance, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if mode == metadataInsertOnly {
		return tx.ExecContext(ctx, c.q(q+` ON CONFLICT (document_id) DO NOTHING`), args...)
	}
	q += `
		ON CONFLICT (document_id) DO UPDATE SET
			title = excluded.title,
			authors = excluded.authors,
			venue = excluded.venue,
			year = excluded.year,
			doi = excluded.doi,
			abstract = excluded.abstract,
			provenance = excluded.provenance,
			updated_at = excluded.updated_at
	`
	if mode == metadataKeepExternal {
		q += ` WHERE document_metadata.provenance <> ?`
		args = append(args, string(models.ProvenanceExternal))
	}
	return tx.ExecContext(ctx, c.q(q), args...)
}

// ReplaceVectorRefs swaps the bookkeeping rows of the given levels in one transaction.
func (c *DatabaseClient) ReplaceVectorRefs(ctx context.Context, documentID string, levels []models.VectorLevel, refs []models.VectorRef) error {
	if len(levels) == 0 {
		return errors.New("no vector levels given")
	}
	del := c.q(`DELETE FROM vector_refs WHERE document_id = ? AND level IN (` + placeholders(len(levels)) + `)`)
	delArgs := []any{documentID}
	for _, l := range levels {
		delArgs = append(delArgs, string(l))
	}
	ins := c.q(`
		INSERT INTO vector_refs (vector_id, document_id, level, page_number, chunk_index, dimension, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	return c.withTx(ctx, "replace vector refs", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, del, delArgs...); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, ins)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i := range refs {
			r := &refs[i]
			created := r.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := stmt.ExecContext(ctx,
				r.VectorID, documentID, string(r.Level), r.PageNumber, r.ChunkIndex, r.Dimension, created.UTC()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *DatabaseClient) ListVectorRefs(ctx context.Context, documentID string) ([]models.VectorRef, error) {
	q := c.q(`
		SELECT vector_id, document_id, level, page_number, chunk_index, dimension, created_at
		FROM vector_refs
		WHERE document_id = ?
		ORDER BY level, page_number, chunk_index
	`)
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.VectorRef
	for rows.Next() {
		var (
			r     models.VectorRef
			level string
		)
		if err := rows.Scan(&r.VectorID, &r.DocumentID, &level, &r.PageNumber, &r.ChunkIndex, &r.Dimension, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Level = models.VectorLevel(level)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
