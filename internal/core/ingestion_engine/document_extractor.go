package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/models"
)

// extractText reads the stored upload, extracts per-page text and writes the
// document, its pages, any supplied metadata and the job binding in one
// transaction. A retry keeps the document id and replaces the pages.
func (i *DocumentIngestor) extractText(ctx context.Context, job *models.Job) error {
	data, err := i.deps.Objects.GetFile(ctx, job.StoragePath)
	if err != nil {
		return fmt.Errorf("load upload %s: %w", job.StoragePath, err)
	}

	ext, err := i.deps.Extractor.Extract(ctx, data)
	if err != nil {
		return err
	}
	if len(ext.Pages) == 0 {
		return &core.ExtractionError{Err: errors.New("document has no pages")}
	}

	now := i.now()
	doc := &models.Document{
		ID:          job.DocumentID,
		Filename:    job.Filename,
		StoragePath: job.StoragePath,
		ContentType: job.ContentType,
		PageCount:   len(ext.Pages),
		UsedOCR:     ext.UsedOCR,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	} else if prev, err := i.deps.DB.GetDocumentByID(ctx, doc.ID); err == nil {
		doc.CreatedAt = prev.CreatedAt
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	pages := make([]models.PageText, len(ext.Pages))
	failed := 0
	for n, p := range ext.Pages {
		pages[n] = models.PageText{
			DocumentID: doc.ID,
			PageNumber: p.PageNumber,
			Text:       p.Text,
			Method:     p.Method,
			Failed:     p.Failed,
			Blocks:     p.Blocks,
		}
		if p.Failed {
			failed++
		}
	}

	if err := i.deps.DB.SaveExtraction(ctx, job, doc, pages, job.SuppliedMetadata); err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	job.DocumentID = doc.ID

	i.log.Info("DocumentIngestor: text extracted",
		zap.String("job_id", job.ID),
		zap.String("document_id", doc.ID),
		zap.Int("pages", len(pages)),
		zap.Int("failed_pages", failed),
		zap.Bool("used_ocr", ext.UsedOCR))
	return nil
}

// extractMetadata derives bibliographic fields from the stored page text.
// External records are left alone, and an extractor failure degrades to an
// empty record instead of failing the step.
func (i *DocumentIngestor) extractMetadata(ctx context.Context, job *models.Job) error {
	docID, err := boundDocument(job)
	if err != nil {
		return err
	}

	existing, err := i.deps.DB.GetMetadata(ctx, docID)
	if err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}
	if existing.IsExternal() {
		i.log.Info("DocumentIngestor: keeping external metadata", zap.String("document_id", docID))
		return nil
	}

	pages, err := i.deps.DB.GetPageTexts(ctx, docID)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}
	texts := make([]string, len(pages))
	for n := range pages {
		texts[n] = pages[n].Text
	}

	m, err := i.deps.Metadata.Extract(strings.Join(texts, "\n\n"))
	var merr *core.MetadataError
	switch {
	case errors.As(err, &merr):
		i.log.Warn("DocumentIngestor: metadata extraction degraded to empty record", zap.String("document_id", docID), zap.Error(err))
		m = &models.Metadata{}
	case err != nil:
		return err
	case m == nil:
		m = &models.Metadata{}
	}
	m.DocumentID = docID
	m.UpdatedAt = i.now()

	applied, err := i.deps.DB.UpsertExtractedMetadata(ctx, m)
	if err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	if !applied {
		i.log.Info("DocumentIngestor: external metadata arrived meanwhile, extracted record dropped", zap.String("document_id", docID))
	}
	return nil
}

func boundDocument(job *models.Job) (string, error) {
	if job.DocumentID == "" {
		return "", fmt.Errorf("job %s has no document yet", job.ID)
	}
	return job.DocumentID, nil
}
