package ingestion_engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/papertrail/internal/core/vectorstore"
	"github.com/markdave123-py/papertrail/internal/models"
)

var embeddingLevels = []models.VectorLevel{models.LevelDocument, models.LevelPage}

// generateEmbeddings embeds the stored page texts, never the raw file, and
// replaces the document and page vectors together with their bookkeeping
// rows. Re-running it leaves exactly one document vector and one vector per page.
func (i *DocumentIngestor) generateEmbeddings(ctx context.Context, job *models.Job) error {
	docID, err := boundDocument(job)
	if err != nil {
		return err
	}
	pages, err := i.deps.DB.GetPageTexts(ctx, docID)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}

	texts := make([]string, len(pages))
	for n := range pages {
		texts[n] = pages[n].Text
	}
	perPage, docVec, err := i.deps.Embedder.EmbedPages(ctx, texts)
	if err != nil {
		return err
	}

	dim := i.deps.Embedder.Dimension()
	now := i.now()
	records := make([]models.VectorRecord, 0, len(pages)+1)
	refs := make([]models.VectorRef, 0, len(pages)+1)

	add := func(key string, vec []float32) error {
		rec, err := vectorstore.RecordFor(key, vec)
		if err != nil {
			return err
		}
		records = append(records, rec)
		refs = append(refs, models.VectorRef{
			VectorID:   key,
			DocumentID: docID,
			Level:      rec.Level,
			PageNumber: rec.PageNumber,
			ChunkIndex: rec.ChunkIndex,
			Dimension:  dim,
			CreatedAt:  now,
		})
		return nil
	}
	if err := add(vectorstore.DocumentKey(docID), docVec); err != nil {
		return err
	}
	for n, p := range pages {
		if err := add(vectorstore.PageKey(docID, p.PageNumber), perPage[n]); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := i.deps.Vectors.DeleteByDocument(gctx, docID, embeddingLevels...); err != nil {
			return fmt.Errorf("delete vectors: %w", err)
		}
		if err := i.deps.Vectors.Upsert(gctx, records); err != nil {
			return fmt.Errorf("upsert vectors: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := i.deps.DB.ReplaceVectorRefs(gctx, docID, embeddingLevels, refs); err != nil {
			return fmt.Errorf("save vector refs: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	i.log.Info("DocumentIngestor: embeddings stored",
		zap.String("document_id", docID),
		zap.Int("page_vectors", len(pages)),
		zap.Int("dimension", dim))
	return nil
}
