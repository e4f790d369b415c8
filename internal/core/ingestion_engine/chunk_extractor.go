package ingestion_engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/core/vectorstore"
	"github.com/markdave123-py/papertrail/internal/models"
)

// semanticChunking splits the stored pages into chunks, embeds them and
// replaces the chunk vectors and rows of the document. The chunk rows go out
// in one transaction; if that fails the rows are written one by one as a
// best effort and the step still reports the bulk error.
func (i *DocumentIngestor) semanticChunking(ctx context.Context, job *models.Job) error {
	if i.deps.Chunker == nil {
		return &core.ChunkingError{Err: errors.New("no chunker configured")}
	}
	docID, err := boundDocument(job)
	if err != nil {
		return err
	}
	pages, err := i.deps.DB.GetPageTexts(ctx, docID)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}

	structs := make([]core.PageStructure, len(pages))
	for n, p := range pages {
		structs[n] = core.PageStructure{
			PageNumber: p.PageNumber,
			Text:       p.Text,
			Blocks:     p.Blocks,
			Method:     p.Method,
			Failed:     p.Failed,
		}
	}
	chunks, err := i.deps.Chunker.Chunk(docID, structs)
	if err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for n := range chunks {
		texts[n] = chunks[n].Text
	}
	vecs, err := i.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	now := i.now()
	records := make([]models.VectorRecord, len(chunks))
	for n := range chunks {
		chunks[n].CreatedAt = now
		rec, err := vectorstore.RecordFor(chunks[n].VectorID, vecs[n])
		if err != nil {
			return &core.ChunkingError{Err: err}
		}
		records[n] = rec
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := i.deps.Vectors.DeleteByDocument(gctx, docID, models.LevelChunk); err != nil {
			return fmt.Errorf("delete chunk vectors: %w", err)
		}
		if err := i.deps.Vectors.Upsert(gctx, records); err != nil {
			return fmt.Errorf("upsert chunk vectors: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := i.deps.DB.ReplaceChunks(gctx, docID, chunks); err != nil {
			// gctx may already be canceled by the vector write; the fallback
			// must still get its chance.
			i.insertChunksOneByOne(context.WithoutCancel(gctx), docID, chunks)
			return fmt.Errorf("save chunks: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	i.log.Info("DocumentIngestor: chunks stored", zap.String("document_id", docID), zap.Int("chunks", len(chunks)))
	return nil
}

// insertChunksOneByOne is the per-row fallback after a failed bulk write.
// Failures are only logged.
func (i *DocumentIngestor) insertChunksOneByOne(ctx context.Context, docID string, chunks []models.SemanticChunk) {
	written := 0
	for _, ch := range chunks {
		if err := i.deps.DB.InsertChunk(ctx, ch); err != nil {
			i.log.Warn("DocumentIngestor: chunk fallback write failed",
				zap.String("document_id", docID), zap.String("chunk_id", ch.ID), zap.Error(err))
			continue
		}
		written++
	}
	i.log.Warn("DocumentIngestor: bulk chunk write failed, fell back to per-row writes",
		zap.String("document_id", docID), zap.Int("written", written), zap.Int("total", len(chunks)))
}
