// Package teststack wires the real pipeline on SQLite, the local object
// store and the in-memory vector store for service and handler tests.
package teststack

import (
	"context"
	"hash/fnv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/core/chunker"
	db "github.com/markdave123-py/papertrail/internal/core/database"
	"github.com/markdave123-py/papertrail/internal/core/embedding"
	"github.com/markdave123-py/papertrail/internal/core/extractor"
	"github.com/markdave123-py/papertrail/internal/core/ingestion_engine"
	"github.com/markdave123-py/papertrail/internal/core/metadata"
	objectclient "github.com/markdave123-py/papertrail/internal/core/object-client"
	"github.com/markdave123-py/papertrail/internal/core/vectorstore"
	"github.com/markdave123-py/papertrail/internal/testutil"
)

const Dim = 64

// WordProvider embeds text as a bag of hashed lowercase words, so texts
// sharing words end up close to each other.
type WordProvider struct{}

func (WordProvider) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, Dim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			w = strings.Trim(w, ".,;:!?()\"'")
			if w == "" {
				continue
			}
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			v[h.Sum32()%Dim]++
		}
		out[i] = v
	}
	return out, nil
}

type Stack struct {
	DB       *db.DatabaseClient
	Objects  *objectclient.LocalClient
	Vectors  *vectorstore.MemoryStore
	Embedder *embedding.Generator
	Ingestor *ingestion_engine.DocumentIngestor
}

func New(t testing.TB) *Stack {
	t.Helper()
	ctx := context.Background()

	database, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "papertrail.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	objects, err := objectclient.NewLocalClient(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)

	gen, err := embedding.NewGenerator(WordProvider{}, Dim)
	require.NoError(t, err)

	vectors := vectorstore.NewMemoryStore(Dim)
	ing, err := ingestion_engine.NewDocumentIngestor(ingestion_engine.Deps{
		DB:      database,
		Objects: objects,
		Vectors: vectors,
		Extractor: extractor.NewPDFExtractor(
			extractor.WithTextLayers(extractor.PDFTextLayer{}),
			extractor.WithOCRMinChars(1),
		),
		Metadata: metadata.NewRuleExtractor(),
		Embedder: gen,
		Chunker:  chunker.New(chunker.WithChunkSize(200), chunker.WithChunkOverlap(20)),
		Logger:   zap.NewNop(),
	}, ingestion_engine.IngestConfig{
		QueueSize:      16,
		StepTimeout:    30 * time.Second,
		PollInterval:   time.Second,
		EnableChunking: true,
	})
	require.NoError(t, err)

	return &Stack{DB: database, Objects: objects, Vectors: vectors, Embedder: gen, Ingestor: ing}
}

// Ingest submits a generated PDF with the given pages and runs the pipeline
// to completion on the calling goroutine. It returns the job id.
func (s *Stack) Ingest(t testing.TB, filename string, pages ...string) string {
	t.Helper()
	ctx := context.Background()
	id, err := s.Ingestor.Submit(ctx, ingestion_engine.Upload{
		Data:        testutil.MinimalPDF(pages...),
		Filename:    filename,
		ContentType: "application/pdf",
	})
	require.NoError(t, err)
	require.NoError(t, s.Ingestor.ProcessOne(ctx, id))
	return id
}
