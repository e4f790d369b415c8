// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/config"
	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/core/chunker"
	db "github.com/markdave123-py/papertrail/internal/core/database"
	"github.com/markdave123-py/papertrail/internal/core/embedding"
	"github.com/markdave123-py/papertrail/internal/core/extractor"
	"github.com/markdave123-py/papertrail/internal/core/ingestion_engine"
	"github.com/markdave123-py/papertrail/internal/core/llm"
	"github.com/markdave123-py/papertrail/internal/core/metadata"
	objectclient "github.com/markdave123-py/papertrail/internal/core/object-client"
	"github.com/markdave123-py/papertrail/internal/core/vectorstore"
	"github.com/markdave123-py/papertrail/internal/services"
)

type App struct {
	Config   *config.Config
	Log      *zap.Logger
	DB       *db.DatabaseClient
	Objects  core.ObjectClient
	Vectors  core.VectorStore
	Ingestor *ingestion_engine.DocumentIngestor

	Documents *services.DocumentService
	Jobs      *services.JobService
	Search    *services.SearchService
	Users     *services.UserService

	closers []io.Closer
}

// NewApp opens every backend the configuration selects and wires the
// pipeline and services. Workers and the HTTP server are started by Run.
func NewApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.DB = dbClient
	a.closers = append(a.closers, dbClient)
	log.Info("Database initialized and ready.", zap.String("driver", dbClient.Dialect()))

	if a.Objects, err = newObjectClient(appCtx, cfg, log); err != nil {
		return nil, err
	}
	log.Info("Object client initialized and ready.", zap.String("backend", cfg.StorageBackend))

	provider, err := a.newEmbeddingProvider(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}
	embedder, err := embedding.NewGenerator(provider, cfg.EmbedDim, embedding.WithBlankPagesInMean(cfg.IncludeBlankPages))
	if err != nil {
		return nil, err
	}

	if a.Vectors, err = a.newVectorStore(appCtx, cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Vectors)
	log.Info("Vector store initialized and ready.", zap.String("backend", cfg.VectorBackend))

	extractorOpts := []extractor.Option{
		extractor.WithOCRMinChars(cfg.OCRMinChars),
		extractor.WithOCRWorkers(cfg.OCRWorkers),
		extractor.WithLogger(log),
	}
	if cfg.OCRProvider == "gemini" {
		ocr, err := llm.NewGeminiOCR(appCtx, cfg.AIAPIKey, cfg.GenModel)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize OCR, %w", err)
		}
		a.closers = append(a.closers, ocr)
		extractorOpts = append(extractorOpts, extractor.WithOCR(ocr))
	}

	semanticChunker := chunker.New(
		chunker.WithChunkSize(cfg.ChunkSize),
		chunker.WithChunkOverlap(cfg.ChunkOverlap),
		chunker.WithMinChunkChars(cfg.MinChunkChars),
	)
	a.Ingestor, err = ingestion_engine.NewDocumentIngestor(ingestion_engine.Deps{
		DB:        dbClient,
		Objects:   a.Objects,
		Vectors:   a.Vectors,
		Extractor: extractor.NewPDFExtractor(extractorOpts...),
		Metadata:  metadata.NewRuleExtractor(),
		Embedder:  embedder,
		Chunker:   semanticChunker,
		Logger:    log,
	}, ingestion_engine.IngestConfig{
		QueueSize:      cfg.IngestQueue,
		StepTimeout:    cfg.StepTimeout,
		PollInterval:   cfg.PollInterval,
		EnableChunking: cfg.EnableChunking,
	})
	if err != nil {
		return nil, err
	}

	a.Documents = services.NewDocumentService(dbClient, a.Objects)
	a.Jobs = services.NewJobService(dbClient, a.Ingestor)
	a.Search = services.NewSearchService(dbClient, a.Vectors, embedder, log)
	a.Users = services.NewUserService(dbClient, log)

	if err := a.Users.EnsureAdmin(appCtx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	return a, nil
}

func newObjectClient(ctx context.Context, cfg *config.Config, log *zap.Logger) (core.ObjectClient, error) {
	switch cfg.StorageBackend {
	case "s3":
		return objectclient.NewS3Client(ctx, cfg, log)
	case "local":
		return objectclient.NewLocalClient(cfg.StorageDir)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

func (a *App) newEmbeddingProvider(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, error) {
	switch cfg.EmbedProvider {
	case "gemini":
		e, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, e)
		return e, nil
	case "openai":
		return llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbedModel, cfg.EmbedDim)
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbedProvider)
}

func (a *App) newVectorStore(ctx context.Context, cfg *config.Config) (core.VectorStore, error) {
	switch cfg.VectorBackend {
	case "memory":
		a.Log.Warn("App: in-memory vector store, vectors are lost on restart")
		return vectorstore.NewMemoryStore(cfg.EmbedDim), nil
	case "pgvector":
		return vectorstore.NewPgVectorStore(ctx, a.DB.DB(), cfg.EmbedDim, a.Log)
	case "qdrant":
		return vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			Collection: cfg.QdrantCollection,
			Dimension:  cfg.EmbedDim,
		}, a.Log)
	}
	return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
}

// Run starts the ingest workers and the HTTP server and blocks until ctx is
// done. Workers finish the job they hold before Run returns.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	a.Ingestor.Start(ctx, a.Config.IngestWorkers)
	a.Log.Info("Ingest workers started", zap.Int("workers", a.Config.IngestWorkers))

	srv := NewServer(a.Config, a.Handlers(), a.Log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.Log.Warn("App: server shutdown", zap.Error(serr))
	}
	stop()
	a.Ingestor.Wait()
	return err
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Log.Warn("App: close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
