package ingestion_engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/core/embedding"
	"github.com/markdave123-py/papertrail/internal/models"
)

// IngestConfig tunes the worker pool.
//
// QueueSize:      capacity of the in-memory task queue; Submit never blocks on it.
// StepTimeout:    upper bound for one step; zero disables it.
// PollInterval:   how often pending jobs are swept back into the queue.
// EnableChunking: appends the optional semantic_chunking step to new jobs.
type IngestConfig struct {
	QueueSize      int
	StepTimeout    time.Duration
	PollInterval   time.Duration
	EnableChunking bool
}

// Deps are the collaborators a DocumentIngestor drives. Chunker may be nil
// when chunking is disabled.
type Deps struct {
	DB        core.DbClient
	Objects   core.ObjectClient
	Vectors   core.VectorStore
	Extractor core.DocumentExtractor
	Metadata  core.MetadataExtractor
	Embedder  *embedding.Generator
	Chunker   core.DocumentChunker
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Upload is one file handed to Submit. Metadata, when set, is stored with
// external provenance once the document exists.
type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
	Metadata    *models.Metadata
}

type taskKind int

const (
	// taskIngest runs every step of a pending job.
	taskIngest taskKind = iota
	// taskResume runs every step of a reset job that is not completed.
	taskResume
	// taskStep re-runs exactly one step.
	taskStep
)

type task struct {
	kind  taskKind
	jobID string
	step  models.StepName
}

// DocumentIngestor orchestrates the background pipeline:
//
// deps:     stores, extractors and the embedding generator.
// cfg:      runtime tuning knobs.
// tasks:    in-memory queue of work; the pending-job poller backs it up.
// inflight: job ids currently held by a worker in this process.
type DocumentIngestor struct {
	deps     Deps
	log      *zap.Logger
	cfg      IngestConfig
	tasks    chan task
	inflight sync.Map
	wg       sync.WaitGroup
}
