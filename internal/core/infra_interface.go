package core

import (
	"context"
	"io"
	"time"

	"github.com/markdave123-py/papertrail/internal/models"
)

// DbClient defines all relational persistence the pipeline and API need.
// Every method that writes several rows does so in exactly one transaction.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	ListJobs(ctx context.Context, limit int) ([]models.Job, error)
	ListJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error)
	ListStaleJobs(ctx context.Context, olderThan time.Time) ([]models.Job, error)

	// SaveExtraction writes the document, its pages, any supplied metadata and
	// the job binding in one transaction, replacing earlier pages.
	SaveExtraction(ctx context.Context, job *models.Job, doc *models.Document, pages []models.PageText, supplied *models.Metadata) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]models.Document, error)
	GetPageTexts(ctx context.Context, documentID string) ([]models.PageText, error)

	GetMetadata(ctx context.Context, documentID string) (*models.Metadata, error)
	// UpsertExtractedMetadata never overwrites an external record; applied is
	// false when the guard skipped the write.
	UpsertExtractedMetadata(ctx context.Context, m *models.Metadata) (applied bool, err error)
	SetExternalMetadata(ctx context.Context, m *models.Metadata) error

	ReplaceVectorRefs(ctx context.Context, documentID string, levels []models.VectorLevel, refs []models.VectorRef) error
	ListVectorRefs(ctx context.Context, documentID string) ([]models.VectorRef, error)

	ReplaceChunks(ctx context.Context, documentID string, chunks []models.SemanticChunk) error
	InsertChunk(ctx context.Context, chunk models.SemanticChunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.SemanticChunk, error)

	SearchPageText(ctx context.Context, query string, limit int) ([]models.TextMatch, error)
	SearchChunkText(ctx context.Context, query string, limit int) ([]models.TextMatch, error)
	SearchDocuments(ctx context.Context, query string, limit int) ([]models.TextMatch, error)

	Stats() models.StoreStats
	Close() error
}

// ObjectClient stores uploaded files. Keys are backend-relative paths.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (location string, err error)
	DeleteFile(ctx context.Context, key string) error
	GetFile(ctx context.Context, key string) ([]byte, error)
	GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error)
}

// VectorStore persists (id, vector, metadata) triples and answers
// nearest-neighbour queries with metadata filters.
type VectorStore interface {
	Upsert(ctx context.Context, records []models.VectorRecord) error
	DeleteByDocument(ctx context.Context, documentID string, levels ...models.VectorLevel) error
	Query(ctx context.Context, vector []float32, filter models.VectorFilter, k int) ([]models.VectorHit, error)
	Close() error
}
