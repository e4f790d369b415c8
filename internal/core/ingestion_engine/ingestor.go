package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/papertrail/internal/models"
)

type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Wait()
	Submit(ctx context.Context, up Upload) (string, error)
	Enqueue(jobID string) error
	ProcessOne(ctx context.Context, jobID string) error
	RetryStep(ctx context.Context, jobID string, step models.StepName) (*models.Job, error)
	Resume(ctx context.Context, jobID string) (*models.Job, error)
	QueueDepth() int
}

var _ Ingestor = (*DocumentIngestor)(nil)
