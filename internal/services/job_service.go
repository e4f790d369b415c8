package services

import (
	"context"
	"fmt"
	"time"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/core/ingestion_engine"
	"github.com/markdave123-py/papertrail/internal/models"
)

// JobRunner is the part of the ingestor the API drives.
type JobRunner interface {
	Submit(ctx context.Context, up ingestion_engine.Upload) (string, error)
	RetryStep(ctx context.Context, jobID string, step models.StepName) (*models.Job, error)
	Resume(ctx context.Context, jobID string) (*models.Job, error)
	QueueDepth() int
}

// JobView is the status report of a job returned to clients.
type JobView struct {
	ID          string             `json:"id"`
	DocumentID  string             `json:"document_id,omitempty"`
	Filename    string             `json:"filename"`
	Status      models.JobStatus   `json:"status"`
	CurrentStep models.StepName    `json:"current_step"`
	Progress    int                `json:"progress"`
	Error       string             `json:"error,omitempty"`
	Steps       []models.StepState `json:"steps"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

func NewJobView(j *models.Job) JobView {
	return JobView{
		ID:          j.ID,
		DocumentID:  j.DocumentID,
		Filename:    j.Filename,
		Status:      j.Status,
		CurrentStep: j.CurrentStep,
		Progress:    j.Progress,
		Error:       j.Error,
		Steps:       nonNilSlice(j.Steps),
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		CompletedAt: j.CompletedAt,
	}
}

// Stats are the counters exposed to operators.
type Stats struct {
	Store      models.StoreStats `json:"store"`
	QueueDepth int               `json:"queue_depth"`
}

type JobService struct {
	db     core.DbClient
	runner JobRunner
	now    func() time.Time
}

func NewJobService(db core.DbClient, runner JobRunner) *JobService {
	return &JobService{db: db, runner: runner, now: time.Now}
}

// Submit hands the upload to the ingestor and returns the pending job.
func (s *JobService) Submit(ctx context.Context, up ingestion_engine.Upload) (*JobView, error) {
	id, err := s.runner.Submit(ctx, up)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *JobService) Get(ctx context.Context, id string) (*JobView, error) {
	j, err := s.db.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	v := NewJobView(j)
	return &v, nil
}

// Recent lists the latest jobs with their step detail.
func (s *JobService) Recent(ctx context.Context, limit int) ([]JobView, error) {
	jobs, err := s.db.ListJobs(ctx, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, err
	}
	return views(jobs), nil
}

// Stale lists processing jobs untouched for longer than olderThan.
func (s *JobService) Stale(ctx context.Context, olderThan time.Duration) ([]JobView, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("older_than must be positive: %w", core.ErrInvalidInput)
	}
	jobs, err := s.db.ListStaleJobs(ctx, s.now().Add(-olderThan))
	if err != nil {
		return nil, err
	}
	return views(jobs), nil
}

func (s *JobService) Retry(ctx context.Context, id, step string) (*JobView, error) {
	name, ok := models.ParseStepName(step)
	if !ok {
		return nil, fmt.Errorf("%q: %w", step, core.ErrInvalidStep)
	}
	j, err := s.runner.RetryStep(ctx, id, name)
	if err != nil {
		return nil, err
	}
	v := NewJobView(j)
	return &v, nil
}

func (s *JobService) Resume(ctx context.Context, id string) (*JobView, error) {
	j, err := s.runner.Resume(ctx, id)
	if err != nil {
		return nil, err
	}
	v := NewJobView(j)
	return &v, nil
}

func (s *JobService) Stats() Stats {
	return Stats{Store: s.db.Stats(), QueueDepth: s.runner.QueueDepth()}
}

func views(jobs []models.Job) []JobView {
	out := make([]JobView, len(jobs))
	for i := range jobs {
		out[i] = NewJobView(&jobs[i])
	}
	return out
}
