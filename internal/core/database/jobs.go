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

const jobColumns = `id, document_id, filename, storage_path, content_type, status, current_step,
	progress, steps, error_message, supplied_metadata, created_at, updated_at, completed_at`

func (c *DatabaseClient) CreateJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	steps, supplied, err := encodeJob(job)
	if err != nil {
		return err
	}
	q := c.q(`INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	return c.withRetry(ctx, "create job", func(ctx context.Context) error {
		_, err := c.db.ExecContext(ctx, q,
			job.ID, nullString(job.DocumentID), job.Filename, job.StoragePath, job.ContentType,
			string(job.Status), string(job.CurrentStep), job.Progress, steps, job.Error, supplied,
			job.CreatedAt.UTC(), job.UpdatedAt.UTC(), nullTime(job.CompletedAt))
		return err
	})
}

func (c *DatabaseClient) GetJob(ctx context.Context, id string) (*models.Job, error) {
	q := c.q(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)
	job, err := scanJob(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	return job, err
}

// UpdateJob persists the mutable state of a job in a single-row write.
func (c *DatabaseClient) UpdateJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	steps, supplied, err := encodeJob(job)
	if err != nil {
		return err
	}
	q := c.q(`
		UPDATE jobs
		SET document_id = ?, status = ?, current_step = ?, progress = ?, steps = ?,
		    error_message = ?, supplied_metadata = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`)
	return c.withRetry(ctx, "update job", func(ctx context.Context) error {
		res, err := c.db.ExecContext(ctx, q,
			nullString(job.DocumentID), string(job.Status), string(job.CurrentStep), job.Progress, steps,
			job.Error, supplied, job.UpdatedAt.UTC(), nullTime(job.CompletedAt), job.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("job %s: %w", job.ID, core.ErrNotFound)
		}
		return nil
	})
}

func (c *DatabaseClient) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	q := c.q(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id LIMIT ?`)
	return c.queryJobs(ctx, q, limit)
}

func (c *DatabaseClient) ListJobsByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	q := c.q(`SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY created_at ASC, id LIMIT ?`)
	return c.queryJobs(ctx, q, string(status), limit)
}

// ListStaleJobs returns processing jobs not touched since olderThan. Those
// are runs whose worker died mid-step.
func (c *DatabaseClient) ListStaleJobs(ctx context.Context, olderThan time.Time) ([]models.Job, error) {
	q := c.q(`SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY updated_at ASC, id`)
	jobs, err := c.queryJobs(ctx, q, string(models.JobProcessing))
	if err != nil {
		return nil, err
	}
	out := jobs[:0]
	for _, j := range jobs {
		if j.UpdatedAt.Before(olderThan) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (c *DatabaseClient) queryJobs(ctx context.Context, q string, args ...any) ([]models.Job, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j           models.Job
		docID       sql.NullString
		status      string
		current     string
		steps       string
		supplied    sql.NullString
		completedAt sql.NullTime
	)
	if err := row.Scan(&j.ID, &docID, &j.Filename, &j.StoragePath, &j.ContentType, &status, &current,
		&j.Progress, &steps, &j.Error, &supplied, &j.CreatedAt, &j.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	j.DocumentID = docID.String
	j.Status = models.JobStatus(status)
	j.CurrentStep = models.StepName(current)
	if steps != "" {
		if err := json.Unmarshal([]byte(steps), &j.Steps); err != nil {
			return nil, fmt.Errorf("decode steps of job %s: %w", j.ID, err)
		}
	}
	if supplied.Valid && supplied.String != "" {
		var m models.Metadata
		if err := json.Unmarshal([]byte(supplied.String), &m); err != nil {
			return nil, fmt.Errorf("decode supplied metadata of job %s: %w", j.ID, err)
		}
		j.SuppliedMetadata = &m
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func encodeJob(job *models.Job) (steps string, supplied sql.NullString, err error) {
	steps, err = toJSON(job.Steps)
	if err != nil {
		return "", supplied, fmt.Errorf("encode steps: %w", err)
	}
	if job.SuppliedMetadata != nil {
		s, err := toJSON(job.SuppliedMetadata)
		if err != nil {
			return "", supplied, fmt.Errorf("encode supplied metadata: %w", err)
		}
		supplied = sql.NullString{String: s, Valid: true}
	}
	return steps, supplied, nil
}
