package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/logger"
	"github.com/markdave123-py/papertrail/internal/models"
)

const defaultQueueSize = 64

// NewDocumentIngestor constructs the ingestor with a bounded task queue.
func NewDocumentIngestor(deps Deps, cfg IngestConfig) (*DocumentIngestor, error) {
	switch {
	case deps.DB == nil:
		return nil, errors.New("ingestor: nil database client")
	case deps.Objects == nil:
		return nil, errors.New("ingestor: nil object client")
	case deps.Vectors == nil:
		return nil, errors.New("ingestor: nil vector store")
	case deps.Extractor == nil || deps.Metadata == nil:
		return nil, errors.New("ingestor: nil extractor")
	case deps.Embedder == nil:
		return nil, errors.New("ingestor: nil embedding generator")
	case cfg.EnableChunking && deps.Chunker == nil:
		return nil, errors.New("ingestor: chunking enabled without a chunker")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &DocumentIngestor{
		deps:  deps,
		log:   logger.Component(deps.Logger, "ingestor"),
		cfg:   cfg,
		tasks: make(chan task, cfg.QueueSize),
	}, nil
}

func (i *DocumentIngestor) now() time.Time { return i.deps.Clock().UTC() }

// Start runs numWorkers goroutines reading from the task queue plus the
// pending-job poller. They stop when ctx is done; a job already picked up is
// finished first.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	numWorkers = max(numWorkers, 1)
	for w := 1; w <= numWorkers; w++ {
		i.wg.Add(1)
		go func(w int) {
			defer i.wg.Done()
			for {
				select {
				case <-ctx.Done():
					i.log.Info("DocumentIngestor: worker shutting down", zap.Int("worker", w))
					return
				case t := <-i.tasks:
					i.log.Debug("DocumentIngestor: picked up job", zap.String("job_id", t.jobID), zap.Int("worker", w))
					if err := i.handle(context.WithoutCancel(ctx), t); err != nil {
						i.log.Error("DocumentIngestor: job run failed", zap.String("job_id", t.jobID), zap.Error(err))
					}
				}
			}
		}(w)
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.poll(ctx)
	}()
}

// Wait blocks until every goroutine started by Start has returned.
func (i *DocumentIngestor) Wait() { i.wg.Wait() }

func (i *DocumentIngestor) QueueDepth() int { return len(i.tasks) }

// poll re-enqueues pending jobs: the ones left behind by a full queue and the
// ones that were pending when the process stopped.
func (i *DocumentIngestor) poll(ctx context.Context) {
	interval := i.cfg.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		i.sweepPending(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (i *DocumentIngestor) sweepPending(ctx context.Context) {
	room := cap(i.tasks) - len(i.tasks)
	if room <= 0 {
		return
	}
	jobs, err := i.deps.DB.ListJobsByStatus(ctx, models.JobPending, room)
	if err != nil {
		if ctx.Err() == nil {
			i.log.Warn("DocumentIngestor: listing pending jobs failed", zap.Error(err))
		}
		return
	}
	for _, j := range jobs {
		if _, busy := i.inflight.Load(j.ID); busy {
			continue
		}
		if err := i.Enqueue(j.ID); err != nil {
			return
		}
	}
}

// Submit stores the upload, creates a pending job and queues it without
// blocking. A full queue leaves the job for the poller.
func (i *DocumentIngestor) Submit(ctx context.Context, up Upload) (string, error) {
	if len(up.Data) == 0 {
		return "", fmt.Errorf("empty upload: %w", core.ErrInvalidInput)
	}
	if !bytes.HasPrefix(up.Data, []byte("%PDF")) {
		return "", fmt.Errorf("%s is not a PDF: %w", up.Filename, core.ErrInvalidInput)
	}
	if up.ContentType == "" {
		up.ContentType = "application/pdf"
	}
	filename := sanitizeFilename(up.Filename)

	jobID := uuid.NewString()
	key := path.Join("uploads", jobID, filename)
	if _, err := i.deps.Objects.UploadFile(ctx, key, bytes.NewReader(up.Data), up.ContentType); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}

	job := models.NewJob(jobID, filename, key, up.ContentType, models.PipelineSteps(i.cfg.EnableChunking), i.now())
	if up.Metadata != nil {
		m := *up.Metadata
		m.Provenance = models.ProvenanceExternal
		job.SuppliedMetadata = &m
	}
	if err := i.deps.DB.CreateJob(ctx, job); err != nil {
		if derr := i.deps.Objects.DeleteFile(ctx, key); derr != nil {
			i.log.Warn("DocumentIngestor: orphaned upload", zap.String("key", key), zap.Error(derr))
		}
		return "", fmt.Errorf("create job: %w", err)
	}

	if err := i.Enqueue(jobID); err != nil {
		i.log.Info("DocumentIngestor: queue full, job left for the poller", zap.String("job_id", jobID))
	}
	i.log.Info("DocumentIngestor: job submitted", zap.String("job_id", jobID), zap.String("filename", filename))
	return jobID, nil
}

// Enqueue schedules a pending job. It never blocks.
func (i *DocumentIngestor) Enqueue(jobID string) error {
	return i.enqueue(task{kind: taskIngest, jobID: jobID})
}

func (i *DocumentIngestor) enqueue(t task) error {
	select {
	case i.tasks <- t:
		return nil
	default:
		return core.ErrQueueFull
	}
}

// ProcessOne runs a pending job to the end on the calling goroutine.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, jobID string) error {
	return i.handle(ctx, task{kind: taskIngest, jobID: jobID})
}

// RetryStep resets exactly one step of a terminal job and queues a run of
// that step from the persisted outputs of the steps before it.
func (i *DocumentIngestor) RetryStep(ctx context.Context, jobID string, step models.StepName) (*models.Job, error) {
	job, err := i.deps.DB.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	st := job.Step(step)
	if st == nil {
		return nil, fmt.Errorf("job %s does not run %q: %w", jobID, step, core.ErrInvalidStep)
	}
	if err := i.requireIdle(job); err != nil {
		return nil, err
	}

	// A step that is already pending with its prerequisites met was reset by
	// a retry that could not be queued; queue it again.
	wasPending := st.Status == models.StepPending
	if err := job.ResetStep(step, i.now()); err != nil {
		var te *models.TransitionError
		if !wasPending || !errors.As(err, &te) {
			return nil, err
		}
	} else if err := i.deps.DB.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist reset: %w", err)
	}

	if err := i.enqueue(task{kind: taskStep, jobID: jobID, step: step}); err != nil {
		return job, err
	}
	i.log.Info("DocumentIngestor: step retry queued", zap.String("job_id", jobID), zap.String("step", string(step)))
	return job, nil
}

// Resume queues a run of every step that is not completed. A processing job
// that no worker holds is treated as interrupted and failed first.
func (i *DocumentIngestor) Resume(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := i.deps.DB.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobPending {
		return job, i.Enqueue(jobID)
	}
	if _, busy := i.inflight.Load(jobID); busy {
		return nil, fmt.Errorf("job %s: %w", jobID, core.ErrJobNotTerminal)
	}
	if job.Status == models.JobProcessing {
		if err := i.interrupt(ctx, job); err != nil {
			return nil, err
		}
	}

	if _, err := job.ResetIncomplete(i.now()); err != nil {
		return nil, err
	}
	if len(job.Pending()) == 0 {
		return job, nil
	}
	if err := i.deps.DB.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist reset: %w", err)
	}
	if err := i.enqueue(task{kind: taskResume, jobID: jobID}); err != nil {
		return job, err
	}
	i.log.Info("DocumentIngestor: resume queued", zap.String("job_id", jobID), zap.Int("steps", len(job.Pending())))
	return job, nil
}

func (i *DocumentIngestor) requireIdle(job *models.Job) error {
	if _, busy := i.inflight.Load(job.ID); busy || !job.Terminal() {
		return fmt.Errorf("job %s is %s: %w", job.ID, job.Status, core.ErrJobNotTerminal)
	}
	return nil
}

// interrupt fails the running steps of a job whose worker is gone.
func (i *DocumentIngestor) interrupt(ctx context.Context, job *models.Job) error {
	now := i.now()
	for _, st := range job.Steps {
		if st.Status == models.StepRunning {
			if err := job.FailStep(st.Name, errors.New("interrupted before completion"), now); err != nil {
				return err
			}
		}
	}
	if err := job.Finalize(now); err != nil {
		return err
	}
	return i.deps.DB.UpdateJob(ctx, job)
}

// handle claims the job for this process and runs the task.
func (i *DocumentIngestor) handle(ctx context.Context, t task) error {
	if _, busy := i.inflight.LoadOrStore(t.jobID, struct{}{}); busy {
		i.log.Debug("DocumentIngestor: job already in flight", zap.String("job_id", t.jobID))
		return nil
	}
	defer i.inflight.Delete(t.jobID)

	job, err := i.deps.DB.GetJob(ctx, t.jobID)
	if err != nil {
		return err
	}

	var only models.StepName
	switch t.kind {
	case taskIngest:
		if job.Status != models.JobPending {
			return nil
		}
	case taskResume:
		if !job.Terminal() {
			return nil
		}
	case taskStep:
		if !job.Terminal() {
			return nil
		}
		only = t.step
	}
	return i.execute(ctx, job, only)
}

// execute moves the job to processing, runs its unfinished steps in order
// (or only the named one) and derives the terminal status. The job is
// persisted after every transition.
func (i *DocumentIngestor) execute(ctx context.Context, job *models.Job, only models.StepName) error {
	log := i.log.With(zap.String("job_id", job.ID))

	if err := job.Begin(i.now()); err != nil {
		return err
	}
	if err := i.deps.DB.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist start: %w", err)
	}

	for _, name := range job.Pending() {
		if only != "" && name != only {
			continue
		}
		if err := job.StartStep(name, i.now()); err != nil {
			// Prerequisites are missing; Finalize reports what is still waiting.
			log.Warn("DocumentIngestor: step cannot start", zap.String("step", string(name)), zap.Error(err))
			break
		}
		if err := i.deps.DB.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("persist step start: %w", err)
		}

		start := time.Now()
		stepErr := i.runStep(ctx, job, name)
		if stepErr == nil {
			if err := job.CompleteStep(name, i.now()); err != nil {
				return err
			}
			log.Info("DocumentIngestor: step completed", zap.String("step", string(name)), zap.Duration("took", time.Since(start)))
		} else {
			if err := job.FailStep(name, stepErr, i.now()); err != nil {
				return err
			}
			log.Warn("DocumentIngestor: step failed", zap.String("step", string(name)), zap.Bool("mandatory", name.Mandatory()), zap.Error(stepErr))
		}
		if err := i.deps.DB.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("persist step result: %w", err)
		}
		if stepErr != nil && name.Mandatory() {
			break
		}
	}

	if err := job.Finalize(i.now()); err != nil {
		return err
	}
	if err := i.deps.DB.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist final status: %w", err)
	}
	log.Info("DocumentIngestor: job finished", zap.String("status", string(job.Status)), zap.String("document_id", job.DocumentID))
	return nil
}

// runStep runs one step under the step timeout. A panic becomes the step error.
func (i *DocumentIngestor) runStep(ctx context.Context, job *models.Job, name models.StepName) (err error) {
	if i.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.StepTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()

	switch name {
	case models.StepExtractText:
		return i.extractText(ctx, job)
	case models.StepExtractMetadata:
		return i.extractMetadata(ctx, job)
	case models.StepGenerateEmbeddings:
		return i.generateEmbeddings(ctx, job)
	case models.StepSemanticChunking:
		return i.semanticChunking(ctx, job)
	}
	return fmt.Errorf("%q: %w", name, core.ErrInvalidStep)
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "upload.pdf"
	}
	return name
}
