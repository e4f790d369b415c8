package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// JobStatus is the overall state of a Job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// StepStatus is the state of one pipeline step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepName identifies a pipeline step.
type StepName string

const (
	StepExtractText        StepName = "extract_text"
	StepExtractMetadata    StepName = "extract_metadata"
	StepGenerateEmbeddings StepName = "generate_embeddings"
	StepSemanticChunking   StepName = "semantic_chunking"
)

// PipelineSteps returns the fixed step order. Chunking is appended only when enabled.
func PipelineSteps(withChunking bool) []StepName {
	steps := []StepName{StepExtractText, StepExtractMetadata, StepGenerateEmbeddings}
	if withChunking {
		steps = append(steps, StepSemanticChunking)
	}
	return steps
}

// ParseStepName validates a step name coming from the outside.
func ParseStepName(s string) (StepName, bool) {
	switch StepName(s) {
	case StepExtractText, StepExtractMetadata, StepGenerateEmbeddings, StepSemanticChunking:
		return StepName(s), true
	}
	return "", false
}

// Mandatory reports whether a failure of the step fails the whole Job.
func (s StepName) Mandatory() bool {
	return s != StepSemanticChunking
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobProcessing},
	JobProcessing: {JobCompleted, JobFailed},
	JobCompleted:  {JobProcessing},
	JobFailed:     {JobProcessing},
}

var stepTransitions = map[StepStatus][]StepStatus{
	StepPending:   {StepRunning},
	StepRunning:   {StepCompleted, StepFailed},
	StepCompleted: {StepPending},
	StepFailed:    {StepPending},
}

// TransitionError is returned for a move the state tables do not allow.
type TransitionError struct {
	JobID string
	Step  StepName // empty for job-level transitions
	From  string
	To    string
}

func (e *TransitionError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("job %s: illegal transition %s -> %s", e.JobID, e.From, e.To)
	}
	return fmt.Sprintf("job %s: step %s: illegal transition %s -> %s", e.JobID, e.Step, e.From, e.To)
}

// PrerequisiteError is returned when a step is started or reset before all
// prior steps are completed.
type PrerequisiteError struct {
	JobID   string
	Step    StepName
	Missing []StepName
}

func (e *PrerequisiteError) Error() string {
	names := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		names[i] = string(m)
	}
	return fmt.Sprintf("job %s: step %s requires completed steps: %s", e.JobID, e.Step, strings.Join(names, ", "))
}

// StepState is the persisted detail of one step.
type StepState struct {
	Name        StepName   `json:"name"`
	Status      StepStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Job is one asynchronous processing run for one uploaded file.
type Job struct {
	ID               string      `db:"id" json:"id"`
	DocumentID       string      `db:"document_id" json:"document_id,omitempty"`
	Filename         string      `db:"filename" json:"filename"`
	StoragePath      string      `db:"storage_path" json:"storage_path"`
	ContentType      string      `db:"content_type" json:"content_type"`
	Status           JobStatus   `db:"status" json:"status"`
	CurrentStep      StepName    `db:"current_step" json:"current_step"`
	Progress         int         `db:"progress" json:"progress"`
	Steps            []StepState `db:"steps" json:"steps"`
	Error            string      `db:"error_message" json:"error,omitempty"`
	SuppliedMetadata *Metadata   `db:"supplied_metadata" json:"supplied_metadata,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
	CompletedAt      *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

// NewJob builds a pending job with every step pending.
func NewJob(id, filename, storagePath, contentType string, steps []StepName, now time.Time) *Job {
	states := make([]StepState, len(steps))
	for i, s := range steps {
		states[i] = StepState{Name: s, Status: StepPending}
	}
	var current StepName
	if len(steps) > 0 {
		current = steps[0]
	}
	return &Job{
		ID:          id,
		Filename:    filename,
		StoragePath: storagePath,
		ContentType: contentType,
		Status:      JobPending,
		CurrentStep: current,
		Steps:       states,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Step returns the state for name, or nil if the job does not run that step.
func (j *Job) Step(name StepName) *StepState {
	for i := range j.Steps {
		if j.Steps[i].Name == name {
			return &j.Steps[i]
		}
	}
	return nil
}

// Terminal reports whether the job reached completed or failed.
func (j *Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

func (j *Job) moveJob(to JobStatus, now time.Time) error {
	if j.Status == to {
		return nil
	}
	if !slices.Contains(jobTransitions[j.Status], to) {
		return &TransitionError{JobID: j.ID, From: string(j.Status), To: string(to)}
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}

func (j *Job) moveStep(st *StepState, to StepStatus) error {
	if !slices.Contains(stepTransitions[st.Status], to) {
		return &TransitionError{JobID: j.ID, Step: st.Name, From: string(st.Status), To: string(to)}
	}
	st.Status = to
	return nil
}

// missingPrerequisites lists the steps before name that are not completed.
func (j *Job) missingPrerequisites(name StepName) []StepName {
	var missing []StepName
	for _, st := range j.Steps {
		if st.Name == name {
			break
		}
		if st.Status != StepCompleted {
			missing = append(missing, st.Name)
		}
	}
	return missing
}

func (j *Job) lookup(name StepName) (*StepState, error) {
	st := j.Step(name)
	if st == nil {
		return nil, fmt.Errorf("job %s has no step %q", j.ID, name)
	}
	return st, nil
}

// Begin moves the job into processing.
func (j *Job) Begin(now time.Time) error {
	if err := j.moveJob(JobProcessing, now); err != nil {
		return err
	}
	j.Error = ""
	j.CompletedAt = nil
	return nil
}

// StartStep moves a pending step to running once its prerequisites are done.
func (j *Job) StartStep(name StepName, now time.Time) error {
	st, err := j.lookup(name)
	if err != nil {
		return err
	}
	if missing := j.missingPrerequisites(name); len(missing) > 0 {
		return &PrerequisiteError{JobID: j.ID, Step: name, Missing: missing}
	}
	if err := j.moveStep(st, StepRunning); err != nil {
		return err
	}
	st.Error = ""
	st.Attempts++
	t := now
	st.StartedAt = &t
	st.CompletedAt = nil
	j.CurrentStep = name
	j.UpdatedAt = now
	return nil
}

// CompleteStep marks a running step completed and advances current_step.
func (j *Job) CompleteStep(name StepName, now time.Time) error {
	st, err := j.lookup(name)
	if err != nil {
		return err
	}
	if err := j.moveStep(st, StepCompleted); err != nil {
		return err
	}
	t := now
	st.CompletedAt = &t
	j.CurrentStep = j.nextStep(name)
	j.Progress = max(j.Progress, j.computeProgress())
	j.UpdatedAt = now
	return nil
}

// FailStep marks a running step failed, keeping the error text verbatim.
func (j *Job) FailStep(name StepName, cause error, now time.Time) error {
	st, err := j.lookup(name)
	if err != nil {
		return err
	}
	if err := j.moveStep(st, StepFailed); err != nil {
		return err
	}
	if cause != nil {
		st.Error = cause.Error()
	}
	if st.Error == "" {
		st.Error = "unknown error"
	}
	j.CurrentStep = name
	j.UpdatedAt = now
	return nil
}

// ResetStep puts exactly one step of a terminal job back to pending.
func (j *Job) ResetStep(name StepName, now time.Time) error {
	st, err := j.lookup(name)
	if err != nil {
		return err
	}
	if !j.Terminal() {
		return &TransitionError{JobID: j.ID, Step: name, From: string(j.Status), To: string(StepPending)}
	}
	if missing := j.missingPrerequisites(name); len(missing) > 0 {
		return &PrerequisiteError{JobID: j.ID, Step: name, Missing: missing}
	}
	if err := j.moveStep(st, StepPending); err != nil {
		return err
	}
	st.Error = ""
	st.CompletedAt = nil
	j.CurrentStep = name
	j.UpdatedAt = now
	return nil
}

// ResetIncomplete puts every failed step of a terminal job back to pending so
// a resume can run all unfinished steps in order. It returns the reset steps.
func (j *Job) ResetIncomplete(now time.Time) ([]StepName, error) {
	if !j.Terminal() {
		return nil, &TransitionError{JobID: j.ID, From: string(j.Status), To: string(JobProcessing)}
	}
	var reset []StepName
	for i := range j.Steps {
		st := &j.Steps[i]
		if st.Status != StepFailed {
			continue
		}
		if err := j.moveStep(st, StepPending); err != nil {
			return reset, err
		}
		st.Error = ""
		st.CompletedAt = nil
		reset = append(reset, st.Name)
	}
	for _, st := range j.Steps {
		if st.Status != StepCompleted {
			j.CurrentStep = st.Name
			break
		}
	}
	j.UpdatedAt = now
	return reset, nil
}

// Pending lists the steps not yet completed, in order.
func (j *Job) Pending() []StepName {
	var out []StepName
	for _, st := range j.Steps {
		if st.Status != StepCompleted {
			out = append(out, st.Name)
		}
	}
	return out
}

// Finalize derives the terminal job status from the step states.
func (j *Job) Finalize(now time.Time) error {
	var failed *StepState
	var waiting []string
	for i := range j.Steps {
		st := &j.Steps[i]
		if !st.Name.Mandatory() {
			continue
		}
		switch st.Status {
		case StepFailed:
			if failed == nil {
				failed = st
			}
		case StepPending, StepRunning:
			waiting = append(waiting, string(st.Name))
		}
	}

	switch {
	case failed != nil:
		if err := j.moveJob(JobFailed, now); err != nil {
			return err
		}
		j.CurrentStep = failed.Name
		j.Error = fmt.Sprintf("%s: %s", failed.Name, failed.Error)
	case len(waiting) > 0:
		if err := j.moveJob(JobFailed, now); err != nil {
			return err
		}
		j.CurrentStep = StepName(waiting[0])
		j.Error = "steps not yet run: " + strings.Join(waiting, ", ")
	default:
		if err := j.moveJob(JobCompleted, now); err != nil {
			return err
		}
		j.Error = ""
		j.Progress = 100
		t := now
		j.CompletedAt = &t
	}
	j.UpdatedAt = now
	return nil
}

func (j *Job) computeProgress() int {
	if len(j.Steps) == 0 {
		return 0
	}
	done := 0
	for _, st := range j.Steps {
		if st.Status == StepCompleted {
			done++
		}
	}
	return done * 100 / len(j.Steps)
}

func (j *Job) nextStep(name StepName) StepName {
	for i, st := range j.Steps {
		if st.Name == name && i+1 < len(j.Steps) {
			return j.Steps[i+1].Name
		}
	}
	return name
}
