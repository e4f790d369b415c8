package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/services"
)

type JobHandler struct {
	jobs       *services.JobService
	staleAfter time.Duration
	log        *zap.Logger
}

func NewJobHandler(jobs *services.JobService, staleAfter time.Duration, log *zap.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, staleAfter: staleAfter, log: log}
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Progress lists the latest jobs with their step detail.
func (h *JobHandler) Progress(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.jobs.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandler) StaleJobs(w http.ResponseWriter, r *http.Request) {
	olderThan := h.staleAfter
	if s := r.URL.Query().Get("older_than"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			writeError(w, h.log, core.ErrInvalidInput)
			return
		}
		olderThan = d
	}
	jobs, err := h.jobs.Stale(r.Context(), olderThan)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandler) RetryStep(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Retry(r.Context(), chi.URLParam(r, "jobID"), chi.URLParam(r, "step"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *JobHandler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Resume(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *JobHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.Stats())
}
