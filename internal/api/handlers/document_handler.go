package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/core/ingestion_engine"
	"github.com/markdave123-py/papertrail/internal/models"
	"github.com/markdave123-py/papertrail/internal/services"
)

// MaxUploadBytes bounds a single PDF upload.
const MaxUploadBytes = 64 << 20

type DocumentHandler struct {
	docs *services.DocumentService
	jobs *services.JobService
	log  *zap.Logger
}

func NewDocumentHandler(docs *services.DocumentService, jobs *services.JobService, log *zap.Logger) *DocumentHandler {
	return &DocumentHandler{docs: docs, jobs: jobs, log: log}
}

// UploadDocument stores the file, creates a pending job and answers 202 with
// the job status. Processing happens in the background.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "could not read file"})
		return
	}

	meta, err := suppliedMetadata(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "application/pdf"
	}

	job, err := h.jobs.Submit(r.Context(), ingestion_engine.Upload{
		Data:        data,
		Filename:    header.Filename,
		ContentType: contentType,
		Metadata:    meta,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// suppliedMetadata reads either a "metadata" JSON field or the flat
// title/authors/venue/year fields. Nil means nothing was supplied.
func suppliedMetadata(r *http.Request) (*models.Metadata, error) {
	if raw := strings.TrimSpace(r.FormValue("metadata")); raw != "" {
		var m models.Metadata
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("metadata field: %v: %w", err, core.ErrInvalidInput)
		}
		return &m, nil
	}

	m := models.Metadata{
		Title: strings.TrimSpace(r.FormValue("title")),
		Venue: strings.TrimSpace(r.FormValue("venue")),
	}
	for _, a := range r.MultipartForm.Value["authors"] {
		for _, name := range strings.Split(a, ";") {
			if name = strings.TrimSpace(name); name != "" {
				m.Authors = append(m.Authors, name)
			}
		}
	}
	if y := strings.TrimSpace(r.FormValue("year")); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil {
			return nil, fmt.Errorf("year %q: %w", y, core.ErrInvalidInput)
		}
		m.Year = &year
	}
	if m.Title == "" && m.Venue == "" && len(m.Authors) == 0 && m.Year == nil {
		return nil, nil
	}
	return &m, nil
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	docs, err := h.docs.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	view, err := h.docs.Get(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *DocumentHandler) GetDocumentFile(w http.ResponseWriter, r *http.Request) {
	doc, rc, err := h.docs.OpenFile(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.Filename))
	if _, err := io.Copy(w, rc); err != nil && !errors.Is(err, r.Context().Err()) {
		h.log.Warn("DocumentHandler: file stream interrupted", zap.String("document_id", doc.ID), zap.Error(err))
	}
}

// UpdateMetadata stores a manual edit that later pipeline runs keep.
func (h *DocumentHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var m models.Metadata
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
		return
	}
	saved, err := h.docs.SetMetadata(r.Context(), chi.URLParam(r, "docID"), m)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
