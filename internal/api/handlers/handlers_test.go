package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/api/handlers"
	"github.com/markdave123-py/papertrail/internal/app"
	"github.com/markdave123-py/papertrail/internal/config"
	"github.com/markdave123-py/papertrail/internal/models"
	"github.com/markdave123-py/papertrail/internal/services"
	"github.com/markdave123-py/papertrail/internal/testutil"
	"github.com/markdave123-py/papertrail/internal/testutil/teststack"
)

const paperText = "Attention Is All You Need\n\nThe attention mechanism replaces recurrence in sequence transduction models."

type server struct {
	t     *testing.T
	stack *teststack.Stack
	srv   *httptest.Server
}

func newServer(t *testing.T) *server {
	t.Helper()
	st := teststack.New(t)
	log := zap.NewNop()
	cfg := &config.Config{JWTSecret: "test-secret", CORSOrigins: []string{"*"}, StaleAfter: 30 * time.Minute}

	users := services.NewUserService(st.DB, log)
	require.NoError(t, users.EnsureAdmin(context.Background(), "admin", "hunter22"))
	docs := services.NewDocumentService(st.DB, st.Objects)
	jobs := services.NewJobService(st.DB, st.Ingestor)

	h := app.Handlers{
		Auth:      handlers.NewAuthHandler(users, cfg.JWTSecret, log),
		Documents: handlers.NewDocumentHandler(docs, jobs, log),
		Jobs:      handlers.NewJobHandler(jobs, cfg.StaleAfter, log),
		Search:    handlers.NewSearchHandler(services.NewSearchService(st.DB, st.Vectors, st.Embedder, log), log),
	}
	srv := httptest.NewServer(app.NewRouter(cfg, h, log))
	t.Cleanup(srv.Close)
	return &server{t: t, stack: st, srv: srv}
}

func (s *server) do(method, path, token string, body io.Reader, contentType string) *http.Response {
	s.t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, body)
	require.NoError(s.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.srv.Client().Do(req)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *server) upload(data []byte, fields map[string]string) *http.Response {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if data != nil {
		fw, err := mw.CreateFormFile("file", "attention.pdf")
		require.NoError(s.t, err)
		_, err = fw.Write(data)
		require.NoError(s.t, err)
	}
	for k, v := range fields {
		require.NoError(s.t, mw.WriteField(k, v))
	}
	require.NoError(s.t, mw.Close())
	return s.do(http.MethodPost, "/api/v1/upload", "", &buf, mw.FormDataContentType())
}

func (s *server) login(user, pass string) *http.Response {
	s.t.Helper()
	body, _ := json.Marshal(map[string]string{"username": user, "password": pass})
	return s.do(http.MethodPost, "/api/v1/auth/login", "", bytes.NewReader(body), "application/json")
}

func (s *server) adminToken() string {
	s.t.Helper()
	resp := s.login("admin", "hunter22")
	require.Equal(s.t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	decode(s.t, resp, &out)
	require.NotEmpty(s.t, out["token"])
	return out["token"]
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestUploadStatusAndSearch(t *testing.T) {
	s := newServer(t)
	pdf := testutil.MinimalPDF(paperText)

	resp := s.upload(pdf, map[string]string{"title": "Attention Is All You Need", "authors": "Ashish Vaswani; Noam Shazeer", "year": "2017"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var submitted services.JobView
	decode(t, resp, &submitted)
	assert.Equal(t, models.JobPending, submitted.Status)
	assert.Equal(t, "attention.pdf", submitted.Filename)
	assert.Len(t, submitted.Steps, 4)

	require.NoError(t, s.stack.Ingestor.ProcessOne(context.Background(), submitted.ID))

	resp = s.do(http.MethodGet, "/api/v1/jobs/"+submitted.ID, "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var job services.JobView
	decode(t, resp, &job)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotEmpty(t, job.DocumentID)

	resp = s.do(http.MethodGet, "/api/v1/documents/"+job.DocumentID, "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc services.DocumentView
	decode(t, resp, &doc)
	require.NotNil(t, doc.Metadata)
	assert.Equal(t, models.ProvenanceExternal, doc.Metadata.Provenance)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, doc.Metadata.Authors)
	require.NotNil(t, doc.Metadata.Year)
	assert.Equal(t, 2017, *doc.Metadata.Year)
	assert.Len(t, doc.Pages, 1)

	resp = s.do(http.MethodGet, "/api/v1/documents/"+job.DocumentID+"/file", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, pdf, got)

	var found struct {
		Results []services.SearchResult `json:"results"`
	}
	resp = s.do(http.MethodGet, "/api/v1/search?q=attention&mode=keyword&scope=page", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &found)
	require.Len(t, found.Results, 1)
	assert.Equal(t, job.DocumentID, found.Results[0].DocumentID)
	assert.Equal(t, 1, found.Results[0].PageNumber)
	assert.Equal(t, float64(2), found.Results[0].Score)

	resp = s.do(http.MethodGet, "/api/v1/search?q=attention+recurrence&mode=semantic&scope=document", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &found)
	require.Len(t, found.Results, 1)
	assert.Equal(t, models.LevelDocument, found.Results[0].Level)
}

func TestUploadRejectsBadInput(t *testing.T) {
	s := newServer(t)

	resp := s.upload([]byte("plain text, not a pdf"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.upload(nil, map[string]string{"title": "no file"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.upload(testutil.MinimalPDF("x"), map[string]string{"metadata": "{not json"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.upload(testutil.MinimalPDF("x"), map[string]string{"year": "twenty"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLookupAndQueryErrors(t *testing.T) {
	s := newServer(t)

	for path, want := range map[string]int{
		"/api/v1/jobs/does-not-exist":           http.StatusNotFound,
		"/api/v1/documents/does-not-exist":      http.StatusNotFound,
		"/api/v1/documents/does-not-exist/file": http.StatusNotFound,
		"/api/v1/search?q=":                     http.StatusBadRequest,
		"/api/v1/search?q=x&mode=fuzzy":         http.StatusBadRequest,
		"/api/v1/search?q=x&scope=paragraph":    http.StatusBadRequest,
	} {
		resp := s.do(http.MethodGet, path, "", nil, "")
		assert.Equal(t, want, resp.StatusCode, path)
	}

	resp := s.do(http.MethodGet, "/api/v1/search?q=nothing+matches", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"results":[]`)
}

func TestAdminEndpoints(t *testing.T) {
	s := newServer(t)

	resp := s.do(http.MethodGet, "/api/v1/admin/stats", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = s.login("admin", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := s.adminToken()

	resp = s.upload(testutil.MinimalPDF(paperText), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var job services.JobView
	decode(t, resp, &job)

	// still pending: nothing to retry yet
	resp = s.do(http.MethodPost, "/api/v1/admin/jobs/"+job.ID+"/steps/generate_embeddings/retry", token, nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, s.stack.Ingestor.ProcessOne(context.Background(), job.ID))

	resp = s.do(http.MethodPost, "/api/v1/admin/jobs/"+job.ID+"/steps/render_figures/retry", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(http.MethodPost, "/api/v1/admin/jobs/"+job.ID+"/steps/generate_embeddings/retry", token, nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var retried services.JobView
	decode(t, resp, &retried)
	assert.Equal(t, models.StepGenerateEmbeddings, retried.CurrentStep)

	resp = s.do(http.MethodPost, "/api/v1/admin/jobs/missing/resume", token, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(http.MethodGet, "/api/v1/admin/progress", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var progress []services.JobView
	decode(t, resp, &progress)
	require.Len(t, progress, 1)
	assert.Equal(t, job.ID, progress[0].ID)

	resp = s.do(http.MethodGet, "/api/v1/admin/jobs/stale?older_than=1h", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stale []services.JobView
	decode(t, resp, &stale)
	assert.Empty(t, stale)

	resp = s.do(http.MethodGet, "/api/v1/admin/jobs/stale?older_than=soon", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(http.MethodGet, "/api/v1/admin/stats", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats services.Stats
	decode(t, resp, &stats)
	assert.Positive(t, stats.Store.Transactions)

	j, err := s.stack.DB.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	resp = s.do(http.MethodPut, "/api/v1/admin/documents/"+j.DocumentID+"/metadata", token,
		strings.NewReader(`{"title":"Edited title","venue":"NeurIPS"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var meta models.Metadata
	decode(t, resp, &meta)
	assert.Equal(t, "Edited title", meta.Title)
	assert.Equal(t, models.ProvenanceExternal, meta.Provenance)
}
