package services

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/models"
	"github.com/markdave123-py/papertrail/internal/testutil"
	"github.com/markdave123-py/papertrail/internal/testutil/teststack"
)

const (
	attentionPaper = "Attention Is All You Need\n\nThe attention mechanism replaces recurrence. Attention heads attend to every token."
	resnetPaper    = "Deep Residual Learning\n\nResidual connections ease the training of deep networks. We use attention once."
)

func TestDocumentServiceGetReturnsPipelineOutput(t *testing.T) {
	ctx := context.Background()
	st := teststack.New(t)
	jobs := NewJobService(st.DB, st.Ingestor)
	docs := NewDocumentService(st.DB, st.Objects)

	id := st.Ingest(t, "attention.pdf", attentionPaper, "Second page about decoders.")
	job, err := jobs.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, job.Status)
	require.NotEmpty(t, job.DocumentID)

	view, err := docs.Get(ctx, job.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "attention.pdf", view.Document.Filename)
	assert.Len(t, view.Pages, 2)
	assert.NotEmpty(t, view.Chunks)
	// vector refs cover the document and page levels
	assert.Equal(t, 3, view.Vectors)

	doc, rc, err := docs.OpenFile(ctx, job.DocumentID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, testutil.MinimalPDF(attentionPaper, "Second page about decoders."), data)
	assert.Equal(t, job.DocumentID, doc.ID)

	_, err = docs.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDocumentServiceSetMetadataIsExternal(t *testing.T) {
	ctx := context.Background()
	st := teststack.New(t)
	jobs := NewJobService(st.DB, st.Ingestor)
	docs := NewDocumentService(st.DB, st.Objects)

	id := st.Ingest(t, "resnet.pdf", resnetPaper)
	job, err := jobs.Get(ctx, id)
	require.NoError(t, err)

	year := 2016
	m, err := docs.SetMetadata(ctx, job.DocumentID, models.Metadata{
		Title:   "  Deep Residual Learning for Image Recognition ",
		Authors: []string{"Kaiming He"},
		Year:    &year,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProvenanceExternal, m.Provenance)
	assert.Equal(t, "Deep Residual Learning for Image Recognition", m.Title)

	// re-running metadata extraction must not overwrite the edit
	_, err = jobs.Retry(ctx, id, string(models.StepExtractMetadata))
	require.NoError(t, err)
	runWorkers(t, st)
	assert.Eventually(t, func() bool {
		j, err := st.DB.GetJob(ctx, id)
		return err == nil && j.Status == models.JobCompleted && j.Step(models.StepExtractMetadata).Attempts == 2
	}, 5*time.Second, 10*time.Millisecond)
	got, err := st.DB.GetMetadata(ctx, job.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Kaiming He"}, got.Authors)

	bad := 99
	_, err = docs.SetMetadata(ctx, job.DocumentID, models.Metadata{Year: &bad})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = docs.SetMetadata(ctx, "missing", models.Metadata{Title: "x"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestJobServiceRetryResumeAndStats(t *testing.T) {
	ctx := context.Background()
	st := teststack.New(t)
	jobs := NewJobService(st.DB, st.Ingestor)

	id := st.Ingest(t, "paper.pdf", attentionPaper)

	_, err := jobs.Retry(ctx, id, "compile_latex")
	assert.ErrorIs(t, err, core.ErrInvalidStep)

	v, err := jobs.Retry(ctx, id, string(models.StepGenerateEmbeddings))
	require.NoError(t, err)
	assert.Equal(t, models.StepGenerateEmbeddings, v.CurrentStep)
	for _, s := range v.Steps {
		if s.Name == models.StepGenerateEmbeddings {
			assert.Equal(t, models.StepPending, s.Status)
		}
	}

	recent, err := jobs.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, id, recent[0].ID)

	stats := jobs.Stats()
	assert.Positive(t, stats.Store.Transactions)
	assert.Equal(t, st.Ingestor.QueueDepth(), stats.QueueDepth)

	_, err = jobs.Resume(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestJobServiceStale(t *testing.T) {
	ctx := context.Background()
	st := teststack.New(t)
	jobs := NewJobService(st.DB, st.Ingestor)

	_, err := jobs.Stale(ctx, 0)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	now := time.Now().UTC()
	stuck := models.NewJob("stuck", "stuck.pdf", "uploads/stuck/stuck.pdf", "application/pdf", models.PipelineSteps(false), now.Add(-2*time.Hour))
	require.NoError(t, stuck.Begin(now.Add(-2*time.Hour)))
	require.NoError(t, st.DB.CreateJob(ctx, stuck))

	fresh := models.NewJob("fresh", "fresh.pdf", "uploads/fresh/fresh.pdf", "application/pdf", models.PipelineSteps(false), now)
	require.NoError(t, fresh.Begin(now))
	require.NoError(t, st.DB.CreateJob(ctx, fresh))

	stale, err := jobs.Stale(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "stuck", stale[0].ID)
}

func TestSearchKeywordRanksByOccurrences(t *testing.T) {
	ctx := context.Background()
	st := teststack.New(t)
	search := NewSearchService(st.DB, st.Vectors, st.Embedder, zap.NewNop())

	a := st.Ingest(t, "attention.pdf", attentionPaper)
	b := st.Ingest(t, "resnet.pdf", resnetPaper)
	docA := mustDocID(t, st, a)
	docB := mustDocID(t, st, b)

	res, err := search.Search(ctx, Query{Text: "ATTENTION", Mode: ModeKeyword, Scope: ScopePage})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, docA, res[0].DocumentID)
	assert.Equal(t, 1, res[0].PageNumber)
	assert.Equal(t, float64(3), res[0].Score)
	assert.Equal(t, docB, res[1].DocumentID)
	assert.Equal(t, float64(1), res[1].Score)
	assert.Contains(t, res[0].Snippet, "ttention")
	for _, r := range res {
		assert.Equal(t, models.LevelPage, r.Level)
		assert.Nil(t, r.ChunkIndex)
	}

	all, err := search.Search(ctx, Query{Text: "residual", Scope: ScopeAll})
	require.NoError(t, err)
	levels := map[models.VectorLevel]bool{}
	for _, r := range all {
		assert.Equal(t, docB, r.DocumentID)
		levels[r.Level] = true
	}
	assert.True(t, levels[models.LevelPage])
	assert.True(t, levels[models.LevelChunk])

	byName, err := search.Search(ctx, Query{Text: "resnet", Scope: ScopeDocument})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, docB, byName[0].DocumentID)
	assert.Equal(t, models.LevelDocument, byName[0].Level)

	byNameAll, err := search.Search(ctx, Query{Text: "resnet", Scope: ScopeAll})
	require.NoError(t, err)
	require.Len(t, byNameAll, 1)
	assert.Equal(t, docB, byNameAll[0].DocumentID)
	assert.Equal(t, models.LevelDocument, byNameAll[0].Level)

	limited, err := search.Search(ctx, Query{Text: "attention", Scope: ScopeAll, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSearchSemanticFiltersByLevel(t *testing.T) {
	ctx := context.Background()
	st := teststack.New(t)
	search := NewSearchService(st.DB, st.Vectors, st.Embedder, zap.NewNop())

	a := st.Ingest(t, "attention.pdf", attentionPaper)
	st.Ingest(t, "resnet.pdf", resnetPaper)
	docA := mustDocID(t, st, a)

	for _, tc := range []struct {
		scope SearchScope
		level models.VectorLevel
	}{
		{ScopePage, models.LevelPage},
		{ScopeChunk, models.LevelChunk},
		{ScopeDocument, models.LevelDocument},
	} {
		t.Run(string(tc.scope), func(t *testing.T) {
			res, err := search.Search(ctx, Query{Text: "attention mechanism recurrence", Mode: ModeSemantic, Scope: tc.scope})
			require.NoError(t, err)
			require.NotEmpty(t, res)
			assert.Equal(t, docA, res[0].DocumentID)
			for i, r := range res {
				assert.Equal(t, tc.level, r.Level)
				if i > 0 {
					assert.GreaterOrEqual(t, res[i-1].Score, r.Score)
				}
			}
			if tc.level != models.LevelDocument {
				assert.NotEmpty(t, res[0].Snippet)
			}
		})
	}

	all, err := search.Search(ctx, Query{Text: "residual", Mode: ModeSemantic, Scope: ScopeAll, Limit: 100})
	require.NoError(t, err)
	levels := map[models.VectorLevel]bool{}
	for _, r := range all {
		levels[r.Level] = true
	}
	assert.Len(t, levels, 3)
}

func TestSearchValidatesQuery(t *testing.T) {
	search := NewSearchService(nil, nil, nil, nil)
	ctx := context.Background()

	for _, q := range []Query{
		{Text: "   "},
		{Text: "x", Mode: "fuzzy"},
		{Text: "x", Scope: "paragraph"},
		{Text: "x", Mode: ModeSemantic},
	} {
		_, err := search.Search(ctx, q)
		assert.ErrorIs(t, err, core.ErrInvalidInput, "%+v", q)
	}

	q, err := Query{Text: " x ", Limit: 1000}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, Query{Text: "x", Mode: ModeKeyword, Scope: ScopeAll, Limit: maxSearchLimit}, q)
}

func TestRankBreaksTiesByDocumentThenPage(t *testing.T) {
	one, two := 1, 2
	rs := []SearchResult{
		{DocumentID: "b", PageNumber: 1, Score: 2},
		{DocumentID: "a", PageNumber: 3, Score: 2},
		{DocumentID: "a", PageNumber: 1, Score: 2, ChunkIndex: &two},
		{DocumentID: "a", PageNumber: 1, Score: 2, ChunkIndex: &one},
		{DocumentID: "c", PageNumber: 9, Score: 5},
	}
	rank(rs)

	var got []string
	for _, r := range rs {
		got = append(got, r.DocumentID)
	}
	assert.Equal(t, []string{"c", "a", "a", "a", "b"}, got)
	assert.Equal(t, 1, *rs[1].ChunkIndex)
	assert.Equal(t, 2, *rs[2].ChunkIndex)
	assert.Equal(t, 3, rs[3].PageNumber)
}

func TestUserServiceEnsureAdminAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	st := teststack.New(t)
	users := NewUserService(st.DB, zap.NewNop())

	require.NoError(t, users.EnsureAdmin(ctx, "admin", ""))
	_, err := users.Authenticate(ctx, "admin", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, users.EnsureAdmin(ctx, "admin", "s3cret"))
	// seeding twice keeps the first password
	require.NoError(t, users.EnsureAdmin(ctx, "admin", "other"))

	u, err := users.Authenticate(ctx, "admin", "s3cret")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)

	_, err = users.Authenticate(ctx, "admin", "other")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	_, err = users.Authenticate(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func runWorkers(t *testing.T, st *teststack.Stack) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	st.Ingestor.Start(ctx, 1)
	t.Cleanup(func() {
		cancel()
		st.Ingestor.Wait()
	})
}

func mustDocID(t *testing.T, st *teststack.Stack, jobID string) string {
	t.Helper()
	j, err := st.DB.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.NotEmpty(t, j.DocumentID)
	return j.DocumentID
}
