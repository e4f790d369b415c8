package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/papertrail/internal/models"
)

func record(t *testing.T, key string, v ...float32) models.VectorRecord {
	t.Helper()
	r, err := RecordFor(key, v)
	require.NoError(t, err)
	return r
}

func TestMemoryStoreQueryRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	require.NoError(t, s.Upsert(ctx, []models.VectorRecord{
		record(t, DocumentKey("a"), 1, 0),
		record(t, PageKey("a", 1), 0.9, 0.1),
		record(t, PageKey("a", 2), 0, 1),
		record(t, PageKey("b", 1), 1, 0),
	}))

	hits, err := s.Query(ctx, []float32{1, 0}, models.VectorFilter{Levels: []models.VectorLevel{models.LevelPage}}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "b:page:1", hits[0].ID)
	assert.Equal(t, "a:page:1", hits[1].ID)
	assert.Equal(t, "a:page:2", hits[2].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)

	hits, err = s.Query(ctx, []float32{1, 0}, models.VectorFilter{DocumentID: "a"}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
}

func TestMemoryStoreUpsertOverwritesAndDeleteByLevel(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	recs := []models.VectorRecord{
		record(t, DocumentKey("a"), 1, 0),
		record(t, PageKey("a", 1), 1, 0),
		record(t, ChunkKey("a", 0), 1, 0),
	}
	require.NoError(t, s.Upsert(ctx, recs))
	require.NoError(t, s.Upsert(ctx, recs))
	assert.Equal(t, 1, s.Count("a", models.LevelDocument))
	assert.Equal(t, 1, s.Count("a", models.LevelPage))

	require.NoError(t, s.DeleteByDocument(ctx, "a", models.LevelPage, models.LevelDocument))
	assert.Equal(t, 0, s.Count("a", models.LevelPage))
	assert.Equal(t, 1, s.Count("a", models.LevelChunk))

	require.NoError(t, s.DeleteByDocument(ctx, "a"))
	assert.Equal(t, 0, s.Count("a", models.LevelChunk))
}

func TestMemoryStoreDimensionCheck(t *testing.T) {
	s := NewMemoryStore(3)
	err := s.Upsert(context.Background(), []models.VectorRecord{{ID: "a", DocumentID: "a", Vector: []float32{1}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = s.Query(context.Background(), []float32{1, 2}, models.VectorFilter{}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCosineZeroVector(t *testing.T) {
	assert.Equal(t, float32(0), cosine([]float32{0, 0}, []float32{1, 0}))
}
