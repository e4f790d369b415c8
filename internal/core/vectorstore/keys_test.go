package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/papertrail/internal/models"
)

func TestKeysRoundTrip(t *testing.T) {
	doc := "3f2a9c1e-0000-4000-8000-000000000001"

	k, err := ParseKey(DocumentKey(doc))
	require.NoError(t, err)
	assert.Equal(t, Key{DocumentID: doc, Level: models.LevelDocument, ChunkIndex: -1}, k)

	k, err = ParseKey(PageKey(doc, 7))
	require.NoError(t, err)
	assert.Equal(t, Key{DocumentID: doc, Level: models.LevelPage, PageNumber: 7, ChunkIndex: -1}, k)

	k, err = ParseKey(ChunkKey(doc, 0))
	require.NoError(t, err)
	assert.Equal(t, Key{DocumentID: doc, Level: models.LevelChunk, ChunkIndex: 0}, k)
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{"", "d:page", "d:page:0", "d:page:x", "d:chunk:-1", "d:section:2", ":page:1", "a:b:c:d"} {
		t.Run(key, func(t *testing.T) {
			_, err := ParseKey(key)
			assert.Error(t, err)
		})
	}
}

func TestRecordFor(t *testing.T) {
	r, err := RecordFor(ChunkKey("d1", 4), []float32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, "d1", r.DocumentID)
	assert.Equal(t, models.LevelChunk, r.Level)
	assert.Equal(t, 4, r.ChunkIndex)
}
