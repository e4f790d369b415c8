package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/papertrail/internal/core"
)

// stubProvider maps each text to a fixed vector and records what it saw.
type stubProvider struct {
	vectors map[string][]float32
	seen    []string
	err     error
}

func (s *stubProvider) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	s.seen = append(s.seen, texts...)
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := s.vectors[t]
		if !ok {
			v = []float32{1, 1, 1}
		}
		out[i] = v
	}
	return out, nil
}

func norm(v []float32) float64 {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	return math.Sqrt(n)
}

func TestEmbedNormalizesAndSkipsEmpty(t *testing.T) {
	p := &stubProvider{vectors: map[string][]float32{"a": {3, 4, 0}}}
	g, err := NewGenerator(p, 3)
	require.NoError(t, err)

	vecs, err := g.EmbedBatch(context.Background(), []string{"a", "   ", ""})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0}, vecs[0], 1e-6)
	assert.Equal(t, []float32{0, 0, 0}, vecs[1])
	assert.Equal(t, []float32{0, 0, 0}, vecs[2])
	assert.Equal(t, []string{"a"}, p.seen)
}

func TestEmbedTruncatesLongInput(t *testing.T) {
	p := &stubProvider{}
	g, err := NewGenerator(p, 3)
	require.NoError(t, err)

	_, err = g.EmbedBatch(context.Background(), []string{strings.Repeat("é", MaxInputChars+10)})
	require.NoError(t, err)
	require.Len(t, p.seen, 1)
	assert.Equal(t, MaxInputChars, len([]rune(p.seen[0])))
}

func TestEmbedWrapsProviderError(t *testing.T) {
	g, err := NewGenerator(&stubProvider{err: errors.New("quota")}, 3)
	require.NoError(t, err)

	_, err = g.EmbedBatch(context.Background(), []string{"x"})
	var ee *core.EmbeddingError
	require.ErrorAs(t, err, &ee)
}

func TestEmbedRejectsWrongDimension(t *testing.T) {
	p := &stubProvider{vectors: map[string][]float32{"x": {1, 2}}}
	g, err := NewGenerator(p, 3)
	require.NoError(t, err)

	_, err = g.EmbedBatch(context.Background(), []string{"x"})
	var ee *core.EmbeddingError
	require.ErrorAs(t, err, &ee)
}

func TestEmbedPagesDocumentVector(t *testing.T) {
	p := &stubProvider{vectors: map[string][]float32{
		"one": {1, 0, 0},
		"two": {0, 1, 0},
	}}
	pages := []string{"one", "", "two"}

	t.Run("blank pages skipped", func(t *testing.T) {
		g, err := NewGenerator(p, 3)
		require.NoError(t, err)
		perPage, doc, err := g.EmbedPages(context.Background(), pages)
		require.NoError(t, err)
		require.Len(t, perPage, 3)
		s := float32(1 / math.Sqrt2)
		assert.InDeltaSlice(t, []float32{s, s, 0}, doc, 1e-6)
		assert.InDelta(t, 1.0, norm(doc), 1e-6)
	})

	t.Run("blank pages included", func(t *testing.T) {
		g, err := NewGenerator(p, 3, WithBlankPagesInMean(true))
		require.NoError(t, err)
		_, doc, err := g.EmbedPages(context.Background(), pages)
		require.NoError(t, err)
		// mean is (1/3, 1/3, 0) which normalizes to the same direction
		s := float32(1 / math.Sqrt2)
		assert.InDeltaSlice(t, []float32{s, s, 0}, doc, 1e-6)
	})

	t.Run("all blank", func(t *testing.T) {
		g, err := NewGenerator(p, 3)
		require.NoError(t, err)
		_, doc, err := g.EmbedPages(context.Background(), []string{"", " "})
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0, 0}, doc)
	})
}

func TestDocumentVectorInclusionChangesMean(t *testing.T) {
	pages := [][]float32{{1, 0}, {0, 0}, {0, 1}, {0, 1}}

	skip, err := NewGenerator(&stubProvider{}, 2)
	require.NoError(t, err)
	incl, err := NewGenerator(&stubProvider{}, 2, WithBlankPagesInMean(true))
	require.NoError(t, err)

	// normalization removes the uniform scale, so both give the same direction
	assert.InDeltaSlice(t, skip.DocumentVector(pages), incl.DocumentVector(pages), 1e-6)
	assert.InDelta(t, 1.0, norm(skip.DocumentVector(pages)), 1e-6)
}

func TestNewGeneratorValidates(t *testing.T) {
	_, err := NewGenerator(nil, 3)
	assert.Error(t, err)
	_, err = NewGenerator(&stubProvider{}, 0)
	assert.Error(t, err)
}
