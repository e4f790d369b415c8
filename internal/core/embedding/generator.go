// Package embedding turns text into normalized fixed-dimension vectors and
// aggregates page vectors into one document vector.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/markdave123-py/papertrail/internal/core"
)

// MaxInputChars is where input text is truncated before embedding.
const MaxInputChars = 2000

// Generator wraps a provider with truncation, normalization and the empty-text rule.
type Generator struct {
	provider          core.EmbeddingProvider
	dim               int
	includeBlankPages bool
}

type Option func(*Generator)

// WithBlankPagesInMean makes blank pages contribute zero vectors to the
// document mean instead of being skipped.
func WithBlankPagesInMean(include bool) Option {
	return func(g *Generator) { g.includeBlankPages = include }
}

func NewGenerator(provider core.EmbeddingProvider, dim int, opts ...Option) (*Generator, error) {
	if provider == nil {
		return nil, errors.New("embedding provider is nil")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	g := &Generator{provider: provider, dim: dim}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

func (g *Generator) Dimension() int { return g.dim }

// EmbedBatch returns one unit vector per text. Empty or whitespace-only texts get
// the zero vector and are never sent to the provider.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		inputs []string
		slots  []int
	)
	for i, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			out[i] = make([]float32, g.dim)
			continue
		}
		inputs = append(inputs, truncate(t, MaxInputChars))
		slots = append(slots, i)
	}
	if len(inputs) == 0 {
		return out, nil
	}

	vecs, err := g.provider.EmbedTexts(ctx, inputs)
	if err != nil {
		return nil, &core.EmbeddingError{Err: err}
	}
	if len(vecs) != len(inputs) {
		return nil, &core.EmbeddingError{Err: fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(inputs))}
	}
	for j, v := range vecs {
		if len(v) != g.dim {
			return nil, &core.EmbeddingError{Err: fmt.Errorf("provider returned %d dimensions, expected %d", len(v), g.dim)}
		}
		out[slots[j]] = Normalize(v)
	}
	return out, nil
}

// Embed embeds a single text, typically a search query.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedPages embeds every page and derives the document vector from them.
func (g *Generator) EmbedPages(ctx context.Context, pages []string) (perPage [][]float32, doc []float32, err error) {
	perPage, err = g.EmbedBatch(ctx, pages)
	if err != nil {
		return nil, nil, err
	}
	return perPage, g.DocumentVector(perPage), nil
}

// DocumentVector is the normalized mean of the page vectors. Zero vectors are
// skipped unless blank pages are configured to count. With nothing to average
// the result is the zero vector.
func (g *Generator) DocumentVector(pages [][]float32) []float32 {
	sum := make([]float64, g.dim)
	n := 0
	for _, v := range pages {
		if len(v) != g.dim {
			continue
		}
		if isZero(v) && !g.includeBlankPages {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		n++
	}
	out := make([]float32, g.dim)
	if n == 0 {
		return out
	}
	for i := range sum {
		out[i] = float32(sum[i] / float64(n))
	}
	return Normalize(out)
}

// Normalize scales v to unit length; zero vectors come back unchanged.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
