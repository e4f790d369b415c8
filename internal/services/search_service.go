package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/models"
)

type SearchMode string

const (
	ModeKeyword  SearchMode = "keyword"
	ModeSemantic SearchMode = "semantic"
)

type SearchScope string

const (
	ScopePage     SearchScope = "page"
	ScopeChunk    SearchScope = "chunk"
	ScopeDocument SearchScope = "document"
	ScopeAll      SearchScope = "all"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	// keyword candidates are fetched in store order, so rank a wider pool
	keywordPoolFactor = 10
	snippetRunes      = 200
)

type Query struct {
	Text  string
	Mode  SearchMode
	Scope SearchScope
	Limit int
}

type SearchResult struct {
	DocumentID string             `json:"document_id"`
	Level      models.VectorLevel `json:"level"`
	PageNumber int                `json:"page_number,omitempty"`
	ChunkIndex *int               `json:"chunk_index,omitempty"`
	Score      float64            `json:"score"`
	Snippet    string             `json:"snippet,omitempty"`
}

// QueryEmbedder turns query text into a vector comparable with stored ones.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type SearchService struct {
	db       core.DbClient
	vectors  core.VectorStore
	embedder QueryEmbedder
	log      *zap.Logger
}

func NewSearchService(db core.DbClient, vectors core.VectorStore, embedder QueryEmbedder, log *zap.Logger) *SearchService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SearchService{db: db, vectors: vectors, embedder: embedder, log: log}
}

// Normalize fills defaults and validates q.
func (q Query) Normalize() (Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, fmt.Errorf("empty query: %w", core.ErrInvalidInput)
	}
	if q.Mode == "" {
		q.Mode = ModeKeyword
	}
	if q.Scope == "" {
		q.Scope = ScopeAll
	}
	switch q.Mode {
	case ModeKeyword, ModeSemantic:
	default:
		return q, fmt.Errorf("mode %q: %w", q.Mode, core.ErrInvalidInput)
	}
	switch q.Scope {
	case ScopePage, ScopeChunk, ScopeDocument, ScopeAll:
	default:
		return q, fmt.Errorf("scope %q: %w", q.Scope, core.ErrInvalidInput)
	}
	q.Limit = clampLimit(q.Limit, defaultSearchLimit, maxSearchLimit)
	return q, nil
}

func (s *SearchService) Search(ctx context.Context, q Query) ([]SearchResult, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	if q.Mode == ModeSemantic {
		results, err = s.semantic(ctx, q)
	} else {
		results, err = s.keyword(ctx, q)
	}
	if err != nil {
		return nil, err
	}

	rank(results)
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (s *SearchService) keyword(ctx context.Context, q Query) ([]SearchResult, error) {
	pool := q.Limit * keywordPoolFactor
	var matches []models.TextMatch

	if q.Scope == ScopePage || q.Scope == ScopeAll {
		m, err := s.db.SearchPageText(ctx, q.Text, pool)
		if err != nil {
			return nil, fmt.Errorf("search pages: %w", err)
		}
		matches = append(matches, m...)
	}
	if q.Scope == ScopeChunk || q.Scope == ScopeAll {
		m, err := s.db.SearchChunkText(ctx, q.Text, pool)
		if err != nil {
			return nil, fmt.Errorf("search chunks: %w", err)
		}
		matches = append(matches, m...)
	}
	if q.Scope == ScopeDocument || q.Scope == ScopeAll {
		m, err := s.db.SearchDocuments(ctx, q.Text, pool)
		if err != nil {
			return nil, fmt.Errorf("search documents: %w", err)
		}
		matches = append(matches, m...)
	}

	needle := strings.ToLower(q.Text)
	out := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		lower := strings.ToLower(m.Text)
		out = append(out, SearchResult{
			DocumentID: m.DocumentID,
			Level:      m.Level,
			PageNumber: m.PageNumber,
			ChunkIndex: chunkIndex(m.Level, m.ChunkIndex),
			Score:      float64(strings.Count(lower, needle)),
			Snippet:    snippet(m.Text, lower, needle),
		})
	}
	return out, nil
}

func (s *SearchService) semantic(ctx context.Context, q Query) ([]SearchResult, error) {
	if s.embedder == nil || s.vectors == nil {
		return nil, fmt.Errorf("semantic search is not configured: %w", core.ErrInvalidInput)
	}
	vec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	var filter models.VectorFilter
	switch q.Scope {
	case ScopePage:
		filter.Levels = []models.VectorLevel{models.LevelPage}
	case ScopeChunk:
		filter.Levels = []models.VectorLevel{models.LevelChunk}
	case ScopeDocument:
		filter.Levels = []models.VectorLevel{models.LevelDocument}
	}

	hits, err := s.vectors.Query(ctx, vec, filter, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, SearchResult{
			DocumentID: h.DocumentID,
			Level:      h.Level,
			PageNumber: h.PageNumber,
			ChunkIndex: chunkIndex(h.Level, h.ChunkIndex),
			Score:      float64(h.Score),
		})
	}
	s.attachSnippets(ctx, out)
	return out, nil
}

// attachSnippets loads page and chunk text for semantic hits. A failed lookup
// only costs the snippet.
func (s *SearchService) attachSnippets(ctx context.Context, results []SearchResult) {
	pages := map[string]map[int]string{}
	chunks := map[string]map[int]string{}

	for i := range results {
		r := &results[i]
		switch r.Level {
		case models.LevelPage:
			byPage, ok := pages[r.DocumentID]
			if !ok {
				byPage = map[int]string{}
				pts, err := s.db.GetPageTexts(ctx, r.DocumentID)
				if err != nil {
					s.log.Debug("SearchService: page lookup failed", zap.String("document_id", r.DocumentID), zap.Error(err))
				}
				for _, p := range pts {
					byPage[p.PageNumber] = p.Text
				}
				pages[r.DocumentID] = byPage
			}
			r.Snippet = truncateRunes(byPage[r.PageNumber], snippetRunes)
		case models.LevelChunk:
			byIndex, ok := chunks[r.DocumentID]
			if !ok {
				byIndex = map[int]string{}
				cs, err := s.db.GetChunksByDocument(ctx, r.DocumentID)
				if err != nil {
					s.log.Debug("SearchService: chunk lookup failed", zap.String("document_id", r.DocumentID), zap.Error(err))
				}
				for _, c := range cs {
					byIndex[c.ChunkIndex] = c.Text
				}
				chunks[r.DocumentID] = byIndex
			}
			if r.ChunkIndex != nil {
				r.Snippet = truncateRunes(byIndex[*r.ChunkIndex], snippetRunes)
			}
		}
	}
}

// rank orders by score descending, then document id, page and chunk index.
func rank(rs []SearchResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		if a.PageNumber != b.PageNumber {
			return a.PageNumber < b.PageNumber
		}
		return derefIndex(a.ChunkIndex) < derefIndex(b.ChunkIndex)
	})
}

func chunkIndex(level models.VectorLevel, i int) *int {
	if level != models.LevelChunk {
		return nil
	}
	return &i
}

func derefIndex(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

// snippet returns a window of text around the first occurrence of needle.
func snippet(text, lower, needle string) string {
	at := strings.Index(lower, needle)
	// lowering can change byte lengths, so only trust the offset when it does not
	if at < 0 || len(lower) != len(text) {
		return truncateRunes(text, snippetRunes)
	}
	start := max(0, at-snippetRunes/4)
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	return truncateRunes(text[start:], snippetRunes)
}

func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
