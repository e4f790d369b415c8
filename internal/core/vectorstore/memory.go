package vectorstore

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/models"
)

var _ core.VectorStore = (*MemoryStore)(nil)

// MemoryStore is a brute-force cosine index kept in process memory. It backs
// tests and single-node deployments without an external vector database.
type MemoryStore struct {
	mu      sync.RWMutex
	dim     int
	records map[string]models.VectorRecord
}

// NewMemoryStore creates an empty store. A dim of 0 skips dimension checks.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim, records: make(map[string]models.VectorRecord)}
}

func (m *MemoryStore) Upsert(_ context.Context, records []models.VectorRecord) error {
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("vector record without id")
		}
		if m.dim > 0 && len(r.Vector) != m.dim {
			return fmt.Errorf("%w: %s has %d dimensions, expected %d", ErrDimensionMismatch, r.ID, len(r.Vector), m.dim)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.Vector = slices.Clone(r.Vector)
		m.records[r.ID] = r
	}
	return nil
}

func (m *MemoryStore) DeleteByDocument(_ context.Context, documentID string, levels ...models.VectorLevel) error {
	levels = levelsOrAll(levels)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.DocumentID == documentID && slices.Contains(levels, r.Level) {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *MemoryStore) Query(_ context.Context, vector []float32, filter models.VectorFilter, k int) ([]models.VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}
	if m.dim > 0 && len(vector) != m.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", ErrDimensionMismatch, len(vector), m.dim)
	}

	m.mu.RLock()
	hits := make([]models.VectorHit, 0, len(m.records))
	for _, r := range m.records {
		if filter.DocumentID != "" && r.DocumentID != filter.DocumentID {
			continue
		}
		if len(filter.Levels) > 0 && !slices.Contains(filter.Levels, r.Level) {
			continue
		}
		hits = append(hits, models.VectorHit{
			ID:         r.ID,
			DocumentID: r.DocumentID,
			Level:      r.Level,
			PageNumber: r.PageNumber,
			ChunkIndex: r.ChunkIndex,
			Score:      cosine(vector, r.Vector),
		})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns how many records of a document exist at the given level.
func (m *MemoryStore) Count(documentID string, level models.VectorLevel) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if r.DocumentID == documentID && r.Level == level {
			n++
		}
	}
	return n
}

// Get returns a copy of the stored record.
func (m *MemoryStore) Get(id string) (models.VectorRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if ok {
		r.Vector = slices.Clone(r.Vector)
	}
	return r, ok
}

func (m *MemoryStore) Close() error { return nil }

// cosine returns 0 when either vector has zero norm.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
