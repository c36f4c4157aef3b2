package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"tutor/types"
)

// MemoryIndex is a brute-force cosine EmbeddingIndex.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]indexEntry
	order     []string
}

type indexEntry struct {
	key    types.IndexKey
	vector []float32
}

// NewMemoryIndex accepts vectors of the given dimension; 0 accepts any and fixes
// the dimension from the first upsert.
func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{dimension: dimension, entries: make(map[string]indexEntry)}
}

func (m *MemoryIndex) Upsert(_ context.Context, key types.IndexKey, vector []float32) error {
	id, err := key.Encode()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension == 0 {
		m.dimension = len(vector)
	}
	if len(vector) != m.dimension {
		return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(vector), m.dimension)
	}
	if _, ok := m.entries[id]; !ok {
		m.order = append(m.order, id)
	}
	m.entries[id] = indexEntry{key: key, vector: append([]float32(nil), vector...)}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, filter types.IndexFilter, vector []float32, topK int) ([]types.IndexMatch, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []types.IndexMatch
	for _, id := range m.order {
		e := m.entries[id]
		if e.key.AssistantID != filter.AssistantID || e.key.Label != filter.Label {
			continue
		}
		if filter.Facet != "" && e.key.Facet != filter.Facet {
			continue
		}
		matches = append(matches, types.IndexMatch{Key: e.key, Score: cosine(e.vector, vector)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Len reports the number of stored entries.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
