package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemIndex is an in-memory Index with brute-force cosine similarity,
// used by tests and local development.
type MemIndex struct {
	mu      sync.RWMutex
	dim     int
	records map[string]Record
}

// NewMemIndex creates an empty in-memory index.
func NewMemIndex(dim int) *MemIndex {
	return &MemIndex{dim: dim, records: make(map[string]Record)}
}

func (ix *MemIndex) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	vec := make([]float32, len(vector))
	copy(vec, vector)
	ix.records[id] = Record{ID: id, Values: vec, Metadata: metadata}
	return nil
}

func (ix *MemIndex) Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]Match, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	matches := make([]Match, 0, len(ix.records))
	for _, r := range ix.records {
		m := Match{ID: r.ID, Score: cosineSimilarity(vector, r.Values)}
		if includeMetadata {
			m.Metadata = r.Metadata
		}
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (ix *MemIndex) Fetch(ctx context.Context, ids []string) (map[string]Record, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	records := make(map[string]Record)
	for _, id := range ids {
		if r, ok := ix.records[id]; ok {
			records[id] = r
		}
	}
	return records, nil
}

func (ix *MemIndex) Delete(ctx context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.records, id)
	return nil
}

func (ix *MemIndex) Describe(ctx context.Context) (Stats, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{VectorCount: len(ix.records), Dimension: ix.dim}, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
