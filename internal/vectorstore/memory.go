package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"knowledge-qa/internal/models"
)

type memoryItem struct {
	position int
	vector   []float32
	norm     float64
}

// MemoryStore is a brute-force cosine similarity store.
type MemoryStore struct {
	mu    sync.RWMutex
	items []memoryItem
	dim   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, v := range vectors {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.dim == 0 {
			s.dim = len(v)
		}
		if len(v) != s.dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), s.dim)
		}
		s.items = append(s.items, memoryItem{
			position: len(s.items),
			vector:   v,
			norm:     norm(v),
		})
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.items) == 0 {
		return nil, nil
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("query has dimension %d, want %d", len(vector), s.dim)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qn := norm(vector)
	hits := make([]Hit, len(s.items))
	for i, it := range s.items {
		hits[i] = Hit{Position: it.position, Score: cosine(vector, it.vector, qn, it.norm)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	return nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, na, nb float64) float32 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (na * nb))
}
