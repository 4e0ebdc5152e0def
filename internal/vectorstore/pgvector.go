package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"knowledge-qa/internal/db"
	"knowledge-qa/internal/models"
)

// rowRefs counts the open stores per index id. Stores of the same id share
// their rows, which are deleted with the last one.
type rowRefs struct {
	mu   sync.Mutex
	refs map[string]int
}

func newRowRefs() *rowRefs {
	return &rowRefs{refs: make(map[string]int)}
}

func (r *rowRefs) acquire(indexID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[indexID]++
}

// release reports whether indexID has no open stores left.
func (r *rowRefs) release(indexID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[indexID]--
	if r.refs[indexID] > 0 {
		return false
	}
	delete(r.refs, indexID)
	return true
}

// PGVectorStore keeps the rows of one folder index in the shared documents
// table.
type PGVectorStore struct {
	db      *bun.DB
	indexID string
	refs    *rowRefs
	count   atomic.Int64
	closed  atomic.Bool
}

func newPGVectorStore(bdb *bun.DB, indexID string, refs *rowRefs) *PGVectorStore {
	refs.acquire(indexID)
	return &PGVectorStore{db: bdb, indexID: indexID, refs: refs}
}

// Add upserts one row per chunk, keyed by index id and position.
func (s *PGVectorStore) Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}

	docs := make([]db.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = db.Document{
			ID:         fmt.Sprintf("%s/%d", s.indexID, i),
			IndexID:    s.indexID,
			Position:   i,
			Content:    c.Text,
			SourceFile: c.FileName,
			PageNumber: c.Page,
			ChunkID:    c.Index,
			Embedding:  pgvector.NewVector(vectors[i]),
		}
	}
	if err := db.StoreDocuments(ctx, s.db, docs); err != nil {
		return fmt.Errorf("store documents: %w", err)
	}
	// rows past the end were left by an older build of the same id
	if err := db.TrimIndex(ctx, s.db, s.indexID, len(docs)); err != nil {
		return fmt.Errorf("trim documents: %w", err)
	}
	s.count.Store(int64(len(docs)))
	return nil
}

func (s *PGVectorStore) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	matches, err := db.SearchDocuments(ctx, s.db, s.indexID, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	hits := make([]Hit, len(matches))
	for i, m := range matches {
		hits[i] = Hit{Position: m.Position, Score: float32(m.Score)}
	}
	return hits, nil
}

func (s *PGVectorStore) Count() int {
	return int(s.count.Load())
}

// Close deletes the index rows once no other store of the same id is open.
// The pool belongs to the registry.
func (s *PGVectorStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.count.Store(0)
	if !s.refs.release(s.indexID) {
		return nil
	}
	return db.DeleteIndex(context.Background(), s.db, s.indexID)
}
