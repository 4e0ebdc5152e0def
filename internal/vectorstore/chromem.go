package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"knowledge-qa/internal/chromemdb"
	"knowledge-qa/internal/config"
	"knowledge-qa/internal/models"
)

// ChromemStore keeps one folder index in its own chromem collection.
type ChromemStore struct {
	manager *chromemdb.VectorDBManager
	name    string
	export  bool
}

func NewChromemStore(cfg config.ChromemConfig, indexID string) (*ChromemStore, error) {
	m, err := chromemdb.NewVectorDBManager(cfg)
	if err != nil {
		return nil, err
	}
	name := collectionName(indexID)
	if _, err := m.GetOrCreateCollection(name); err != nil {
		return nil, err
	}
	return &ChromemStore{manager: m, name: name, export: cfg.Export}, nil
}

func collectionName(indexID string) string {
	if len(indexID) > 16 {
		indexID = indexID[:16]
	}
	return "index-" + indexID
}

// Add writes one document per chunk, keyed by position. A persisted
// collection of the same index is overwritten in place.
func (s *ChromemStore) Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}
	if n := s.manager.Count(); n > len(chunks) {
		log.Warn().Str("collection", s.name).Int("documents", n).Msg("Resetting stale collection")
		if err := s.manager.DeleteCollection(); err != nil {
			return err
		}
		if _, err := s.manager.GetOrCreateCollection(s.name); err != nil {
			return err
		}
	}
	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:      strconv.Itoa(i),
			Content: c.Text,
			Metadata: map[string]string{
				"position":        strconv.Itoa(i),
				"source_filename": c.FileName,
				"page_number":     strconv.Itoa(c.Page),
				"chunk_id":        strconv.Itoa(c.Index),
			},
			Embedding: vectors[i],
		}
	}
	if err := s.manager.CreateDocs(ctx, docs); err != nil {
		return err
	}

	if s.export {
		if err := s.manager.Export(ctx); err != nil {
			log.Warn().Err(err).Msg("Collection export failed")
		}
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	results, err := s.manager.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		pos, err := strconv.Atoi(r.Metadata["position"])
		if err != nil {
			return nil, fmt.Errorf("document %s has no position: %w", r.ID, err)
		}
		hits = append(hits, Hit{Position: pos, Score: r.Similarity})
	}
	return hits, nil
}

func (s *ChromemStore) Count() int {
	return s.manager.Count()
}

// Close drops the collection unless it is persisted on disk.
func (s *ChromemStore) Close() error {
	if s.manager.Persistent() {
		return nil
	}
	return s.manager.DeleteCollection()
}
