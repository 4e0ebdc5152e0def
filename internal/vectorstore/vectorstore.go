package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"knowledge-qa/internal/config"
	"knowledge-qa/internal/db"
	"knowledge-qa/internal/models"
)

// Backend identifies a vector store implementation.
type Backend string

const (
	Chromem  Backend = "chromem"
	Memory   Backend = "memory"
	PGVector Backend = "pgvector"
)

var backends = []Backend{Chromem, Memory, PGVector}

func ParseBackend(name string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range backends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown vector store %q", name)
}

func (b Backend) String() string { return string(b) }

// Hit is one search result. Position is the index of the chunk in the slice
// passed to Add.
type Hit struct {
	Position int
	Score    float32
}

// Store holds the vectors of one folder index.
type Store interface {
	Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error
	// Search returns at most k hits, best first.
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Count() int
	Close() error
}

// Factory opens an empty store for the index with the given id.
type Factory func(ctx context.Context, indexID string) (Store, error)

// Registry resolves backends to factories. It owns the database pool shared
// by pgvector stores.
type Registry struct {
	mu        sync.Mutex
	cfg       *config.Config
	factories map[Backend]Factory
	bunDB     *bun.DB
	rows      *rowRefs
}

func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{cfg: cfg, factories: make(map[Backend]Factory), rows: newRowRefs()}
	r.factories[Memory] = func(context.Context, string) (Store, error) {
		return NewMemoryStore(), nil
	}
	r.factories[Chromem] = func(_ context.Context, indexID string) (Store, error) {
		return NewChromemStore(cfg.Chromem, indexID)
	}
	r.factories[PGVector] = func(ctx context.Context, indexID string) (Store, error) {
		bdb, err := r.database(ctx)
		if err != nil {
			return nil, err
		}
		return newPGVectorStore(bdb, indexID, r.rows), nil
	}
	return r
}

// Register installs or replaces the factory of a backend.
func (r *Registry) Register(b Backend, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[b] = f
}

func (r *Registry) New(ctx context.Context, b Backend, indexID string) (Store, error) {
	r.mu.Lock()
	f, ok := r.factories[b]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no vector store %q", models.ErrIndexBuild, b)
	}
	s, err := f(ctx, indexID)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s store: %v", models.ErrIndexBuild, b, err)
	}
	return s, nil
}

func (r *Registry) database(ctx context.Context) (*bun.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bunDB != nil {
		return r.bunDB, nil
	}

	sqldb, err := db.ConnectDB(&r.cfg.Database)
	if err != nil {
		return nil, err
	}
	bdb := db.NewDB(sqldb, r.cfg.Database.Debug)
	if err := db.InitDB(ctx, bdb); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	log.Info().Str("driver", r.cfg.Database.Driver).Msg("Connected to vector database")
	r.bunDB = bdb
	return bdb, nil
}

// Close releases the shared database pool, if one was opened.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bunDB == nil {
		return nil
	}
	err := r.bunDB.Close()
	r.bunDB = nil
	return err
}

func checkBatch(chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%d vectors for %d chunks", len(vectors), len(chunks))
	}
	return nil
}
