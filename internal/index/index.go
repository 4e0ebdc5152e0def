package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"knowledge-qa/internal/config"
	"knowledge-qa/internal/embedding"
	"knowledge-qa/internal/models"
	"knowledge-qa/internal/vectorstore"
)

// Options select how chunks are embedded and where the vectors live.
type Options struct {
	Provider embedding.Provider
	Backend  vectorstore.Backend
	// Embed configures the embedding endpoint. Its Key is never read; keys
	// are passed per call.
	Embed config.LLMConfig
}

// OptionsFromConfig resolves the index section of cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	p, err := embedding.ParseProvider(cfg.Index.Embedding)
	if err != nil {
		return Options{}, err
	}
	b, err := vectorstore.ParseBackend(cfg.Index.VectorStore)
	if err != nil {
		return Options{}, err
	}
	return Options{Provider: p, Backend: b, Embed: cfg.EmbedLLM}, nil
}

func (o Options) fingerprint() string {
	return fmt.Sprintf("%s|%s|%s|%s", o.Provider, o.Backend, o.Embed.BaseURL, o.Embed.Model)
}

// Builder turns chunks into folder indexes.
type Builder struct {
	embedders *embedding.Registry
	stores    *vectorstore.Registry
}

func NewBuilder(embedders *embedding.Registry, stores *vectorstore.Registry) *Builder {
	return &Builder{embedders: embedders, stores: stores}
}

// Build embeds every chunk and stores the vectors. The returned index holds
// one reference owned by the caller.
func (b *Builder) Build(ctx context.Context, chunks []models.Chunk, opts Options, apiKey string) (*FolderIndex, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to index", models.ErrIndexBuild)
	}
	embedder, err := b.embedders.New(opts.Provider, opts.Embed, apiKey)
	if err != nil {
		return nil, err
	}
	if limit := opts.Provider.MaxInputRunes(); limit > 0 {
		for _, c := range chunks {
			if n := utf8.RuneCountInString(c.Text); n > limit {
				return nil, fmt.Errorf("%w: chunk %s has %d characters, %s accepts %d",
					models.ErrInvalidChunkConfig, c.ID, n, opts.Provider, limit)
			}
		}
	}

	start := time.Now()
	vectors, err := embedding.GenerateEmbeddings(ctx, embedder, chunks)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: %d vectors for %d chunks", models.ErrIndexBuild, len(vectors), len(chunks))
	}

	id := contentID(chunks, opts)
	store, err := b.stores.New(ctx, opts.Backend, id)
	if err != nil {
		return nil, err
	}
	if err := store.Add(ctx, chunks, vectors); err != nil {
		store.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrIndexBuild, err)
	}

	log.Info().
		Str("index", short(id)).
		Str("provider", opts.Provider.String()).
		Str("backend", opts.Backend.String()).
		Int("chunks", len(chunks)).
		Dur("took", time.Since(start)).
		Msg("Built folder index")

	owned := make([]models.Chunk, len(chunks))
	copy(owned, chunks)
	return &FolderIndex{
		id:        id,
		chunks:    owned,
		store:     store,
		opts:      opts,
		embedders: b.embedders,
		refs:      1,
	}, nil
}

func contentID(chunks []models.Chunk, opts Options) string {
	h := sha256.New()
	h.Write([]byte(opts.fingerprint()))
	for _, c := range chunks {
		fmt.Fprintf(h, "\x00%s\x00%s", c.ID, c.Text)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Result is a retrieved chunk and its similarity to the query.
type Result struct {
	Chunk models.Chunk
	Score float32
}

// FolderIndex is the searchable, immutable form of one document.
// It is reference counted; the store is closed when the last holder releases it.
type FolderIndex struct {
	id        string
	chunks    []models.Chunk
	store     vectorstore.Store
	opts      Options
	embedders *embedding.Registry

	mu     sync.Mutex
	refs   int
	closed bool
}

func (f *FolderIndex) ID() string                   { return f.id }
func (f *FolderIndex) Len() int                     { return len(f.chunks) }
func (f *FolderIndex) Provider() embedding.Provider { return f.opts.Provider }
func (f *FolderIndex) Backend() vectorstore.Backend { return f.opts.Backend }

// Chunks returns a copy of the indexed chunks in document order.
func (f *FolderIndex) Chunks() []models.Chunk {
	out := make([]models.Chunk, len(f.chunks))
	copy(out, f.chunks)
	return out
}

// EmbedQuery embeds text with the provider the index was built with.
func (f *FolderIndex) EmbedQuery(ctx context.Context, text, apiKey string) ([]float32, error) {
	embedder, err := f.embedders.New(f.opts.Provider, f.opts.Embed, apiKey)
	if err != nil {
		return nil, err
	}
	return embedding.EmbedQuery(ctx, embedder, text)
}

// Search returns the k chunks most similar to vector, best first. k is
// clamped to the index size.
func (f *FolderIndex) Search(ctx context.Context, vector []float32, k int) ([]Result, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: index %s is closed", models.ErrNoIndex, short(f.id))
	}

	k = min(k, len(f.chunks))
	if k <= 0 {
		return nil, nil
	}
	hits, err := f.store.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.Position < 0 || h.Position >= len(f.chunks) {
			return nil, fmt.Errorf("search index: position %d out of range", h.Position)
		}
		results = append(results, Result{Chunk: f.chunks[h.Position], Score: h.Score})
	}
	return results, nil
}

func (f *FolderIndex) acquire() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.refs++
	return true
}

// Release drops one reference and closes the index when none remain.
func (f *FolderIndex) Release() error {
	f.mu.Lock()
	f.refs--
	if f.refs > 0 || f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	return f.store.Close()
}

// Close releases the store regardless of outstanding references.
func (f *FolderIndex) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	return f.store.Close()
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
