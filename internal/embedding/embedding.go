package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"knowledge-qa/internal/config"
	"knowledge-qa/internal/models"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Factory builds an embedder for one provider. apiKey may be empty for
// providers that do not need one.
type Factory func(cfg config.LLMConfig, apiKey string) (embeddings.Embedder, error)

// Registry resolves providers to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Provider]Factory
}

// DefaultRegistry knows every built-in provider.
func DefaultRegistry() *Registry {
	r := &Registry{factories: make(map[Provider]Factory)}
	r.Register(OpenAI, NewOpenAIEmbedder)
	r.Register(Ollama, NewOllamaEmbedder)
	r.Register(Debug, func(cfg config.LLMConfig, _ string) (embeddings.Embedder, error) {
		return NewDebugEmbedder(0), nil
	})
	return r
}

// Register installs or replaces the factory of a provider.
func (r *Registry) Register(p Provider, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
}

// New builds an embedder. A key-requiring provider without a key fails with
// models.ErrMissingAPIKey before anything is constructed.
func (r *Registry) New(p Provider, cfg config.LLMConfig, apiKey string) (embeddings.Embedder, error) {
	r.mu.RLock()
	f, ok := r.factories[p]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no factory for %q", models.ErrEmbeddingProvider, p)
	}
	if p.RequiresAPIKey() && strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: %s embeddings need an API key", models.ErrMissingAPIKey, p)
	}
	e, err := f(cfg, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingProvider, err)
	}
	return e, nil
}

// NewOpenAIEmbedder creates an embedder backed by an OpenAI compatible API.
func NewOpenAIEmbedder(cfg config.LLMConfig, apiKey string) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating openai embedder")

	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(apiKey, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm, batchSize(cfg))
}

// NewOllamaEmbedder creates an embedder served by a local ollama instance.
func NewOllamaEmbedder(cfg config.LLMConfig, _ string) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating ollama embedder")

	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm, batchSize(cfg))
}

func batchSize(cfg config.LLMConfig) embeddings.Option {
	n := cfg.BatchSize
	if n <= 0 {
		n = 64
	}
	return embeddings.WithBatchSize(n)
}

// GenerateEmbeddings embeds every chunk, in order. Provider failures are
// wrapped in models.ErrEmbeddingProvider and never retried here.
func GenerateEmbeddings(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks to embed")
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingProvider, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks", models.ErrEmbeddingProvider, len(vectors), len(chunks))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty vector for chunk %s", models.ErrEmbeddingProvider, chunks[i].ID)
		}
	}
	return vectors, nil
}

// EmbedQuery embeds a question with the same embedder used for the index.
func EmbedQuery(ctx context.Context, embedder embeddings.Embedder, query string) ([]float32, error) {
	v, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingProvider, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", models.ErrEmbeddingProvider)
	}
	return v, nil
}
