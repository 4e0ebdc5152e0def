package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"knowledge-qa/internal/chunker"
	"knowledge-qa/internal/config"
	"knowledge-qa/internal/embedding"
	"knowledge-qa/internal/helper"
	"knowledge-qa/internal/index"
	"knowledge-qa/internal/llmservice"
	"knowledge-qa/internal/models"
	"knowledge-qa/internal/parser"
	"knowledge-qa/internal/rag"
	"knowledge-qa/internal/vectorstore"
)

// UploadSummary describes a document that was read and indexed.
type UploadSummary struct {
	FileID   string        `json:"file_id"`
	FileName string        `json:"file_name"`
	FileType string        `json:"file_type"`
	Pages    int           `json:"pages"`
	Chunks   int           `json:"chunks"`
	Cached   bool          `json:"cached"`
	Duration time.Duration `json:"duration_ns"`
}

// Service runs the read, chunk, index and query stages for sessions.
type Service struct {
	cfg       *config.Config
	chunking  chunker.Config
	indexOpts index.Options
	stores    *vectorstore.Registry
	cache     *index.Cache
	engine    *rag.Engine
}

type options struct {
	embedders *embedding.Registry
	llms      *llmservice.Registry
}

type Option func(*options)

// WithEmbedders replaces the embedding provider registry.
func WithEmbedders(r *embedding.Registry) Option {
	return func(o *options) { o.embedders = r }
}

// WithLLMs replaces the completion provider registry.
func WithLLMs(r *llmservice.Registry) Option {
	return func(o *options) { o.llms = r }
}

func NewService(cfg *config.Config, opts ...Option) (*Service, error) {
	o := options{
		embedders: embedding.DefaultRegistry(),
		llms:      llmservice.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	chunking := chunker.Config{Size: cfg.Chunking.Size, Overlap: cfg.Chunking.Overlap}
	if err := chunking.Validate(); err != nil {
		return nil, err
	}
	indexOpts, err := index.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	ragOpts, err := rag.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	stores := vectorstore.NewRegistry(cfg)
	return &Service{
		cfg:       cfg,
		chunking:  chunking,
		indexOpts: indexOpts,
		stores:    stores,
		cache:     index.NewCache(index.NewBuilder(o.embedders, stores), cfg.Index.CacheEntries),
		engine:    rag.NewEngine(o.llms, ragOpts),
	}, nil
}

// NewSession starts an empty session with a random id.
func (s *Service) NewSession() (*Session, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	return newSession(id), nil
}

// Upload replaces the session's document with the one read from r. The
// previous document and index are dropped first, so a failed upload leaves
// the session empty.
func (s *Service) Upload(ctx context.Context, sess *Session, name string, r io.Reader) (*UploadSummary, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return nil, models.ErrSessionClosed
	}
	sess.clearLocked()
	sess.touch()

	start := time.Now()
	ft, err := models.FileTypeFromName(name)
	if err != nil {
		return nil, err
	}
	file, err := parser.ReadFile(r, name, ft)
	if err != nil {
		return nil, err
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	chunks, err := chunker.Split(file, s.chunking)
	if err != nil {
		return nil, err
	}

	key := index.Key(file.ID, s.chunking, s.indexOpts)
	idx, cached, err := s.cache.Get(ctx, key, chunks, s.indexOpts, sess.apiKey)
	if err != nil {
		return nil, err
	}

	sess.file = file
	sess.chunks = chunks
	sess.index = idx

	summary := &UploadSummary{
		FileID:   file.ID,
		FileName: file.Name,
		FileType: string(file.Type),
		Pages:    len(file.Pages),
		Chunks:   len(chunks),
		Cached:   cached,
		Duration: time.Since(start),
	}
	log.Info().
		Str("session", sess.ID).
		Str("file", name).
		Int("chunks", summary.Chunks).
		Bool("cached", cached).
		Dur("took", summary.Duration).
		Msg("Document indexed")
	return summary, nil
}

// Ask answers query from the session's document. A blank query is rejected
// before the session is inspected.
func (s *Service) Ask(ctx context.Context, sess *Session, query string, returnAll bool) (*models.QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, models.ErrEmptyQuery
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return nil, models.ErrSessionClosed
	}
	sess.touch()
	if sess.index == nil {
		return nil, fmt.Errorf("%w: upload a document first", models.ErrNoIndex)
	}

	return s.engine.Query(ctx, sess.index, rag.Request{
		Query:       query,
		ReturnAll:   returnAll,
		TopK:        s.cfg.Query.TopK,
		Temperature: s.cfg.Query.Temperature,
	}, sess.apiKey)
}

// Close drops cached indexes and the database pool.
func (s *Service) Close() error {
	s.cache.Close()
	return s.stores.Close()
}
