package rag

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"knowledge-qa/internal/config"
	"knowledge-qa/internal/index"
	"knowledge-qa/internal/llmservice"
	"knowledge-qa/internal/models"
)

const DefaultTopK = 5

var (
	labelRe = regexp.MustCompile(models.SourceLabelRegex)
	thinkRe = regexp.MustCompile(models.ThinkTag)
)

const systemPrompt = "You are a helpful assistant. Answer questions about a document using only the excerpts you are given."

// Options configure the completion model used for answers.
type Options struct {
	Provider llmservice.Provider
	LLM      config.LLMConfig
	TopK     int
}

func OptionsFromConfig(cfg *config.Config) (Options, error) {
	p, err := llmservice.ParseProvider(cfg.InferenceLLM.Provider)
	if err != nil {
		return Options{}, err
	}
	return Options{Provider: p, LLM: cfg.InferenceLLM, TopK: cfg.Query.TopK}, nil
}

// Request is one question against a folder index.
type Request struct {
	Query string
	// ReturnAll retrieves every chunk of the index and cites all of them.
	ReturnAll   bool
	TopK        int
	Temperature float64
}

type Engine struct {
	llms *llmservice.Registry
	opts Options
}

func NewEngine(registry *llmservice.Registry, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &Engine{llms: registry, opts: opts}
}

// Query answers req from the chunks of idx. It makes at most one embedding
// call and one completion call, and none for a blank query.
func (e *Engine) Query(ctx context.Context, idx *index.FolderIndex, req Request, apiKey string) (*models.QueryResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, models.ErrEmptyQuery
	}
	if idx == nil {
		return nil, models.ErrNoIndex
	}
	if strings.TrimSpace(apiKey) == "" && (idx.Provider().RequiresAPIKey() || e.opts.Provider.RequiresAPIKey()) {
		return nil, fmt.Errorf("%w: querying needs an API key", models.ErrMissingAPIKey)
	}

	start := time.Now()
	vector, err := idx.EmbedQuery(ctx, query, apiKey)
	if err != nil {
		return nil, err
	}

	k := req.TopK
	if k <= 0 {
		k = e.opts.TopK
	}
	if req.ReturnAll {
		k = idx.Len()
	}
	results, err := idx.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	llm, err := e.llms.New(e.opts.Provider, e.opts.LLM, apiKey)
	if err != nil {
		return nil, err
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, BuildPrompt(query, results)),
	}
	raw, err := llmservice.GenerateContent(ctx, llm, messages, req.Temperature)
	if err != nil {
		return nil, err
	}

	answer, cited := ParseAnswer(raw)
	sources := selectSources(results, cited, req.ReturnAll)

	log.Info().
		Int("retrieved", len(results)).
		Int("sources", len(sources)).
		Bool("return_all", req.ReturnAll).
		Dur("took", time.Since(start)).
		Msg("Answered query")

	return &models.QueryResult{Query: query, Answer: answer, Sources: sources}, nil
}

// BuildPrompt renders the retrieved chunks and the question into the
// grounding prompt.
func BuildPrompt(query string, results []index.Result) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf(models.ChunkPromptTemplate, r.Chunk.Text, r.Chunk.Source())
	}
	return fmt.Sprintf(models.StuffPromptTemplate, query, strings.Join(parts, models.ContextSeparator))
}

// ParseAnswer splits a completion into the answer text and the cited labels.
// The answer is everything before the last sources marker.
func ParseAnswer(raw string) (answer string, cited []string) {
	raw = thinkRe.ReplaceAllString(raw, "")
	i := strings.LastIndex(raw, models.SourcesMarker)
	if i < 0 {
		return strings.TrimSpace(raw), nil
	}
	return strings.TrimSpace(raw[:i]), labelRe.FindAllString(raw[i+len(models.SourcesMarker):], -1)
}

// selectSources keeps retrieval order. Without ReturnAll only the cited
// chunks are kept, possibly none.
func selectSources(results []index.Result, cited []string, returnAll bool) []models.Source {
	sources := make([]models.Source, 0, len(results))
	for _, r := range results {
		if !returnAll && !slices.Contains(cited, r.Chunk.Source()) {
			continue
		}
		sources = append(sources, toSource(r))
	}
	return sources
}

func toSource(r index.Result) models.Source {
	return models.Source{
		Text:  r.Chunk.Text,
		Label: r.Chunk.Source(),
		Page:  r.Chunk.Page,
		Score: r.Score,
	}
}
