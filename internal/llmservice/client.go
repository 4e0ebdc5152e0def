package llmservice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"knowledge-qa/internal/config"
	"knowledge-qa/internal/models"
)

// Provider identifies a completion model backend.
type Provider string

const (
	OpenAI Provider = "openai"
	Ollama Provider = "ollama"
	Debug  Provider = "debug"
)

func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	switch p {
	case OpenAI, Ollama, Debug:
		return p, nil
	}
	return "", fmt.Errorf("unknown llm provider %q", name)
}

func (p Provider) RequiresAPIKey() bool { return p == OpenAI }

func (p Provider) String() string { return string(p) }

// Factory builds a model client for one provider.
type Factory func(cfg config.LLMConfig, apiKey string) (llms.Model, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[Provider]Factory
}

func DefaultRegistry() *Registry {
	r := &Registry{factories: make(map[Provider]Factory)}
	r.Register(OpenAI, NewOpenAI)
	r.Register(Ollama, NewOllama)
	r.Register(Debug, func(config.LLMConfig, string) (llms.Model, error) {
		return NewDebugModel(), nil
	})
	return r
}

func (r *Registry) Register(p Provider, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
}

// New builds a model client. A missing key for a paid provider fails with
// models.ErrMissingAPIKey before anything is constructed.
func (r *Registry) New(p Provider, cfg config.LLMConfig, apiKey string) (llms.Model, error) {
	r.mu.RLock()
	f, ok := r.factories[p]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no llm provider %q", models.ErrGeneration, p)
	}
	if p.RequiresAPIKey() && strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: %s completions need an API key", models.ErrMissingAPIKey, p)
	}
	llm, err := f(cfg, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}
	return llm, nil
}

func NewOpenAI(cfg config.LLMConfig, apiKey string) (llms.Model, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating openai client")

	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(apiKey, "Bearer ")),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return openai.New(opts...)
}

func NewOllama(cfg config.LLMConfig, _ string) (llms.Model, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating ollama client")

	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	return ollama.New(opts...)
}

// GenerateContent sends the messages once and returns the first choice.
// Failures are wrapped in models.ErrGeneration.
func GenerateContent(ctx context.Context, llm llms.Model, messages []llms.MessageContent, temperature float64) (string, error) {
	resp, err := llm.GenerateContent(ctx, messages, llms.WithTemperature(temperature))
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model returned no choices", models.ErrGeneration)
	}
	log.Debug().Str("stop_reason", resp.Choices[0].StopReason).Msg("Generated content")
	return resp.Choices[0].Content, nil
}
