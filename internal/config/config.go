package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath      = "./configs/config.yaml"
	APIKeyEnv        = "OPENAI_API_KEY"
	defaultChunkSize = 300
	defaultTopK      = 5
)

type Config struct {
	LogLevel     string         `yaml:"log_level"`
	Chunking     ChunkingConfig `yaml:"chunking"`
	Index        IndexConfig    `yaml:"index"`
	Query        QueryConfig    `yaml:"query"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	Chromem      ChromemConfig  `yaml:"chromem"`
	Database     DatabaseConfig `yaml:"database"`
	Server       ServerConfig   `yaml:"server"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// IndexConfig selects the embedding provider and vector store backend.
type IndexConfig struct {
	Embedding    string `yaml:"embedding"`
	VectorStore  string `yaml:"vector_store"`
	CacheEntries int    `yaml:"cache_entries"`
}

type QueryConfig struct {
	TopK        int     `yaml:"top_k"`
	Temperature float64 `yaml:"temperature"`
}

// LLMConfig describes one model endpoint. Provider (openai, ollama or debug)
// is read for the inference model only; the embedding provider is
// index.embedding. Key is normally left empty and supplied per session.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Key       string `yaml:"key"`
	BatchSize int    `yaml:"batch_size"`
}

type ChromemConfig struct {
	Path          string `yaml:"path"`
	Persistent    bool   `yaml:"persistent"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
	Export        bool   `yaml:"export"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Driver   string `yaml:"driver"` // pgdriver or pq
	Debug    bool   `yaml:"debug"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
}

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
// Values from a .env file and the environment are applied on top.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the deployment defaults: chunks of 300 characters without
// overlap, OpenAI embeddings in an in-memory chromem collection, temperature 0.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Chunking: ChunkingConfig{Size: defaultChunkSize, Overlap: 0},
		Index: IndexConfig{
			Embedding:    "openai",
			VectorStore:  "chromem",
			CacheEntries: 16,
		},
		Query: QueryConfig{TopK: defaultTopK, Temperature: 0},
		EmbedLLM: LLMConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			BatchSize: 64,
		},
		InferenceLLM: LLMConfig{
			Provider: "openai",
			BaseURL:  "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
		},
		Chromem: ChromemConfig{Path: "./chromemdb"},
		Database: DatabaseConfig{
			Driver: "pgdriver",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 20 << 20,
			SessionTTL:     time.Hour,
		},
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Query.TopK == 0 {
		c.Query.TopK = d.Query.TopK
	}
	if c.Index.Embedding == "" {
		c.Index.Embedding = d.Index.Embedding
	}
	if c.Index.VectorStore == "" {
		c.Index.VectorStore = d.Index.VectorStore
	}
	if c.Index.CacheEntries <= 0 {
		c.Index.CacheEntries = d.Index.CacheEntries
	}
	if c.InferenceLLM.Provider == "" {
		c.InferenceLLM.Provider = d.InferenceLLM.Provider
	}
	if c.EmbedLLM.BatchSize <= 0 {
		c.EmbedLLM.BatchSize = d.EmbedLLM.BatchSize
	}
	if c.Chromem.Path == "" {
		c.Chromem.Path = d.Chromem.Path
	}
	if c.Database.Driver == "" {
		c.Database.Driver = d.Database.Driver
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = d.Server.MaxUploadBytes
	}
	if c.Server.SessionTTL <= 0 {
		c.Server.SessionTTL = d.Server.SessionTTL
	}
}

func (c *Config) applyEnv() {
	if key := os.Getenv(APIKeyEnv); key != "" {
		if c.EmbedLLM.Key == "" {
			c.EmbedLLM.Key = key
		}
		if c.InferenceLLM.Key == "" {
			c.InferenceLLM.Key = key
		}
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" && c.Database.DSN == "" {
		c.Database.DSN = dsn
	}
}

// Validate checks the values that do not depend on a provider. Provider and
// backend names are resolved by the packages that own them.
func (c *Config) Validate() error {
	var problems []string
	if c.Chunking.Size <= 0 {
		problems = append(problems, "chunking.size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		problems = append(problems, "chunking.overlap must be in [0, size)")
	}
	if c.Query.TopK < 0 {
		problems = append(problems, "query.top_k must not be negative")
	}
	if c.Query.Temperature < 0 || c.Query.Temperature > 2 {
		problems = append(problems, "query.temperature must be in [0, 2]")
	}
	switch c.Database.Driver {
	case "pgdriver", "pq":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not one of pgdriver, pq", c.Database.Driver))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
