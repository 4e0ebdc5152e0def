package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Chunking.Size != 300 || cfg.Chunking.Overlap != 0 {
		t.Errorf("unexpected chunking defaults %+v", cfg.Chunking)
	}
	if cfg.Query.TopK != 5 || cfg.Query.Temperature != 0 {
		t.Errorf("unexpected query defaults %+v", cfg.Query)
	}
	if cfg.Index.Embedding != "openai" || cfg.Index.VectorStore != "chromem" {
		t.Errorf("unexpected index defaults %+v", cfg.Index)
	}
	if cfg.EmbedLLM.Key != "" {
		t.Errorf("no key expected")
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	t.Setenv(APIKeyEnv, "sk-env")
	t.Setenv("DATABASE_URL", "postgres://env/db")

	path := writeConfig(t, `
log_level: warn
chunking:
  size: 500
  overlap: 50
index:
  embedding: debug
  vector_store: memory
inference_llm:
  provider: debug
  key: sk-file
server:
  session_ttl: 30m
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Chunking.Size != 500 || cfg.Chunking.Overlap != 50 {
		t.Errorf("chunking not read: %+v", cfg.Chunking)
	}
	if cfg.Index.Embedding != "debug" || cfg.InferenceLLM.Provider != "debug" {
		t.Errorf("providers not read")
	}
	if cfg.Query.TopK != 5 {
		t.Errorf("top_k should keep its default, got %d", cfg.Query.TopK)
	}
	if cfg.EmbedLLM.Key != "sk-env" {
		t.Errorf("embed key should come from the environment, got %q", cfg.EmbedLLM.Key)
	}
	if cfg.InferenceLLM.Key != "sk-file" {
		t.Errorf("file key should win, got %q", cfg.InferenceLLM.Key)
	}
	if cfg.Database.DSN != "postgres://env/db" {
		t.Errorf("dsn not taken from DATABASE_URL: %q", cfg.Database.DSN)
	}
	if cfg.Server.SessionTTL != 30*time.Minute {
		t.Errorf("session ttl = %v", cfg.Server.SessionTTL)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []string{
		"chunking:\n  size: 100\n  overlap: 100\n",
		"chunking:\n  size: -1\n",
		"query:\n  temperature: 3\n",
		"database:\n  driver: mysql\n",
		"chunking: [not, a, map]\n",
	}
	for _, content := range tests {
		if _, err := LoadConfig(writeConfig(t, content)); err == nil {
			t.Errorf("expected error for %q", content)
		}
	}
}
