package main

import (
	"os"
	"path/filepath"
	"testing"
)

const debugConfig = `log_level: warn
chunking:
  size: 120
index:
  embedding: debug
  vector_store: memory
inference_llm:
  provider: debug
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_ExitCodes(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", debugConfig)
	invalid := writeFile(t, dir, "invalid.yaml", "chunking:\n  size: 10\n  overlap: 10\n")
	doc := writeFile(t, dir, "faq.txt", "Orders ship within two days.\n\nReturns are free for thirty days.")
	unsupported := writeFile(t, dir, "faq.csv", "a,b")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown flag", []string{"-nope"}, 2},
		{"no document", []string{"-config", cfg}, 2},
		{"invalid config", []string{"-config", invalid, "-file", doc}, 1},
		{"missing document", []string{"-config", cfg, "-file", filepath.Join(dir, "absent.txt")}, 1},
		{"unsupported document", []string{"-config", cfg, "-file", unsupported}, 1},
		{"index only", []string{"-config", cfg, "-file", doc}, 0},
		{"question", []string{"-config", cfg, "-file", doc, "-query", "How long do returns stay free?", "-show-doc"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := run(tt.args); got != tt.want {
				t.Errorf("run(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}
