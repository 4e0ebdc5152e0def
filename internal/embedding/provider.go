package embedding

import (
	"fmt"
	"strings"
)

// Provider identifies an embedding backend.
type Provider string

const (
	OpenAI Provider = "openai"
	Ollama Provider = "ollama"
	Debug  Provider = "debug"
)

var providers = []Provider{OpenAI, Ollama, Debug}

func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range providers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown embedding provider %q", name)
}

// RequiresAPIKey reports whether calls to the provider are paid and need a key.
func (p Provider) RequiresAPIKey() bool {
	return p == OpenAI
}

// MaxInputRunes is the longest text accepted in one input, or 0 for no limit.
// It is kept below the provider's token limit.
func (p Provider) MaxInputRunes() int {
	switch p {
	case OpenAI:
		return 8000
	case Ollama:
		return 2000
	default:
		return 0
	}
}

func (p Provider) String() string { return string(p) }
