package llmservice

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"knowledge-qa/internal/models"
)

var contentRe = regexp.MustCompile(`(?s)Content: (.*?)\nSource: (\S+)`)

// DebugModel answers without a network call. It echoes every excerpt in the
// prompt and cites all of their sources.
type DebugModel struct{}

func NewDebugModel() *DebugModel { return &DebugModel{} }

func (m *DebugModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var prompt strings.Builder
	for _, msg := range messages {
		if msg.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
			}
		}
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: echo(prompt.String()), StopReason: "stop"}},
	}, nil
}

func (m *DebugModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func echo(prompt string) string {
	var texts, labels []string
	for _, match := range contentRe.FindAllStringSubmatch(prompt, -1) {
		texts = append(texts, strings.TrimSpace(match[1]))
		labels = append(labels, match[2])
	}
	if len(texts) == 0 {
		return fmt.Sprintf("There is not enough information in the document.\n%s ", models.SourcesMarker)
	}
	return fmt.Sprintf("%s\n%s %s", strings.Join(texts, "\n\n"), models.SourcesMarker, strings.Join(labels, ", "))
}
