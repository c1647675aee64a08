package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicSummarizer summarizes with Anthropic Claude
type AnthropicSummarizer struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicSummarizer creates a new Anthropic summarizer
func NewAnthropicSummarizer(apiKey, model string, maxTokens int) *AnthropicSummarizer {
	if model == "" {
		model = DefaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultSummaryMaxTokens
	}
	return &AnthropicSummarizer{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Summarize sends prompt as a single user message and returns the text reply
func (s *AnthropicSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	response, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic summarize: %w", err)
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(b.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
