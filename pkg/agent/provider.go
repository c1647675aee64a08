package agent

import (
	"context"
	"fmt"
	"strings"
)

// Supported summarizer providers
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// DefaultSummaryMaxTokens bounds the length of a generated summary
const DefaultSummaryMaxTokens = 512

// Summarizer turns a prompt into a short summary. It satisfies
// compressor.Summarizer.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface
type SummarizerFunc func(ctx context.Context, prompt string) (string, error)

// Summarize calls f
func (f SummarizerFunc) Summarize(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// NewSummarizer creates a summarizer for the named provider
func NewSummarizer(provider, apiKey, model string, maxTokens int) (Summarizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("api key is required for provider %s", provider)
	}
	if maxTokens <= 0 {
		maxTokens = DefaultSummaryMaxTokens
	}

	switch provider {
	case ProviderAnthropic:
		return NewAnthropicSummarizer(apiKey, model, maxTokens), nil
	case ProviderOpenAI:
		return NewOpenAISummarizer(apiKey, model, maxTokens), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
