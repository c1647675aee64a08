package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when no model is configured
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAISummarizer summarizes with the OpenAI chat completions API
type OpenAISummarizer struct {
	client    openai.Client
	model     string
	maxTokens int
}

// NewOpenAISummarizer creates a new OpenAI summarizer
func NewOpenAISummarizer(apiKey, model string, maxTokens int) *OpenAISummarizer {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultSummaryMaxTokens
	}
	return &OpenAISummarizer{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Summarize sends prompt as a single user message and returns the first choice
func (s *OpenAISummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxTokens: openai.Int(int64(s.maxTokens)),
	}

	response, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai summarize: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("openai summarize: no choices in response")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}
