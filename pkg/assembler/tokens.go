package assembler

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator estimates how many tokens a text costs
type Estimator interface {
	Estimate(text string) int
}

// EstimateTokens approximates the token count of text (~4 chars per token, minimum 1)
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text) / CharsPerToken
	if n < 1 {
		return 1
	}
	return n
}

// HeuristicEstimator uses the character ratio
type HeuristicEstimator struct{}

// Estimate implements Estimator
func (HeuristicEstimator) Estimate(text string) int {
	return EstimateTokens(text)
}

// TiktokenEstimator counts tokens with a BPE encoding
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator returns an estimator for model, falling back to
// cl100k_base when the model is unknown.
func NewTiktokenEstimator(model string) (*TiktokenEstimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer: %w", err)
		}
	}
	return &TiktokenEstimator{enc: enc}, nil
}

// Estimate implements Estimator
func (e *TiktokenEstimator) Estimate(text string) int {
	n := len(e.enc.Encode(text, nil, nil))
	if n < 1 {
		return 1
	}
	return n
}

// NewEstimator selects an estimator by name ("heuristic" or "tiktoken")
func NewEstimator(kind, model string) (Estimator, error) {
	switch kind {
	case "", "heuristic":
		return HeuristicEstimator{}, nil
	case "tiktoken":
		return NewTiktokenEstimator(model)
	default:
		return nil, fmt.Errorf("unknown tokenizer: %s", kind)
	}
}
