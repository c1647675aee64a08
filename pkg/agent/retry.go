package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxRetries is the attempt budget of a retrying summarizer
const DefaultMaxRetries = 3

// RetryingSummarizer retries transient provider failures with exponential backoff
type RetryingSummarizer struct {
	next       Summarizer
	maxRetries int
	baseDelay  time.Duration
	logger     zerolog.Logger
}

// WithRetry wraps s so that retryable errors are attempted up to maxRetries times
func WithRetry(s Summarizer, maxRetries int, logger zerolog.Logger) *RetryingSummarizer {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RetryingSummarizer{
		next:       s,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		logger:     logger,
	}
}

// Summarize implements Summarizer
func (r *RetryingSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		summary, err := r.next.Summarize(ctx, prompt)
		if err == nil {
			return summary, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return "", err
		}
		if attempt == r.maxRetries-1 {
			break
		}

		// 1s, 2s, 4s
		delay := r.baseDelay * time.Duration(1<<attempt)
		r.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying summarizer after error")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	return "", fmt.Errorf("max retries (%d) exceeded: %w", r.maxRetries, lastErr)
}
