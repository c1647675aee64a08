package compressor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harun/nocl/internal/observability"
	"github.com/harun/nocl/internal/tracing"
	"github.com/harun/nocl/pkg/memory"
	"github.com/harun/nocl/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultThreshold is the message count at which a session is compressed
	DefaultThreshold = 20
	// DefaultRecentWindow is how many trailing messages survive compression
	DefaultRecentWindow = 5
	// DefaultSummaryExpiry is the lifetime of a stored session summary
	DefaultSummaryExpiry = 48 * time.Hour
	// DefaultMaxMessageChars caps each message in the transcript sent for summarization
	DefaultMaxMessageChars = 300

	// SummaryTag prefixes stored session summaries
	SummaryTag = "[SESSION_SUMMARY]"
)

var (
	// ErrInvalidConfig is returned for inconsistent window settings
	ErrInvalidConfig = errors.New("invalid compressor config")
	// ErrEmptySummary is returned when the summarizer produces no text
	ErrEmptySummary = errors.New("summarizer returned an empty summary")
)

const promptTemplate = `Summarize the key decisions, findings and progress from this conversation segment. Cover what was decided, what was learned, what was completed and what is still pending. Keep it to 3-4 sentences.

Conversation: %s

Summary:`

// Summarizer turns a prompt into a summary
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Config holds compressor settings. Zero values take the defaults.
type Config struct {
	Threshold       int
	RecentWindow    int
	SummaryExpiry   time.Duration
	MaxMessageChars int
	Logger          zerolog.Logger
}

// Compressor folds old conversation turns into a stored summary
type Compressor struct {
	cfg        Config
	store      memory.Encoder
	summarizer Summarizer
	logger     zerolog.Logger
}

// New creates a compressor. RecentWindow must be positive and smaller than Threshold.
func New(cfg Config, store memory.Encoder, summarizer Summarizer) (*Compressor, error) {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.RecentWindow == 0 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	if cfg.SummaryExpiry <= 0 {
		cfg.SummaryExpiry = DefaultSummaryExpiry
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = DefaultMaxMessageChars
	}

	if cfg.RecentWindow < 0 || cfg.Threshold <= cfg.RecentWindow {
		return nil, fmt.Errorf("%w: recent window %d must be positive and below threshold %d",
			ErrInvalidConfig, cfg.RecentWindow, cfg.Threshold)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: memory store is required", ErrInvalidConfig)
	}
	if summarizer == nil {
		return nil, fmt.Errorf("%w: summarizer is required", ErrInvalidConfig)
	}

	return &Compressor{
		cfg:        cfg,
		store:      store,
		summarizer: summarizer,
		logger:     cfg.Logger,
	}, nil
}

// Threshold returns the configured compression threshold
func (c *Compressor) Threshold() int {
	return c.cfg.Threshold
}

// RecentWindow returns the number of messages kept after compression
func (c *Compressor) RecentWindow() int {
	return c.cfg.RecentWindow
}

// MaybeCompress returns messages unchanged while the conversation is below
// the threshold. Otherwise it summarizes everything but the recent window,
// stores the summary, and returns a copy of the recent window. Any failure
// is returned and the caller keeps its full conversation.
//
// Callers must not run MaybeCompress concurrently for the same conversation.
func (c *Compressor) MaybeCompress(ctx context.Context, messages []session.Message) ([]session.Message, error) {
	if len(messages) < c.cfg.Threshold {
		return messages, nil
	}

	ctx, span := tracing.StartSpan(
		ctx,
		tracing.TracerCompressor,
		"session.compress",
		attribute.Int("messages", len(messages)),
		attribute.Int("recent_window", c.cfg.RecentWindow),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	split := len(messages) - c.cfg.RecentWindow
	toCompress := messages[:split]

	logger.Info().
		Int("messages", len(messages)).
		Int("recent_window", c.cfg.RecentWindow).
		Msg("Compressing session")

	err := c.compress(ctx, toCompress)
	observability.RecordCompression(len(toCompress), err == nil)
	observability.RecordSessionAudit(ctx, "compress", tracing.GetSessionKey(ctx), err, map[string]interface{}{
		"compressed": len(toCompress),
		"kept":       c.cfg.RecentWindow,
	})
	if err != nil {
		tracing.FailSpan(span, err)
		logger.Error().Err(err).Msg("Session compression failed")
		return nil, err
	}

	recent := make([]session.Message, c.cfg.RecentWindow)
	copy(recent, messages[split:])

	logger.Info().
		Int("compressed", len(toCompress)).
		Int("kept", len(recent)).
		Msg("Session compressed into memory")

	return recent, nil
}

func (c *Compressor) compress(ctx context.Context, messages []session.Message) error {
	prompt := BuildPrompt(messages, c.cfg.MaxMessageChars)

	summary, err := c.summarizer.Summarize(ctx, prompt)
	if err != nil {
		return fmt.Errorf("failed to summarize session: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return ErrEmptySummary
	}

	metadata := map[string]string{
		"kind":     "session_summary",
		"messages": strconv.Itoa(len(messages)),
	}
	if key := tracing.GetSessionKey(ctx); key != "" {
		metadata["session_key"] = key
	}

	err = c.store.Encode(ctx, SummaryTag+" "+summary, memory.TypeContext, memory.EncodeOptions{
		Expires:  c.cfg.SummaryExpiry,
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to store session summary: %w", err)
	}
	return nil
}

// Transcript flattens messages into "ROLE: content" pieces joined by spaces,
// with each content cut to maxChars characters.
func Transcript(messages []session.Message, maxChars int) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		content := m.Content
		if maxChars > 0 {
			if r := []rune(content); len(r) > maxChars {
				content = string(r[:maxChars])
			}
		}
		parts = append(parts, strings.ToUpper(m.Role)+": "+content)
	}
	return strings.Join(parts, " ")
}

// BuildPrompt embeds the transcript of messages in the summary instruction
func BuildPrompt(messages []session.Message, maxChars int) string {
	return fmt.Sprintf(promptTemplate, Transcript(messages, maxChars))
}
