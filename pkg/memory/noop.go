package memory

import (
	"context"

	"github.com/rs/zerolog"
)

// NoopStore is the backend used when no memory storage is configured.
// Writes are dropped and every query misses.
type NoopStore struct {
	logger zerolog.Logger
}

// NewNoopStore creates a no-op backend
func NewNoopStore(logger zerolog.Logger) *NoopStore {
	return &NoopStore{logger: logger}
}

func (n *NoopStore) Name() string { return "none" }

func (n *NoopStore) Init(ctx context.Context) error { return nil }

func (n *NoopStore) Encode(ctx context.Context, content string, typ Type, opts EncodeOptions) error {
	n.logger.Info().Str("memory_type", string(typ)).Str("content", preview(content, 80)).Msg("[MOCK] Would store memory")
	return nil
}

func (n *NoopStore) Query(ctx context.Context, text string, depth int) (*QueryResult, error) {
	n.logger.Info().Str("query", preview(text, 50)).Msg("[MOCK] Would query memory")
	return nil, nil
}

func (n *NoopStore) Stats(ctx context.Context) (Stats, error) {
	return Stats{Backend: n.Name(), ByType: map[Type]int{}}, nil
}

func (n *NoopStore) PruneExpired(ctx context.Context) (int, error) { return 0, nil }

func (n *NoopStore) Close() error { return nil }

// preview cuts s to at most n runes for log output
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
