package memory

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/nocl/internal/observability"
	"github.com/harun/nocl/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
)

const (
	// DefaultContextExpiry is the lifetime of context memories stored without one
	DefaultContextExpiry = 24 * time.Hour

	// DefaultRecallConfidence is the minimum confidence used by recall
	DefaultRecallConfidence = 0.5

	// MaxCachedResultChars bounds the tool output stored in a cache record
	MaxCachedResultChars = 500

	toolCacheTag  = "[TOOL_CACHE]"
	toolCacheSep  = " → "
	trimmedMarker = "... [trimmed]"
)

// LayerConfig configures a Layer
type LayerConfig struct {
	Project string
	// Backend is the storage. nil selects a NoopStore.
	Backend Backend
	Logger  zerolog.Logger
}

// Layer is the project-scoped memory API used by agents and the CLI.
// It satisfies Store, so it can be handed to components that only
// encode and query.
type Layer struct {
	backend   Backend
	project   string
	logger    zerolog.Logger
	available bool

	initMu      sync.Mutex
	initialized bool
}

// Status describes a layer and its backend
type Status struct {
	Stats
	Available bool `json:"available"`
}

// NewLayer creates a memory layer
func NewLayer(cfg LayerConfig) *Layer {
	backend := cfg.Backend
	available := true
	if backend == nil {
		backend = NewNoopStore(cfg.Logger)
	}
	if _, ok := backend.(*NoopStore); ok {
		available = false
	}

	return &Layer{
		backend:   backend,
		project:   cfg.Project,
		logger:    cfg.Logger,
		available: available,
	}
}

// Available reports whether a real backend is attached
func (l *Layer) Available() bool {
	return l.available
}

// Project returns the project name
func (l *Layer) Project() string {
	return l.project
}

// Backend returns the underlying backend
func (l *Layer) Backend() Backend {
	return l.backend
}

// Initialize prepares the backend once. Later calls are no-ops.
func (l *Layer) Initialize(ctx context.Context) error {
	l.initMu.Lock()
	defer l.initMu.Unlock()

	if l.initialized {
		return nil
	}
	if err := l.backend.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize memory: %w", err)
	}
	l.initialized = true

	l.logger.Info().
		Str("project", l.project).
		Str("backend", l.backend.Name()).
		Bool("available", l.available).
		Msg("Memory layer initialized")
	return nil
}

// Encode implements Encoder
func (l *Layer) Encode(ctx context.Context, content string, typ Type, opts EncodeOptions) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if err := l.Initialize(ctx); err != nil {
		return err
	}

	err := l.backend.Encode(ctx, content, typ, opts)
	if l.available {
		observability.RecordMemoryAudit(ctx, "encode:"+string(typ), l.project, err, map[string]interface{}{
			"chars":   len(content),
			"expires": opts.Expires.String(),
		})
	}
	return err
}

// Query implements Querier
func (l *Layer) Query(ctx context.Context, text string, depth int) (*QueryResult, error) {
	if err := l.Initialize(ctx); err != nil {
		return nil, err
	}
	return l.backend.Query(ctx, text, depth)
}

// StoreDecision stores an architectural or technical decision with its reason
func (l *Layer) StoreDecision(ctx context.Context, content, reason string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	full := "[DECISION] " + content
	if reason != "" {
		full += " | Context: " + reason
	}
	return l.Encode(ctx, full, TypeDecision, EncodeOptions{})
}

// StoreContext stores short-lived working context. A non-positive
// expiry uses DefaultContextExpiry.
func (l *Layer) StoreContext(ctx context.Context, content string, expires time.Duration) error {
	if expires <= 0 {
		expires = DefaultContextExpiry
	}
	return l.Encode(ctx, content, TypeContext, EncodeOptions{Expires: expires})
}

// StoreInsight stores a learned pattern or lesson
func (l *Layer) StoreInsight(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return l.Encode(ctx, "[INSIGHT] "+content, TypeInsight, EncodeOptions{})
}

// StoreFact stores a fact. A zero expiry keeps it forever.
func (l *Layer) StoreFact(ctx context.Context, content string, expires time.Duration) error {
	return l.Encode(ctx, content, TypeFact, EncodeOptions{Expires: expires})
}

// CanonicalArgs renders tool arguments as JSON with sorted keys
func CanonicalArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}

// CacheKey returns the short cache key for a tool call
func CacheKey(tool, args string) string {
	sum := blake3.Sum256([]byte(tool + ":" + args))
	return hex.EncodeToString(sum[:])[:12]
}

// CacheToolResult stores a tool result as a fact expiring after ttl
func (l *Layer) CacheToolResult(ctx context.Context, tool string, args map[string]interface{}, result string, ttl time.Duration) error {
	argStr := CanonicalArgs(args)

	trimmed := result
	if r := []rune(result); len(r) > MaxCachedResultChars {
		trimmed = string(r[:MaxCachedResultChars]) + trimmedMarker
	}

	content := toolCacheTag + " " + tool + "(" + argStr + ")" + toolCacheSep + trimmed
	return l.Encode(ctx, content, TypeFact, EncodeOptions{
		Expires: ttl,
		Metadata: map[string]string{
			"cache_key": CacheKey(tool, argStr),
			"tool":      tool,
		},
	})
}

// GetCachedToolResult looks up a cached result for the exact tool call.
// Calls of one tool with different arguments score alike, so every
// candidate is ranked and the first confident match carrying the call's
// cache key wins.
func (l *Layer) GetCachedToolResult(ctx context.Context, tool string, args map[string]interface{}, minConfidence float64) (string, bool, error) {
	argStr := CanonicalArgs(args)
	key := CacheKey(tool, argStr)

	result, err := l.Query(ctx, tool+" "+argStr, candidateLimit)
	if err != nil {
		return "", false, err
	}
	if result == nil || result.Confidence < minConfidence {
		return "", false, nil
	}

	for _, m := range result.Matches {
		if m.Score < minConfidence {
			break
		}
		content := m.Record.Content
		if !strings.Contains(content, toolCacheTag) || !strings.Contains(content, tool) {
			continue
		}
		if k, ok := m.Record.Metadata["cache_key"]; ok && k != key {
			continue
		}

		logger := tracing.LoggerFromContext(ctx, l.logger)
		logger.Debug().
			Str("tool", tool).
			Float64("confidence", m.Score).
			Msg("Tool cache hit")
		return cachedOutput(content), true, nil
	}

	return "", false, nil
}

// cachedOutput extracts the tool output from a cache record
func cachedOutput(content string) string {
	if i := strings.Index(content, toolCacheSep); i >= 0 {
		return content[i+len(toolCacheSep):]
	}
	return content
}

// Recall returns memories matching query when confidence reaches minConfidence
func (l *Layer) Recall(ctx context.Context, query string, minConfidence float64, depth int) (*QueryResult, error) {
	result, err := l.Query(ctx, query, depth)
	if err != nil {
		return nil, err
	}
	if result == nil || result.Confidence < minConfidence {
		return nil, nil
	}
	return result, nil
}

// TaskContext returns the memories most relevant to task, trimmed to
// roughly maxTokens and wrapped in [Memory Context] tags. It returns ""
// when nothing is relevant.
func (l *Layer) TaskContext(ctx context.Context, task string, maxTokens int) (string, error) {
	result, err := l.Query(ctx, task, DefaultDepth)
	if err != nil {
		return "", err
	}
	if result == nil || result.Context == "" {
		return "", nil
	}

	text := result.Context
	if maxChars := maxTokens * 4; maxChars > 0 {
		if r := []rune(text); len(r) > maxChars {
			text = string(r[:maxChars])
		}
	}
	return "[Memory Context] " + text + " [/Memory Context]", nil
}

// Prune removes expired records
func (l *Layer) Prune(ctx context.Context) (int, error) {
	if err := l.Initialize(ctx); err != nil {
		return 0, err
	}

	n, err := l.backend.PruneExpired(ctx)
	if l.available {
		observability.RecordMemoryAudit(ctx, "prune", l.project, err, map[string]interface{}{"removed": n})
	}
	if err != nil {
		return 0, err
	}

	observability.RecordMemoryPruned(n)
	if n > 0 {
		l.logger.Info().Int("removed", n).Msg("Pruned expired memories")
	}
	return n, nil
}

// Status reports the layer's backend statistics
func (l *Layer) Status(ctx context.Context) (Status, error) {
	if err := l.Initialize(ctx); err != nil {
		return Status{}, err
	}
	stats, err := l.backend.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	if stats.Project == "" {
		stats.Project = l.project
	}
	return Status{Stats: stats, Available: l.available}, nil
}

// Close closes the backend
func (l *Layer) Close() error {
	return l.backend.Close()
}
