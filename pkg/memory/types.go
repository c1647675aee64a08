package memory

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyContent is returned when a write carries no content
var ErrEmptyContent = errors.New("memory content is empty")

// Type classifies a memory record
type Type string

const (
	TypeDecision Type = "decision"
	TypeContext  Type = "context"
	TypeInsight  Type = "insight"
	TypeFact     Type = "fact"
)

// Valid reports whether t is a known memory type
func (t Type) Valid() bool {
	switch t {
	case TypeDecision, TypeContext, TypeInsight, TypeFact:
		return true
	}
	return false
}

// Record is one stored memory
type Record struct {
	ID        string            `json:"id"`
	Project   string            `json:"project"`
	Content   string            `json:"content"`
	Type      Type              `json:"memory_type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// Expired reports whether the record is past its expiry at now
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// EncodeOptions carries the optional parts of a write
type EncodeOptions struct {
	// Expires is the record lifetime. Zero means the record never expires.
	Expires  time.Duration
	Metadata map[string]string
}

// Match is a record with its relevance score in [0,1]
type Match struct {
	Record Record  `json:"record"`
	Score  float64 `json:"score"`
}

// QueryResult is the best-effort answer to a memory query. Confidence is
// the score of the best match.
type QueryResult struct {
	Context    string  `json:"context"`
	Confidence float64 `json:"confidence"`
	Matches    []Match `json:"matches,omitempty"`
}

// Stats summarizes a backend's contents for the current project
type Stats struct {
	Project   string       `json:"project"`
	ProjectID string       `json:"project_id,omitempty"`
	Backend   string       `json:"backend"`
	Total     int          `json:"total"`
	ByType    map[Type]int `json:"by_type"`
	Path      string       `json:"path,omitempty"`
}

// Encoder writes memories
type Encoder interface {
	Encode(ctx context.Context, content string, typ Type, opts EncodeOptions) error
}

// Querier retrieves memories. A miss is reported as a nil result and a nil error.
type Querier interface {
	Query(ctx context.Context, text string, depth int) (*QueryResult, error)
}

// Store is the memory capability consumed by the orchestration core
type Store interface {
	Encoder
	Querier
}

// Backend is a Store with lifecycle and maintenance operations
type Backend interface {
	Store

	// Name identifies the backend in logs and metrics
	Name() string
	// Init prepares storage for the project. It is idempotent.
	Init(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	// PruneExpired deletes expired records and returns how many were removed
	PruneExpired(ctx context.Context) (int, error)
	Close() error
}
