package cachepolicy

import (
	"sort"
	"time"
)

// DefaultConfidence is used for tools without their own threshold
const DefaultConfidence = 0.80

// Table holds the raw policy values. A Policy copies a Table on
// construction, so later edits to the Table do not leak into it.
type Table struct {
	TTLHours          map[string]int     `json:"ttl_hours"`
	Deny              []string           `json:"deny"`
	Confidence        map[string]float64 `json:"confidence"`
	DefaultConfidence float64            `json:"default_confidence"` // zero selects DefaultConfidence
}

// DefaultTable returns the built-in tool policy
func DefaultTable() Table {
	return Table{
		TTLHours: map[string]int{
			// File system changes frequently
			"read_file":        1,
			"list_directory":   1,
			"get_file_content": 1,

			// Git
			"git_status": 0,
			"git_log":    2,
			"git_diff":   0,

			// Web / API
			"search_web": 4,
			"fetch_url":  2,
			"call_api":   1,

			// Database results may be sensitive
			"query_db": 0,

			// Package info is stable
			"check_package":    24,
			"get_dependencies": 12,

			// Tests must be fresh
			"run_tests":  0,
			"check_lint": 1,
		},
		Deny: []string{
			"git_status",
			"git_diff",
			"run_tests",
			"query_db",
			"write_file",
			"execute_command",
		},
		Confidence: map[string]float64{
			"read_file":        0.90,
			"search_web":       0.75,
			"fetch_url":        0.80,
			"get_dependencies": 0.85,
		},
		DefaultConfidence: DefaultConfidence,
	}
}

// Policy answers cacheability questions for tools. It is immutable and
// safe for concurrent use.
type Policy struct {
	ttl               map[string]int
	deny              map[string]struct{}
	confidence        map[string]float64
	defaultConfidence float64
}

// New creates a policy from a table
func New(t Table) *Policy {
	p := &Policy{
		ttl:               make(map[string]int, len(t.TTLHours)),
		deny:              make(map[string]struct{}, len(t.Deny)),
		confidence:        make(map[string]float64, len(t.Confidence)),
		defaultConfidence: t.DefaultConfidence,
	}
	for tool, hours := range t.TTLHours {
		if hours < 0 {
			hours = 0
		}
		p.ttl[tool] = hours
	}
	for _, tool := range t.Deny {
		p.deny[tool] = struct{}{}
	}
	for tool, c := range t.Confidence {
		p.confidence[tool] = c
	}
	if p.defaultConfidence <= 0 {
		p.defaultConfidence = DefaultConfidence
	}
	return p
}

// Default returns a policy built from DefaultTable
func Default() *Policy {
	return New(DefaultTable())
}

// IsDenied reports whether a tool is in the deny-set
func (p *Policy) IsDenied(tool string) bool {
	_, ok := p.deny[tool]
	return ok
}

// IsCacheable reports whether results of tool may be cached.
// The deny-set always wins over the TTL table.
func (p *Policy) IsCacheable(tool string) bool {
	if p.IsDenied(tool) {
		return false
	}
	return p.ttl[tool] > 0
}

// CacheTTLHours returns the cache lifetime in hours. 0 means do not cache.
func (p *Policy) CacheTTLHours(tool string) int {
	if p.IsDenied(tool) {
		return 0
	}
	return p.ttl[tool]
}

// CacheTTL returns the cache lifetime as a duration
func (p *Policy) CacheTTL(tool string) time.Duration {
	return time.Duration(p.CacheTTLHours(tool)) * time.Hour
}

// ConfidenceThreshold returns the minimum match confidence required to
// use a cached result for tool.
func (p *Policy) ConfidenceThreshold(tool string) float64 {
	if c, ok := p.confidence[tool]; ok {
		return c
	}
	return p.defaultConfidence
}

// Table returns a copy of the policy's values
func (p *Policy) Table() Table {
	t := Table{
		TTLHours:          make(map[string]int, len(p.ttl)),
		Deny:              make([]string, 0, len(p.deny)),
		Confidence:        make(map[string]float64, len(p.confidence)),
		DefaultConfidence: p.defaultConfidence,
	}
	for tool, hours := range p.ttl {
		t.TTLHours[tool] = hours
	}
	for tool := range p.deny {
		t.Deny = append(t.Deny, tool)
	}
	sort.Strings(t.Deny)
	for tool, c := range p.confidence {
		t.Confidence[tool] = c
	}
	return t
}
