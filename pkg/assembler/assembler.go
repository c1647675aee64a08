package assembler

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// CharsPerToken is the approximate characters-per-token ratio for English text and code
	CharsPerToken = 4

	// MinUsefulTokens is the smallest leftover budget worth filling with a truncated block
	MinUsefulTokens = 50

	// DefaultMaxTokens is the budget used by an Assembler created with a non-positive limit
	DefaultMaxTokens = 1500

	truncatedMarker = "... [truncated]"
)

// Common block sources
const (
	SourceSystem      = "system"
	SourceNeural      = "neural"
	SourceTraditional = "traditional"
)

// ContextBlock is one candidate fragment of prompt context
type ContextBlock struct {
	Source        string `json:"source"`
	Content       string `json:"content"`
	Priority      int    `json:"priority"` // 1 = highest
	TokenEstimate int    `json:"token_estimate"`
}

// NewBlock creates a block whose token estimate is computed by est.
// A nil estimator uses the character heuristic.
func NewBlock(source, content string, priority int, est Estimator) ContextBlock {
	if est == nil {
		est = HeuristicEstimator{}
	}
	return ContextBlock{
		Source:        source,
		Content:       content,
		Priority:      priority,
		TokenEstimate: est.Estimate(content),
	}
}

func (b ContextBlock) label() string {
	return "[" + strings.ToUpper(b.Source) + "]"
}

// Assembler packs context blocks into a bounded prompt fragment
type Assembler struct {
	maxTokens int
	estimator Estimator
}

// New creates an assembler with the given token budget and estimator
func New(maxTokens int, est Estimator) *Assembler {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if est == nil {
		est = HeuristicEstimator{}
	}
	return &Assembler{
		maxTokens: maxTokens,
		estimator: est,
	}
}

// MaxTokens returns the assembler's budget
func (a *Assembler) MaxTokens() int {
	return a.maxTokens
}

// Block creates a block using the assembler's estimator
func (a *Assembler) Block(source, content string, priority int) ContextBlock {
	return NewBlock(source, content, priority, a.estimator)
}

// Assemble packs blocks into the assembler's budget
func (a *Assembler) Assemble(blocks []ContextBlock) string {
	return Assemble(blocks, a.maxTokens)
}

// Assemble sorts blocks by priority and packs them until maxTokens is
// reached. The block that overflows the budget is truncated into the
// remaining space when more than MinUsefulTokens are left; packing stops
// after it either way.
func Assemble(blocks []ContextBlock, maxTokens int) string {
	if len(blocks) == 0 {
		return ""
	}

	sorted := make([]ContextBlock, len(blocks))
	copy(sorted, blocks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	parts := make([]string, 0, len(sorted))
	total := 0

	for _, block := range sorted {
		if total+block.TokenEstimate > maxTokens {
			remaining := maxTokens - total
			if remaining > MinUsefulTokens {
				content := truncateRunes(block.Content, remaining*CharsPerToken)
				parts = append(parts, block.label()+" "+content+truncatedMarker)
			}
			break
		}

		parts = append(parts, block.label()+" "+block.Content)
		total += block.TokenEstimate
	}

	return strings.Join(parts, " ")
}

// truncateRunes cuts s to at most n characters without splitting a rune
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
