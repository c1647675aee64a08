package agent

import (
	"context"
	"strings"

	"github.com/harun/nocl/pkg/assembler"
	"github.com/harun/nocl/pkg/router"
)

// ToolCaller executes a named tool with arguments
type ToolCaller interface {
	Call(ctx context.Context, tool string, args map[string]interface{}) (string, error)
}

// ToolCallerFunc adapts a function to the ToolCaller interface
type ToolCallerFunc func(ctx context.Context, tool string, args map[string]interface{}) (string, error)

// Call calls f
func (f ToolCallerFunc) Call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	return f(ctx, tool, args)
}

// Retriever answers document queries from a traditional index.
// An empty result means nothing relevant was found.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// RetrieverFunc adapts a function to the Retriever interface
type RetrieverFunc func(ctx context.Context, query string) (string, error)

// Retrieve calls f
func (f RetrieverFunc) Retrieve(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

// ToolOutcome is the result of a smart tool call
type ToolOutcome struct {
	Output   string `json:"output"`
	CacheHit bool   `json:"cache_hit"`
}

// ContextResult is an assembled prompt context with the decision that shaped it
type ContextResult struct {
	Decision router.RoutingDecision   `json:"decision"`
	Blocks   []assembler.ContextBlock `json:"blocks"`
	Text     string                   `json:"text"`
	Tokens   int                      `json:"tokens"`
}

// IsRetryableError checks if a provider error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	// Network errors
	if strings.Contains(msg, "econnreset") || strings.Contains(msg, "etimedout") || strings.Contains(msg, "connection reset") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504", "529"} {
		if strings.Contains(msg, code) {
			return true
		}
	}

	return false
}
