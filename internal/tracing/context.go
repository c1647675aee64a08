package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// ProjectKey is the context key for the memory project name
	ProjectKey ContextKey = "project"
	// SessionKeyKey is the context key for session key
	SessionKeyKey ContextKey = "session_key"
	// ToolKey is the context key for the tool being called
	ToolKey ContextKey = "tool"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID    string
	Project    string
	SessionKey string
	Tool       string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithProject adds a project name to the context
func WithProject(ctx context.Context, project string) context.Context {
	return context.WithValue(ctx, ProjectKey, project)
}

// WithSessionKey adds a session key to the context
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, SessionKeyKey, sessionKey)
}

// WithTool adds a tool name to the context
func WithTool(ctx context.Context, tool string) context.Context {
	return context.WithValue(ctx, ToolKey, tool)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetProject retrieves the project name from the context
func GetProject(ctx context.Context) string {
	return stringValue(ctx, ProjectKey)
}

// GetSessionKey retrieves the session key from the context
func GetSessionKey(ctx context.Context) string {
	return stringValue(ctx, SessionKeyKey)
}

// GetTool retrieves the tool name from the context
func GetTool(ctx context.Context) string {
	return stringValue(ctx, ToolKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:    GetTraceID(ctx),
		Project:    GetProject(ctx),
		SessionKey: GetSessionKey(ctx),
		Tool:       GetTool(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.Project != "" {
		ctx = WithProject(ctx, tc.Project)
	}
	if tc.SessionKey != "" {
		ctx = WithSessionKey(ctx, tc.SessionKey)
	}
	if tc.Tool != "" {
		ctx = WithTool(ctx, tc.Tool)
	}
	return ctx
}

// NewRequestContext creates a context for one CLI invocation or agent turn
func NewRequestContext(ctx context.Context, project string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	if project != "" {
		ctx = WithProject(ctx, project)
	}
	return ctx
}
