package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ErrEmptyMessage is returned when a message has no role or no content
var ErrEmptyMessage = errors.New("message role and content are required")

// Message represents a single conversation turn
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks that the message carries a role and content
func (m Message) Validate() error {
	if strings.TrimSpace(m.Role) == "" || m.Content == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Store persists conversation windows by session key
type Store interface {
	// Load returns the stored messages in order. A missing session is empty.
	Load(ctx context.Context, sessionKey string) ([]Message, error)
	// Save replaces the stored window
	Save(ctx context.Context, sessionKey string, messages []Message) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, sessionKey string) error
}

// ValidateKey checks that a session key is non-empty and path-safe
func ValidateKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(sessionKey, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}
