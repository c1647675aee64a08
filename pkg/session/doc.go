// Package session persists conversation windows.
//
// Invariants:
// - Session keys are validated and path-safe.
// - Writes for the same session are serialized; a save replaces the whole window atomically.
// - Loading a session that was never saved yields an empty window, not an error.
//
// Usage:
//
//	store, _ := session.NewFileStore("/home/me/.nocl/sessions", logger)
//	msgs, _ := store.Load(ctx, "chat-1")
//	msgs = append(msgs, session.Message{Role: session.RoleUser, Content: "hello"})
//	_ = store.Save(ctx, "chat-1", msgs)
package session
