// Package agent is the caller that ties the memory components together.
//
// Invariants:
// - Tool calls consult the cache only for tools the cache policy allows.
// - A cached result is used only when its match clears the tool's confidence threshold.
// - Writes to one session are serialized; compression runs under that lock.
//
// Usage:
//
//	a, _ := agent.New(agent.Config{Memory: layer, Tools: executor, Compressor: comp})
//	out, _ := a.SmartToolCall(ctx, "read_file", map[string]interface{}{"path": "main.go"})
//	built, _ := a.BuildContext(ctx, "Why did we choose SQLite?")
//	_, _ = out, built
package agent
