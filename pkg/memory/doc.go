// Package memory stores project memories (decisions, context, insights,
// facts and cached tool results) and answers relevance queries over them.
//
// Invariants:
//   - Every record belongs to one project; queries never cross projects.
//   - Expired records are never returned, even before a prune sweep removes them.
//   - A query miss is a nil result with a nil error. Errors mean the backend failed.
//   - With no backend configured the Layer runs in mock mode: writes are
//     dropped and every lookup misses.
//
// Usage:
//
//	backend, _ := memory.Open(memory.OpenConfig{Project: "demo", DBPath: "/data/demo_memory.db"})
//	layer := memory.NewLayer(memory.LayerConfig{Project: "demo", Backend: backend})
//	defer layer.Close()
//	_ = layer.StoreDecision(ctx, "Use SQLite", "portable, zero setup")
//	res, _ := layer.Recall(ctx, "sqlite decision", memory.DefaultRecallConfidence, memory.DefaultDepth)
//	_ = res
package memory
