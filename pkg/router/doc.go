// Package router classifies natural-language queries into a memory source decision.
//
// Invariants:
// - Rule categories are checked in a fixed order and the first match wins.
// - Route never fails; an unmatched query is routed to both sources.
// - The router only labels queries. It never retrieves anything.
//
// Usage:
//
//	d := router.Route("Why did we choose SQLite?")
//	// d.Source == router.SourceNeural, d.ConfidenceThreshold == 0.65
package router
