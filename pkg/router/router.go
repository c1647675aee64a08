package router

import (
	"regexp"
)

// Source identifies where a query should be answered from
type Source string

const (
	SourceNeural      Source = "neural"
	SourceTraditional Source = "traditional"
	SourceBoth        Source = "both"
	SourceToolCall    Source = "tool_call" // not in memory, needs a live tool call
)

// DefaultConfidenceThreshold applies to rules that do not set their own threshold
const DefaultConfidenceThreshold = 0.7

// RoutingDecision is the label attached to a query
type RoutingDecision struct {
	Source              Source  `json:"source"`
	Reason              string  `json:"reason"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

type rule struct {
	patterns  []*regexp.Regexp
	source    Source
	reason    string
	threshold float64
}

// matches reports whether any of the rule's patterns occur in the query
func (r rule) matches(query string) bool {
	for _, p := range r.patterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

var (
	decisionPattern = regexp.MustCompile(`(?i)\b(why|reason|decided|chose|picked|selected|because)\b`)
	causalPattern   = regexp.MustCompile(`(?i)\b(caused|led to|resulted|consequence|impact|affect)\b`)
	realtimePattern = regexp.MustCompile(`(?i)\b(current|latest|now|today|file content|output of|result of)\b`)
	documentPattern = regexp.MustCompile(`(?i)\b(documentation|readme|spec|api reference|how to use)\b`)
)

// rules are evaluated in order; later rules are reachable only when
// earlier ones do not match.
var rules = []rule{
	{
		patterns:  []*regexp.Regexp{decisionPattern, causalPattern},
		source:    SourceNeural,
		reason:    "Causal/decision query → episodic memory traversal",
		threshold: 0.65,
	},
	{
		patterns:  []*regexp.Regexp{realtimePattern},
		source:    SourceToolCall,
		reason:    "Real-time query → check cache first, fallback to tool",
		threshold: 0.85,
	},
	{
		patterns:  []*regexp.Regexp{documentPattern},
		source:    SourceTraditional,
		reason:    "Document query → traditional retrieval",
		threshold: DefaultConfidenceThreshold,
	},
}

var fallback = RoutingDecision{
	Source:              SourceBoth,
	Reason:              "General query → try both sources",
	ConfidenceThreshold: 0.6,
}

// Router classifies natural-language queries into source decisions
type Router struct {
	rules    []rule
	fallback RoutingDecision
}

// New creates a router with the built-in rule set
func New() *Router {
	return &Router{
		rules:    rules,
		fallback: fallback,
	}
}

// Route labels a query. It never fails: no match yields the BOTH decision.
func (r *Router) Route(query string) RoutingDecision {
	for _, rl := range r.rules {
		if rl.matches(query) {
			return RoutingDecision{
				Source:              rl.source,
				Reason:              rl.reason,
				ConfidenceThreshold: rl.threshold,
			}
		}
	}
	return r.fallback
}

// Route classifies a query with the default router
func Route(query string) RoutingDecision {
	return defaultRouter.Route(query)
}

var defaultRouter = New()
