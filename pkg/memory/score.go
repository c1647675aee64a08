package memory

import (
	"regexp"
	"sort"
	"strings"
)

const (
	// DefaultDepth is the number of top records merged into a query result
	DefaultDepth = 2

	// candidateLimit bounds how many records a backend scores per query
	candidateLimit = 500
)

var termPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"did": {}, "do": {}, "does": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "our": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {},
	"we": {}, "were": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"why": {}, "with": {}, "you": {},
}

// queryTerms lowercases text and returns its distinct non-stopword terms in order
func queryTerms(text string) []string {
	words := termPattern.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

// coverage returns the fraction of terms found in content, in [0,1]
func coverage(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// rank scores candidates against text and merges the best depth records
// into a result. Ties are broken by recency. It returns nil when nothing
// matches.
func rank(text string, candidates []Record, depth int) *QueryResult {
	terms := queryTerms(text)
	if len(terms) == 0 {
		return nil
	}
	if depth <= 0 {
		depth = DefaultDepth
	}

	matches := make([]Match, 0, len(candidates))
	for _, r := range candidates {
		if s := coverage(terms, r.Content); s > 0 {
			matches = append(matches, Match{Record: r, Score: s})
		}
	}
	if len(matches) == 0 {
		return nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Record.CreatedAt.After(matches[j].Record.CreatedAt)
	})

	if len(matches) > depth {
		matches = matches[:depth]
	}

	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, m.Record.Content)
	}

	return &QueryResult{
		Context:    strings.Join(parts, "\n"),
		Confidence: matches[0].Score,
		Matches:    matches,
	}
}
