package alias

import (
	"github.com/pmezard/go-difflib/difflib"
)

// DefaultCutoff is the minimum similarity ratio for a fuzzy match.
const DefaultCutoff = 0.78

// similarity is difflib's SequenceMatcher ratio over the runes of a and b.
func similarity(a, b string) float64 {
	return difflib.NewMatcher(runes(a), runes(b)).Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// closest returns the candidate most similar to word with a ratio at or
// above cutoff. Equal ratios resolve to the lexicographically greatest
// candidate so the outcome does not depend on candidate order.
func closest(word string, candidates []string, cutoff float64) (string, bool) {
	var (
		best      string
		bestScore float64
		found     bool
	)
	for _, c := range candidates {
		score := similarity(c, word)
		if score < cutoff {
			continue
		}
		if !found || score > bestScore || (score == bestScore && c > best) {
			best, bestScore, found = c, score, true
		}
	}
	return best, found
}
