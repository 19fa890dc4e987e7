package search

import (
	"regexp"
	"strings"

	"github.com/gravis-app/ragcore/internal/lexical"
)

const (
	// intentTopTerms is how many high-IDF query words the classifier looks at.
	intentTopTerms = 3

	// highIDFThreshold marks a query word as specific to few chunks.
	highIDFThreshold = 2.5
)

var specificNumbersRe = regexp.MustCompile(`\b\d+x\b|v\d+|\d+%`)

var conceptualMarkers = []string{
	"comment", "pourquoi", "qu'est-ce", "quelle est", "quel est",
	"how", "why", "what is", "which",
	"expliquer", "décrire", "explain", "describe",
}

// IntentSignals are the features the intent decision was made from.
type IntentSignals struct {
	TopTerms           []lexical.TermIDF
	HasHighIDFTerms    bool
	HasSpecificNumbers bool
	HasQuotedPhrase    bool
	IsConceptual       bool
}

// ClassifyIntent decides the query intent against the corpus statistics in
// ix. The first matching rule wins: numeric literals or quotes, then
// high-IDF non-conceptual, then conceptual without high-IDF terms.
func ClassifyIntent(query string, ix *lexical.Index) (QueryIntent, IntentSignals) {
	var sig IntentSignals
	if ix != nil {
		sig.TopTerms = ix.TopTerms(ix.Analyze(query), intentTopTerms)
	}
	for _, t := range sig.TopTerms {
		if t.IDF > highIDFThreshold {
			sig.HasHighIDFTerms = true
			break
		}
	}

	lower := strings.ToLower(query)
	sig.HasSpecificNumbers = specificNumbersRe.MatchString(lower)
	sig.HasQuotedPhrase = strings.Count(query, `"`) >= 2
	sig.IsConceptual = containsWordMarker(lower, conceptualMarkers)

	switch {
	case sig.HasSpecificNumbers || sig.HasQuotedPhrase:
		return IntentExactPhrase, sig
	case sig.HasHighIDFTerms && !sig.IsConceptual:
		return IntentExactPhrase, sig
	case sig.IsConceptual && !sig.HasHighIDFTerms:
		return IntentConceptual, sig
	default:
		return IntentMixed, sig
	}
}

// SelectWeights returns the adaptive triple for intent, or fixed when
// adaptive weighting is disabled.
func SelectWeights(intent QueryIntent, adaptive bool, fixed IntentWeights) IntentWeights {
	if adaptive {
		return WeightsForIntent(intent)
	}
	return fixed
}

// containsWordMarker matches markers on word boundaries so "which" does not
// fire inside "sandwich".
func containsWordMarker(lower string, markers []string) bool {
	for _, m := range markers {
		from := 0
		for {
			i := strings.Index(lower[from:], m)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(m)
			if boundaryBefore(lower, start) && boundaryAfter(lower, end) {
				return true
			}
			from = start + 1
		}
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	return !isWordByte(s[i-1])
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return !isWordByte(s[i])
}

// isWordByte treats multi-byte runes as word characters, which keeps
// accented letters from acting as boundaries.
func isWordByte(b byte) bool {
	return b >= 0x80 || b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
