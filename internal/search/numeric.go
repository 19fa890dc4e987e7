package search

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	ragerrors "github.com/gravis-app/ragcore/internal/errors"
)

// exactTolerance is the relative tolerance for Exact constraints.
const exactTolerance = 0.05

var (
	percentRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	ratioRe      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[x×X]`)
	comparatorRe = regexp.MustCompile(`[<>≤≥]`)
	symbolicRe   = regexp.MustCompile(`([<>≤≥])\s*(\d+(?:\.\d+)?)\s*([x×X%])`)
	betweenRe    = regexp.MustCompile(`(?i)(entre|between)\s+(\d+(?:\.\d+)?)[x×X%]?\s+(et|and)\s+(\d+(?:\.\d+)?)\s*([x×X%])`)

	// Fragments that announce a constraint but may not resolve to one.
	danglingSymbolRe  = regexp.MustCompile(`[<>≤≥]\s*\d`)
	danglingBetweenRe = regexp.MustCompile(`(?i)(entre|between)\s+\d`)
)

var numericTopicWords = []string{
	"compression", "précision", "accuracy", "precision", "performance",
	"taux", "ratio", "rate", "level", "niveau", "résultat", "result",
	"tokens", "quality", "qualité", "décodage", "decoding",
}

// Verbal comparators, matched on word boundaries. Every word that makes a
// query comparative also binds a constraint.
var (
	lessWords    = []string{"less", "fewer", "below", "under", "moins de", "inférieur", "inférieure"}
	greaterWords = []string{"greater", "more than", "above", "over", "plus de", "supérieur", "supérieure"}
	rangeWords   = []string{"between", "entre"}
)

// DetectKind classifies the numeric shape of a query.
func DetectKind(query string) QueryKind {
	hasNumeric := percentRe.MatchString(query) || ratioRe.MatchString(query)
	lower := strings.ToLower(query)
	hasComparator := comparatorRe.MatchString(query) ||
		containsWordMarker(lower, lessWords) ||
		containsWordMarker(lower, greaterWords) ||
		containsWordMarker(lower, rangeWords)

	hasTopic := false
	for _, w := range numericTopicWords {
		if strings.Contains(lower, w) {
			hasTopic = true
			break
		}
	}

	switch {
	case hasNumeric && (hasComparator || hasTopic):
		return KindDigitCombined
	case hasNumeric:
		return KindDigitAtomic
	case hasTopic && len(strings.Fields(query)) > 5:
		return KindTextCombined
	default:
		return KindTextAtomic
	}
}

// ExtractConstraints parses numeric constraints from query. Fragments that
// look like a constraint but cannot be resolved are returned as
// MalformedConstraint errors alongside whatever did parse.
func ExtractConstraints(query string) ([]NumericalConstraint, []error) {
	var (
		out       []NumericalConstraint
		malformed []error
	)
	lower := strings.ToLower(query)

	if m := symbolicRe.FindStringSubmatch(query); m != nil {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil {
			op := OpGreaterThan
			if m[1] == "<" || m[1] == "≤" {
				op = OpLessThan
			}
			out = append(out, NumericalConstraint{Op: op, Value: v, Unit: canonicalUnit(m[3])})
		} else {
			malformed = append(malformed, ragerrors.MalformedConstraint(m[0]))
		}
	} else if m := danglingSymbolRe.FindString(query); m != "" {
		malformed = append(malformed, ragerrors.MalformedConstraint(m))
	}

	verbal := ""
	var op ConstraintOp
	if w := firstWordMarker(lower, lessWords); w != "" {
		verbal, op = w, OpLessThan
	} else if w := firstWordMarker(lower, greaterWords); w != "" {
		verbal, op = w, OpGreaterThan
	}
	if verbal != "" {
		if v, unit, ok := firstValue(query); ok {
			out = append(out, NumericalConstraint{Op: op, Value: v, Unit: unit})
		} else {
			malformed = append(malformed, ragerrors.MalformedConstraint(verbal))
		}
	}

	if m := betweenRe.FindStringSubmatch(query); m != nil {
		lo, errLo := strconv.ParseFloat(m[2], 64)
		hi, errHi := strconv.ParseFloat(m[4], 64)
		switch {
		case errLo != nil || errHi != nil:
			malformed = append(malformed, ragerrors.MalformedConstraint(m[0]))
		default:
			if lo > hi {
				lo, hi = hi, lo
			}
			out = append(out, NumericalConstraint{Op: OpBetween, Min: lo, Max: hi, Unit: canonicalUnit(m[5])})
		}
	} else if m := danglingBetweenRe.FindString(query); m != "" {
		malformed = append(malformed, ragerrors.MalformedConstraint(m))
	}

	if len(out) == 0 {
		if v, unit, ok := firstValue(query); ok {
			out = append(out, NumericalConstraint{Op: OpExact, Value: v, Unit: unit})
		}
	}
	return out, malformed
}

// ExtractValues scans text for percentages and ratios.
func ExtractValues(text string) []ExtractedValue {
	var out []ExtractedValue
	scan := func(re *regexp.Regexp, unit string) {
		for _, idx := range re.FindAllStringSubmatchIndex(text, -1) {
			v, err := strconv.ParseFloat(text[idx[2]:idx[3]], 64)
			if err != nil {
				continue
			}
			out = append(out, ExtractedValue{
				Value:    v,
				Unit:     unit,
				Raw:      text[idx[0]:idx[1]],
				Position: idx[0],
			})
		}
	}
	scan(percentRe, "%")
	scan(ratioRe, "x")
	return out
}

// Satisfied reports whether v meets c. Units must agree; LessThan and
// GreaterThan are strict and Between is inclusive.
func (c NumericalConstraint) Satisfied(v ExtractedValue) bool {
	if v.Unit != c.Unit {
		return false
	}
	switch c.Op {
	case OpExact:
		denom := c.Value
		if denom < 1 {
			denom = 1
		}
		diff := v.Value - c.Value
		if diff < 0 {
			diff = -diff
		}
		return diff/denom < exactTolerance
	case OpLessThan:
		return v.Value < c.Value
	case OpGreaterThan:
		return v.Value > c.Value
	case OpBetween:
		return v.Value >= c.Min && v.Value <= c.Max
	}
	return false
}

func (c NumericalConstraint) String() string {
	switch c.Op {
	case OpBetween:
		return fmt.Sprintf("between %g%s and %g%s", c.Min, c.Unit, c.Max, c.Unit)
	case OpLessThan:
		return fmt.Sprintf("< %g%s", c.Value, c.Unit)
	case OpGreaterThan:
		return fmt.Sprintf("> %g%s", c.Value, c.Unit)
	default:
		return fmt.Sprintf("= %g%s", c.Value, c.Unit)
	}
}

// MatchesAny reports whether any value in text satisfies any constraint.
func MatchesAny(text string, constraints []NumericalConstraint) bool {
	if len(constraints) == 0 {
		return false
	}
	for _, v := range ExtractValues(text) {
		for _, c := range constraints {
			if c.Satisfied(v) {
				return true
			}
		}
	}
	return false
}

// RerankNumeric marks every item with whether it satisfies a constraint and
// sorts matches ahead of non-matches regardless of score. With no
// constraints the items are left untouched.
func RerankNumeric(items []*ScoredChunk, constraints []NumericalConstraint) {
	if len(constraints) == 0 {
		return
	}
	for _, it := range items {
		matched := MatchesAny(it.Chunk.Content, constraints)
		it.Matched = &matched
	}
	sortRanked(items)
}

// sortRanked applies the total order: matched first when evaluated, then
// score descending, then chunk ID ascending.
func sortRanked(items []*ScoredChunk) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		am, bm := a.Matched != nil && *a.Matched, b.Matched != nil && *b.Matched
		if am != bm {
			return am
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}

func firstValue(s string) (float64, string, bool) {
	if m := percentRe.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, "%", true
		}
	}
	if m := ratioRe.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, "x", true
		}
	}
	return 0, "", false
}

func canonicalUnit(u string) string {
	if u == "%" {
		return "%"
	}
	return "x"
}

func firstWordMarker(lower string, markers []string) string {
	for _, m := range markers {
		if containsWordMarker(lower, []string{m}) {
			return m
		}
	}
	return ""
}
