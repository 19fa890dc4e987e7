// Package lexical implements the sparse side of retrieval: a tokenizer with
// bigrams and a technical-term whitelist, immutable corpus statistics, BM25
// scoring and the keyword boost signal.
package lexical

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// BigramSeparator joins adjacent tokens into a bigram.
const BigramSeparator = "_"

// Term is a whitelisted technical term.
type Term struct {
	// Text is the lowercased form matched against text.
	Text string
	// ProperName marks model or product names ("DeepEncoder", "SAM",
	// "GPT4"), which earn a larger keyword boost than generic phrases.
	ProperName bool
}

// Tokenizer turns text into BM25 tokens. It is immutable and safe for
// concurrent use.
type Tokenizer struct {
	terms    []Term
	variants bool
}

// NewTokenizer builds a tokenizer. Blank and duplicate whitelist entries are
// ignored. variants enables orthographic variant tokens.
func NewTokenizer(technicalTerms []string, variants bool) *Tokenizer {
	seen := make(map[string]bool, len(technicalTerms))
	terms := make([]Term, 0, len(technicalTerms))
	for _, raw := range technicalTerms {
		raw = strings.TrimSpace(raw)
		lower := strings.ToLower(raw)
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		terms = append(terms, Term{Text: lower, ProperName: isProperName(raw)})
	}
	// Longest first so reporting order is stable and specific terms lead.
	sort.SliceStable(terms, func(i, j int) bool {
		return len(terms[i].Text) > len(terms[j].Text)
	})
	return &Tokenizer{terms: terms, variants: variants}
}

// Terms returns the whitelist.
func (t *Tokenizer) Terms() []Term {
	return t.terms
}

// Tokenize returns whitelist terms (one token per occurrence), standard
// tokens, bigrams of adjacent standard tokens and, when enabled, variants.
func (t *Tokenizer) Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var tokens []string
	for _, term := range t.terms {
		for n := strings.Count(lower, term.Text); n > 0; n-- {
			tokens = append(tokens, term.Text)
		}
	}

	words := Words(lower)
	tokens = append(tokens, words...)
	for i := 0; i+1 < len(words); i++ {
		tokens = append(tokens, words[i]+BigramSeparator+words[i+1])
	}

	if t.variants {
		for _, w := range words {
			tokens = append(tokens, variantsOf(w)...)
		}
	}
	return tokens
}

// MatchedTerms returns the whitelist terms present in text.
func (t *Tokenizer) MatchedTerms(text string) []Term {
	lower := strings.ToLower(text)
	var out []Term
	for _, term := range t.terms {
		if strings.Contains(lower, term.Text) {
			out = append(out, term)
		}
	}
	return out
}

// Words case-folds text, splits on whitespace and keeps only letters,
// digits, underscores and decimal points of each piece. Empty pieces are
// dropped.
func Words(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	words := fields[:0]
	for _, f := range fields {
		if w := normalizeWord(f); w != "" {
			words = append(words, w)
		}
	}
	return words
}

func normalizeWord(s string) string {
	runes := []rune(s)
	clean := true
	for i := range runes {
		if !keepRune(runes, i) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		if keepRune(runes, i) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// keepRune keeps word runes and a '.' between two digits, so 95.1 and 9.51
// stay distinct tokens.
func keepRune(runes []rune, i int) bool {
	r := runes[i]
	if isWordRune(r) {
		return true
	}
	return r == '.' && i > 0 && i < len(runes)-1 &&
		unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1])
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// isProperName: single word with an inner capital, two capitals, or a digit.
func isProperName(raw string) bool {
	if strings.ContainsAny(raw, " \t") {
		return false
	}
	upper := 0
	for i, r := range raw {
		if unicode.IsDigit(r) {
			return true
		}
		if unicode.IsUpper(r) {
			upper++
			if i > 0 {
				return true
			}
		}
	}
	return upper >= 2
}

var foldAccents = strings.NewReplacer(
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"à", "a", "â", "a", "ä", "a",
	"î", "i", "ï", "i",
	"ô", "o", "ö", "o",
	"ù", "u", "û", "u", "ü", "u",
	"ç", "c",
)

// variantsOf yields an accent-folded form and a singular/plural toggle.
func variantsOf(w string) []string {
	if utf8.RuneCountInString(w) < 4 {
		return nil
	}

	var out []string
	if folded := foldAccents.Replace(w); folded != w {
		out = append(out, folded)
	}
	if strings.HasSuffix(w, "s") {
		out = append(out, strings.TrimSuffix(w, "s"))
	} else {
		out = append(out, w+"s")
	}
	return out
}
