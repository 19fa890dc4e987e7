package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize_WordsAndBigrams(t *testing.T) {
	tok := NewTokenizer(nil, false)

	got := tok.Tokenize("Optical Compression, works!")

	assert.Equal(t, []string{
		"optical", "compression", "works",
		"optical_compression", "compression_works",
	}, got)
}

func TestTokenize_EmptyInput(t *testing.T) {
	tok := NewTokenizer([]string{"DeepEncoder"}, true)

	assert.Empty(t, tok.Tokenize(""))
	assert.Empty(t, tok.Tokenize("  ... !! "))
}

func TestTokenize_LiftsWhitelistTermsPerOccurrence(t *testing.T) {
	// Given: a multi-word whitelist term appearing twice
	tok := NewTokenizer([]string{"vision tokens", "vision tokens", " "}, false)

	// When: tokenizing
	got := tok.Tokenize("Vision tokens are cheap; vision tokens compress.")

	// Then: the term is emitted once per occurrence ahead of the words
	assert.Equal(t, "vision tokens", got[0])
	assert.Equal(t, "vision tokens", got[1])
	assert.NotEqual(t, "vision tokens", got[2])
	assert.Len(t, tok.Terms(), 1)
}

func TestTokenize_KeepsUnderscoresAndUnicode(t *testing.T) {
	words := Words("précision_ocr (95.1%) l'architecture")

	assert.Equal(t, []string{"précision_ocr", "95.1", "larchitecture"}, words)
}

func TestTokenize_KeepsDecimalPointsBetweenDigits(t *testing.T) {
	// Given: values that differ only in where the decimal point sits
	words := Words("6.7× 95.1% 9.51% end. v2.")

	// Then: decimals survive, trailing points are dropped
	assert.Equal(t, []string{"6.7", "95.1", "9.51", "end", "v2"}, words)

	// And: the two percentages do not collide as tokens
	tok := NewTokenizer(nil, false)
	assert.NotContains(t, tok.Tokenize("95.1%"), "9.51")
	assert.Contains(t, tok.Tokenize("95.1%"), "95.1")
}

func TestTokenize_VariantsOnlyWhenEnabled(t *testing.T) {
	off := NewTokenizer(nil, false).Tokenize("décodage tokens")
	on := NewTokenizer(nil, true).Tokenize("décodage tokens")

	assert.NotContains(t, off, "decodage")
	assert.Contains(t, on, "decodage")
	assert.Contains(t, on, "décodages")
	assert.Contains(t, on, "token")
}

func TestIsProperName(t *testing.T) {
	tests := map[string]bool{
		"DeepEncoder":       true,
		"SAM":               true,
		"GPT4":              true,
		"DeepSeek-OCR":      true,
		"decoder":           false,
		"Qwen":              false,
		"compression ratio": false,
		"OCR precision":     false,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, isProperName(in))
		})
	}
}

func TestMatchedTerms(t *testing.T) {
	tok := NewTokenizer([]string{"DeepEncoder", "compression ratio"}, false)

	terms := tok.MatchedTerms("The DEEPENCODER has a high compression ratio")

	assert.Len(t, terms, 2)
	assert.Equal(t, "compression ratio", terms[0].Text)
	assert.False(t, terms[0].ProperName)
	assert.True(t, terms[1].ProperName)
}
