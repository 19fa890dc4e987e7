package search

import (
	"regexp"
	"strings"

	"github.com/gravis-app/ragcore/internal/store"
)

const (
	// DefaultBibliographyDiscount multiplies the score of reference-list chunks.
	DefaultBibliographyDiscount = 0.1

	// DefaultMinCaptionLength is the shortest caption, in bytes, that is kept.
	DefaultMinCaptionLength = 100

	minPatternMatches = 3
	minSceneMatches   = 2
)

var (
	bibliographyMarkers = []string{"et al.", "arxiv", "preprint", "doi:", "http://"}

	// hardDropMarkers adds https:// to the discount markers.
	hardDropMarkers = append(append([]string(nil), bibliographyMarkers...), "https://")

	// sceneMarkers are words OCR emits when it describes a photo instead of
	// reading a document.
	sceneMarkers = []string{"library", "room", "furniture", "shelves", "dedicated to books"}

	authorInitialRe = regexp.MustCompile(`[A-Z]\.\s+[A-Z]`)
)

// Verdict is the contamination filter's decision for one chunk.
type Verdict struct {
	Drop     bool
	Discount bool
	Reason   string
}

// ContaminationFilter detects reference lists and OCR noise.
type ContaminationFilter struct {
	Discount         float64
	MinCaptionLength int
}

// NewContaminationFilter returns a filter with the given discount and
// caption threshold, falling back to defaults for non-positive values.
func NewContaminationFilter(discount float64, minCaption int) ContaminationFilter {
	if discount <= 0 || discount > 1 {
		discount = DefaultBibliographyDiscount
	}
	if minCaption <= 0 {
		minCaption = DefaultMinCaptionLength
	}
	return ContaminationFilter{Discount: discount, MinCaptionLength: minCaption}
}

// Assess classifies content. Hard-drop rules take precedence over the
// bibliography discount.
func (f ContaminationFilter) Assess(content string, kind store.SourceKind) Verdict {
	lower := strings.ToLower(content)

	if countMarkers(lower, hardDropMarkers) >= minPatternMatches {
		return Verdict{Drop: true, Reason: "bibliography"}
	}
	if countMarkers(lower, sceneMarkers) >= minSceneMatches {
		return Verdict{Drop: true, Reason: "scene_description"}
	}
	if kind.IsCaption() && len(content) < f.MinCaptionLength {
		return Verdict{Drop: true, Reason: "short_caption"}
	}

	if IsBibliography(content) {
		return Verdict{Discount: true, Reason: "bibliography"}
	}
	return Verdict{}
}

// IsBibliography reports whether content reads like a reference list.
func IsBibliography(content string) bool {
	lower := strings.ToLower(content)
	if countMarkers(lower, bibliographyMarkers) >= minPatternMatches {
		return true
	}
	if len(authorInitialRe.FindAllStringIndex(content, minPatternMatches)) >= minPatternMatches {
		return true
	}
	words := len(strings.Fields(content))
	commas := strings.Count(content, ",")
	return words > 0 && float64(commas) > float64(words)/4
}

// countMarkers counts how many distinct markers occur in lower.
func countMarkers(lower string, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(lower, m) {
			n++
		}
	}
	return n
}
