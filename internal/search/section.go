package search

import (
	"sort"
	"strings"

	"github.com/gravis-app/ragcore/internal/store"
)

// Sectioned is what the section prior needs to know about an item.
type Sectioned interface {
	SectionText() string
	SectionSource() store.SourceKind
}

var modelListMarkers = []string{"qwen", "olmocr", "internvl", "mineru"}

// SectionAdjustment returns the additive prior for an item based on its
// structural role. The first matching rule wins; the prior never looks at
// the query.
func SectionAdjustment(item Sectioned) float64 {
	lower := strings.ToLower(item.SectionText())
	source := item.SectionSource()

	switch {
	case strings.HasPrefix(strings.TrimSpace(lower), "abstract") || strings.Contains(lower, "in this paper we"):
		return 0.15
	case strings.Contains(lower, "introduction") && strings.Contains(lower, "we propose"):
		return 0.12
	case strings.Contains(lower, "conclusion") || strings.Contains(lower, "in summary"):
		return 0.10
	case source == store.SourceTable && strings.Contains(lower, "benchmark"):
		return -0.15
	case strings.Contains(lower, "experiments") || strings.Contains(lower, "evaluation"):
		return -0.10
	case source.IsCaption():
		return -0.05
	case countMarkers(lower, modelListMarkers) >= 2:
		return -0.20
	}
	return 0
}

// RerankBySection computes SectionAdjustment for every item, hands it to
// apply, and re-sorts by score descending then id ascending. apply decides
// how the adjustment lands on the item's score.
func RerankBySection[T Sectioned](items []T, apply func(item T, adj float64), score func(T) float64, id func(T) string) {
	for _, it := range items {
		apply(it, SectionAdjustment(it))
	}
	sortByScore(items, score, id)
}

func sortByScore[T any](items []T, score func(T) float64, id func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		si, sj := score(items[i]), score(items[j])
		if si != sj {
			return si > sj
		}
		return id(items[i]) < id(items[j])
	})
}
