package mcp

import (
	"fmt"
	"strings"
)

const snippetRunes = 600

// FormatSearchResults renders the search output as markdown for clients
// that show the text content only.
func FormatSearchResults(out SearchOutput) string {
	var sb strings.Builder
	if len(out.Results) == 0 {
		fmt.Fprintf(&sb, "No results found for %q\n", out.Query)
	} else {
		fmt.Fprintf(&sb, "## Results for %q\n\n", out.Query)
		for i, r := range out.Results {
			fmt.Fprintf(&sb, "### %d. %s (score: %.3f, %s", i+1, r.ChunkID, r.Score, r.SourceKind)
			if r.FigureID != "" {
				fmt.Fprintf(&sb, ", %s", r.FigureID)
			}
			sb.WriteString(")\n")
			if r.NumericMatched != nil {
				if *r.NumericMatched {
					sb.WriteString("Satisfies the numeric constraint.\n")
				} else {
					sb.WriteString("Does not satisfy the numeric constraint.\n")
				}
			}
			if r.Signals != nil {
				fmt.Fprintf(&sb, "dense %.3f · sparse %.3f · keyword %.3f · hybrid %.3f · section %+.2f\n",
					r.Signals.Dense, r.Signals.Sparse, r.Signals.Keyword, r.Signals.Hybrid, r.Signals.SectionAdjustment)
			}
			sb.WriteString("\n")
			sb.WriteString(truncate(r.Content, snippetRunes))
			sb.WriteString("\n\n")
		}
	}
	for _, w := range out.Warnings {
		fmt.Fprintf(&sb, "> Note: %s\n", w)
	}
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}
