// Package validation runs data-driven relevance checks against a loaded
// corpus. Query files list questions with the chunk IDs that should (or
// must not) be retrieved for them, so ranking regressions show up without
// touching code.
package validation

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gravis-app/ragcore/internal/mcp"
)

const defaultTopK = 3

// QuerySpec is one relevance check.
type QuerySpec struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Query string `yaml:"query" json:"query"`

	// Expected chunk IDs; any one within the first TopK results passes.
	Expected []string `yaml:"expected" json:"expected,omitempty"`

	// Excluded chunk IDs must not appear in any returned result.
	Excluded []string `yaml:"excluded" json:"excluded,omitempty"`

	// TopK defaults to 3.
	TopK  int    `yaml:"top_k" json:"top_k,omitempty"`
	Notes string `yaml:"notes" json:"notes,omitempty"`
	Tier  int    `yaml:"-" json:"tier"`
}

// QueryConfig groups the checks of a query file. Tier 1 checks gate a run,
// tier 2 checks are tracked but never fail it, and negative checks only
// need to complete without an unexpected error.
type QueryConfig struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

// LoadQueries reads a query file.
func LoadQueries(path string) (*QueryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read queries file %s: %w", path, err)
	}
	var cfg QueryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse queries file %s: %w", path, err)
	}

	for _, group := range []struct {
		specs []QuerySpec
		tier  int
	}{{cfg.Tier1, 1}, {cfg.Tier2, 2}, {cfg.Negative, 0}} {
		for i := range group.specs {
			s := &group.specs[i]
			s.Tier = group.tier
			if s.TopK <= 0 {
				s.TopK = defaultTopK
			}
			if s.ID == "" {
				return nil, fmt.Errorf("query %q in %s has no id", s.Query, path)
			}
		}
	}
	return &cfg, nil
}

// TestResult is the outcome of one check.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ns"`
	TopResults []string      `json:"top_results"`
	MatchedAt  int           `json:"matched_at"`
	Leaked     []string      `json:"leaked,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// ValidationResult summarizes a run.
type ValidationResult struct {
	Timestamp  time.Time    `json:"timestamp"`
	Tier1      []TestResult `json:"tier1"`
	Tier2      []TestResult `json:"tier2"`
	Negative   []TestResult `json:"negative"`
	Tier1Pass  int          `json:"tier1_pass"`
	Tier2Pass  int          `json:"tier2_pass"`
	NegPass    int          `json:"negative_pass"`
	Embedder   string       `json:"embedder"`
	Chunks     int          `json:"chunks"`
	SnapshotID string       `json:"snapshot_id"`
}

// Passed reports whether every tier 1 and negative check passed.
func (r *ValidationResult) Passed() bool {
	return r.Tier1Pass == len(r.Tier1) && r.NegPass == len(r.Negative)
}

// Searcher is the search surface under test. *mcp.Server satisfies it, so
// checks exercise the same path MCP clients use.
type Searcher interface {
	Search(ctx context.Context, input mcp.SearchInput) (mcp.SearchOutput, error)
	Status(ctx context.Context) mcp.CorpusStatusOutput
}

// Validator runs query checks.
type Validator struct {
	searcher Searcher
}

func NewValidator(s Searcher) *Validator {
	return &Validator{searcher: s}
}

// RunQuery executes one check.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	res := TestResult{Spec: spec, MatchedAt: -1}

	limit := spec.TopK
	if limit <= 0 {
		limit = defaultTopK
	}
	start := time.Now()
	out, err := v.searcher.Search(ctx, mcp.SearchInput{Query: spec.Query, Limit: limit})
	res.Duration = time.Since(start)

	if err != nil {
		// Negative checks accept a clean rejection.
		res.Passed = spec.Tier == 0
		res.Error = err.Error()
		return res
	}

	for _, r := range out.Results {
		res.TopResults = append(res.TopResults, r.ChunkID)
	}
	for _, id := range res.TopResults {
		if slices.Contains(spec.Excluded, id) {
			res.Leaked = append(res.Leaked, id)
		}
	}

	if len(spec.Expected) == 0 {
		res.Passed = len(res.Leaked) == 0
		return res
	}
	var found bool
	found, res.MatchedAt = checkExpected(res.TopResults, spec.Expected)
	res.Passed = found && len(res.Leaked) == 0
	return res
}

// RunAll executes every check in cfg.
func (v *Validator) RunAll(ctx context.Context, cfg *QueryConfig) *ValidationResult {
	st := v.searcher.Status(ctx)
	result := &ValidationResult{
		Timestamp:  time.Now(),
		Embedder:   st.Embeddings.Model,
		Chunks:     st.Chunks,
		SnapshotID: st.SnapshotID,
	}

	run := func(specs []QuerySpec, into *[]TestResult, pass *int) {
		for _, spec := range specs {
			if ctx.Err() != nil {
				return
			}
			tr := v.RunQuery(ctx, spec)
			*into = append(*into, tr)
			if tr.Passed {
				*pass++
			}
		}
	}
	run(cfg.Tier1, &result.Tier1, &result.Tier1Pass)
	run(cfg.Tier2, &result.Tier2, &result.Tier2Pass)
	run(cfg.Negative, &result.Negative, &result.NegPass)
	return result
}

// checkExpected returns the position of the first expected ID in results.
func checkExpected(results, expected []string) (bool, int) {
	for i, id := range results {
		if slices.Contains(expected, id) {
			return true, i
		}
	}
	return false, -1
}
