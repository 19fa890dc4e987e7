// Package config loads ragcore configuration from compiled defaults, the
// user config file, a project config file and RAGCORE_* environment
// variables, in that order of increasing priority.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	rerrors "github.com/gravis-app/ragcore/internal/errors"
)

// MaxTechnicalTerms bounds the whitelist handed to the tokenizer.
const MaxTechnicalTerms = 30

// Config represents the complete ragcore configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// SearchConfig holds the retrieval and reranking options.
type SearchConfig struct {
	// UseAdaptiveIntentWeights selects the per-intent weight table instead
	// of FixedWeights.
	UseAdaptiveIntentWeights bool `yaml:"use_adaptive_intent_weights" json:"use_adaptive_intent_weights"`

	// FixedWeights is the dense/sparse/keyword triple used when adaptive
	// weights are off. Must sum to 1.
	FixedWeights WeightsConfig `yaml:"fixed_weights" json:"fixed_weights"`

	// BroadRetrievalK is the pool size kept after the hybrid sort.
	BroadRetrievalK int `yaml:"broad_retrieval_k" json:"broad_retrieval_k"`

	// FinalContextK is the number of chunks returned.
	FinalContextK int `yaml:"final_context_k" json:"final_context_k"`

	// TechnicalTerms is the tokenizer whitelist (at most MaxTechnicalTerms).
	TechnicalTerms []string `yaml:"technical_terms" json:"technical_terms"`

	EnableOrthographicVariants    bool `yaml:"enable_orthographic_variants" json:"enable_orthographic_variants"`
	EnableExplanatoryContextBonus bool `yaml:"enable_explanatory_context_bonus" json:"enable_explanatory_context_bonus"`

	BM25K1 float64 `yaml:"bm25_k1" json:"bm25_k1"`
	BM25B  float64 `yaml:"bm25_b" json:"bm25_b"`

	// BibliographyDiscount multiplies the score of reference-list chunks.
	BibliographyDiscount float64 `yaml:"bibliography_discount" json:"bibliography_discount"`

	// MinCaptionLength is the shortest caption kept; shorter ones are dropped.
	MinCaptionLength int `yaml:"min_caption_length" json:"min_caption_length"`

	// PrefilterLimit enables the bleve/HNSW candidate prefilter for corpora
	// larger than this many chunks. 0 disables it.
	PrefilterLimit int `yaml:"prefilter_limit" json:"prefilter_limit"`
}

// WeightsConfig is a dense/sparse/keyword weight triple.
type WeightsConfig struct {
	Dense   float64 `yaml:"dense" json:"dense"`
	Sparse  float64 `yaml:"sparse" json:"sparse"`
	Keyword float64 `yaml:"keyword" json:"keyword"`
}

// EmbeddingsConfig configures the query embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "static", "none" or empty for auto-detection.
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	Timeout    string `yaml:"timeout" json:"timeout"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
}

// StoreConfig locates the chunk database.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// TelemetryConfig configures query metrics.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MetricsAddr serves Prometheus metrics when non-empty (e.g. ":9464").
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	LogLevel      string `yaml:"log_level" json:"log_level"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// DefaultTechnicalTerms seeds the tokenizer whitelist.
var DefaultTechnicalTerms = []string{
	"DeepEncoder",
	"DeepSeek-OCR",
	"vision tokens",
	"compression ratio",
	"optical compression",
	"OCR precision",
	"text tokens",
	"decoder",
}

// NewConfig returns a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			UseAdaptiveIntentWeights:      false,
			FixedWeights:                  WeightsConfig{Dense: 0.4, Sparse: 0.4, Keyword: 0.2},
			BroadRetrievalK:               20,
			FinalContextK:                 8,
			TechnicalTerms:                append([]string(nil), DefaultTechnicalTerms...),
			EnableOrthographicVariants:    false,
			EnableExplanatoryContextBonus: false,
			BM25K1:                        1.2,
			BM25B:                         0.75,
			BibliographyDiscount:          0.1,
			MinCaptionLength:              100,
			PrefilterLimit:                0,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "",
			Model:     "nomic-embed-text",
			Timeout:   "30s",
			CacheSize: 256,
		},
		Store: StoreConfig{
			Path: DefaultStorePath(),
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
		Server: ServerConfig{
			LogLevel:      "info",
			WatchDebounce: "500ms",
		},
	}
}

// DefaultStorePath returns ~/.ragcore/corpus.db.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ragcore", "corpus.db")
	}
	return filepath.Join(home, ".ragcore", "corpus.db")
}

// GetUserConfigPath returns the XDG user config path.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ragcore", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "ragcore", "config.yaml")
	}
	return filepath.Join(home, ".config", "ragcore", "config.yaml")
}

// Load builds the effective configuration for a project directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.overlayYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadProjectFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadProjectFile(dir string) error {
	for _, name := range []string{".ragcore.yaml", ".ragcore.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.overlayYAML(path)
		}
	}
	return nil
}

// overlayYAML decodes path on top of c: keys absent from the file keep
// their current value, including booleans explicitly set to false.
func (c *Config) overlayYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	next := *c
	next.Search.TechnicalTerms = append([]string(nil), c.Search.TechnicalTerms...)
	if err := yaml.Unmarshal(data, &next); err != nil {
		return rerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	*c = next
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAGCORE_ADAPTIVE_WEIGHTS"); v != "" {
		c.Search.UseAdaptiveIntentWeights = parseBool(v)
	}
	if v := os.Getenv("RAGCORE_BROAD_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.BroadRetrievalK = k
		}
	}
	if v := os.Getenv("RAGCORE_FINAL_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.FinalContextK = k
		}
	}
	if v := os.Getenv("RAGCORE_TECHNICAL_TERMS"); v != "" {
		var terms []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				terms = append(terms, t)
			}
		}
		c.Search.TechnicalTerms = terms
	}
	if v := os.Getenv("RAGCORE_BM25_K1"); v != "" {
		if f, err := parseFloat64(v); err == nil && f > 0 {
			c.Search.BM25K1 = f
		}
	}
	if v := os.Getenv("RAGCORE_BM25_B"); v != "" {
		if f, err := parseFloat64(v); err == nil && f >= 0 && f <= 1 {
			c.Search.BM25B = f
		}
	}

	if v := os.Getenv("RAGCORE_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("RAGCORE_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("RAGCORE_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("RAGCORE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("RAGCORE_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("RAGCORE_METRICS_ADDR"); v != "" {
		c.Telemetry.MetricsAddr = v
	}
	if v := os.Getenv("RAGCORE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	s := c.Search
	w := s.FixedWeights
	for name, v := range map[string]float64{"dense": w.Dense, "sparse": w.Sparse, "keyword": w.Keyword} {
		if v < 0 || v > 1 {
			return invalid(fmt.Sprintf("search.fixed_weights.%s must be between 0 and 1, got %.2f", name, v))
		}
	}
	if sum := w.Dense + w.Sparse + w.Keyword; math.Abs(sum-1.0) > 0.01 {
		return invalid(fmt.Sprintf("search.fixed_weights must sum to 1.0, got %.2f", sum))
	}

	if s.BroadRetrievalK <= 0 {
		return invalid(fmt.Sprintf("search.broad_retrieval_k must be positive, got %d", s.BroadRetrievalK))
	}
	if s.FinalContextK <= 0 || s.FinalContextK > s.BroadRetrievalK {
		return invalid(fmt.Sprintf("search.final_context_k must be in [1, %d], got %d", s.BroadRetrievalK, s.FinalContextK))
	}
	if len(s.TechnicalTerms) > MaxTechnicalTerms {
		return invalid(fmt.Sprintf("search.technical_terms allows at most %d entries, got %d", MaxTechnicalTerms, len(s.TechnicalTerms)))
	}
	if s.BM25K1 <= 0 {
		return invalid(fmt.Sprintf("search.bm25_k1 must be positive, got %.2f", s.BM25K1))
	}
	if s.BM25B < 0 || s.BM25B > 1 {
		return invalid(fmt.Sprintf("search.bm25_b must be between 0 and 1, got %.2f", s.BM25B))
	}
	if s.BibliographyDiscount <= 0 || s.BibliographyDiscount > 1 {
		return invalid(fmt.Sprintf("search.bibliography_discount must be in (0, 1], got %.2f", s.BibliographyDiscount))
	}
	if s.MinCaptionLength < 0 || s.PrefilterLimit < 0 {
		return invalid("search.min_caption_length and search.prefilter_limit must be non-negative")
	}

	if c.Embeddings.Provider != "" {
		valid := map[string]bool{"ollama": true, "static": true, "none": true}
		if !valid[strings.ToLower(c.Embeddings.Provider)] {
			return invalid(fmt.Sprintf("embeddings.provider must be 'ollama', 'static', 'none', or empty (auto-detect), got %s", c.Embeddings.Provider))
		}
	}
	if _, err := c.EmbeddingTimeout(); err != nil {
		return invalid(fmt.Sprintf("embeddings.timeout: %v", err))
	}
	if _, err := c.WatchDebounce(); err != nil {
		return invalid(fmt.Sprintf("server.watch_debounce: %v", err))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return invalid(fmt.Sprintf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel))
	}
	return nil
}

// EmbeddingTimeout parses Embeddings.Timeout; empty means 30s.
func (c *Config) EmbeddingTimeout() (time.Duration, error) {
	return parseDuration(c.Embeddings.Timeout, 30*time.Second)
}

// WatchDebounce parses Server.WatchDebounce; empty means 500ms.
func (c *Config) WatchDebounce() (time.Duration, error) {
	return parseDuration(c.Server.WatchDebounce, 500*time.Millisecond)
}

// WriteYAML writes the configuration to path, keeping a timestamped backup
// of any file it replaces.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return WriteFile(path, data)
}

// WriteFile writes raw configuration bytes to path, keeping a timestamped
// backup of any file it replaces.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := backupFile(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func invalid(msg string) error {
	return rerrors.ConfigError(msg, nil).
		WithSuggestion("Fix the value in .ragcore.yaml or " + GetUserConfigPath())
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
