package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gravis-app/ragcore/internal/config"
)

// ProviderType selects an embedding backend.
type ProviderType string

const (
	ProviderAuto   ProviderType = ""
	ProviderOllama ProviderType = "ollama"
	ProviderStatic ProviderType = "static"
	ProviderNone   ProviderType = "none"
)

// ParseProvider maps a config string to a provider. Unknown values mean
// auto-detection.
func ParseProvider(s string) ProviderType {
	switch ProviderType(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderOllama:
		return ProviderOllama
	case ProviderStatic:
		return ProviderStatic
	case ProviderNone:
		return ProviderNone
	default:
		return ProviderAuto
	}
}

func (p ProviderType) String() string {
	if p == ProviderAuto {
		return "auto"
	}
	return string(p)
}

// NewFromConfig builds the configured embedder wrapped in a cache. Provider
// "none" returns a nil Embedder: search then ranks on lexical signals only.
// Auto-detection tries Ollama and falls back to the static embedder.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Embedder, error) {
	ec := cfg.Embeddings
	timeout, err := cfg.EmbeddingTimeout()
	if err != nil {
		return nil, err
	}

	var inner Embedder
	switch ParseProvider(ec.Provider) {
	case ProviderNone:
		return nil, nil
	case ProviderStatic:
		inner = NewStaticEmbedder(ec.Dimensions)
	case ProviderOllama:
		inner, err = newOllama(ctx, ec, timeout)
		if err != nil {
			return nil, err
		}
	default:
		inner, err = newOllama(ctx, ec, timeout)
		if err != nil {
			slog.Warn("ollama_unavailable_using_static",
				slog.String("host", ec.OllamaHost),
				slog.String("error", err.Error()))
			inner = NewStaticEmbedder(ec.Dimensions)
		}
	}

	slog.Debug("embedder_ready",
		slog.String("provider", ParseProvider(ec.Provider).String()),
		slog.String("model", inner.ModelName()),
		slog.Int("dimensions", inner.Dimensions()))

	if ec.CacheSize > 0 {
		return NewCachedEmbedder(inner, ec.CacheSize), nil
	}
	return inner, nil
}

func newOllama(ctx context.Context, ec config.EmbeddingsConfig, timeout time.Duration) (*OllamaEmbedder, error) {
	oc := DefaultOllamaConfig()
	if ec.OllamaHost != "" {
		oc.Host = ec.OllamaHost
	}
	if ec.Model != "" {
		oc.Model = ec.Model
	}
	oc.Dimensions = ec.Dimensions
	oc.Timeout = timeout

	e, err := NewOllamaEmbedder(ctx, oc)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	return e, nil
}
