package embed

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	ragerrors "github.com/gravis-app/ragcore/internal/errors"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a general text embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout bounds the startup health check.
	OllamaConnectTimeout = 5 * time.Second

	ollamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host  string
	Model string

	// Dimensions overrides auto-detection when non-zero.
	Dimensions int

	BatchSize int

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	Retry ragerrors.RetryConfig

	// BreakerFailures consecutive failures open the circuit for BreakerReset.
	BreakerFailures int
	BreakerReset    time.Duration

	// SkipHealthCheck skips the startup model check (tests).
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns defaults for a local Ollama.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:            DefaultOllamaHost,
		Model:           DefaultOllamaModel,
		BatchSize:       DefaultBatchSize,
		Timeout:         DefaultTimeout,
		Retry:           ragerrors.DefaultRetryConfig(),
		BreakerFailures: 5,
		BreakerReset:    30 * time.Second,
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaEmbedder calls Ollama's /api/embed endpoint. Requests are retried
// with backoff and guarded by a circuit breaker so a dead service fails fast.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	breaker   *ragerrors.CircuitBreaker

	mu        sync.RWMutex
	modelName string
	dims      int
	closed    bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an embedder and, unless skipped, verifies that
// the model is installed and detects its width.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	d := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = d.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = d.Model
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = d.Retry
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = d.BreakerFailures
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = d.BreakerReset
	}

	// No client-level timeout: each request gets its own context deadline.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		IdleConnTimeout:     10 * time.Second,
	}
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		breaker: ragerrors.NewCircuitBreaker("ollama",
			ragerrors.WithMaxFailures(cfg.BreakerFailures),
			ragerrors.WithResetTimeout(cfg.BreakerReset)),
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if cfg.SkipHealthCheck {
		return e, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, OllamaConnectTimeout+cfg.Timeout)
	defer cancel()

	if err := e.checkModel(checkCtx); err != nil {
		transport.CloseIdleConnections()
		return nil, err
	}
	if e.dims == 0 {
		vecs, err := e.doEmbed(checkCtx, []string{"dimension check"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
		}
		e.dims = len(vecs[0])
	}
	return e, nil
}

func (e *OllamaEmbedder) checkModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return ragerrors.New(ragerrors.ErrCodeEmbedderUnreachable,
			fmt.Sprintf("ollama returned status %d listing models", resp.StatusCode), nil)
	}
	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("failed to decode model list: %w", err)
	}

	want := strings.ToLower(e.modelName)
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.HasPrefix(name, want+":") {
			return nil
		}
	}
	return ragerrors.New(ragerrors.ErrCodeModelPull,
		fmt.Sprintf("model %q is not installed", e.modelName), nil).
		WithSuggestion(fmt.Sprintf("Run: ollama pull %s", e.modelName))
}

// Embed generates the embedding for one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batches of BatchSize.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(texts))
		batch := texts[start:end]

		vecs, err := ragerrors.CircuitCall(e.breaker, func() ([][]float32, error) {
			return ragerrors.RetryWithResult(ctx, e.config.Retry, func() ([][]float32, error) {
				reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
				defer cancel()
				return e.doEmbed(reqCtx, batch)
			})
		})
		if err != nil {
			slog.Debug("embedding_failed",
				slog.Int("batch_start", start),
				slog.Int("batch_size", len(batch)),
				slog.String("breaker", e.breaker.State().String()),
				slog.String("error", err.Error()))
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.ModelName(), Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		code := ragerrors.ErrCodeInvalidInput
		if resp.StatusCode >= 500 {
			code = ragerrors.ErrCodeEmbedderUnreachable
		}
		return nil, ragerrors.New(code,
			fmt.Sprintf("embedding failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var apiResult ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResult.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResult.Embeddings))
	}

	dims := e.Dimensions()
	out := make([][]float32, len(apiResult.Embeddings))
	for i, emb := range apiResult.Embeddings {
		if dims > 0 && len(emb) != dims {
			return nil, ragerrors.New(ragerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("model returned %d dimensions, expected %d", len(emb), dims), nil)
		}
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		out[i] = normalizeVector(vec)
	}
	return out, nil
}

func classifyTransportError(err error) error {
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.As(err, &netErr) && netErr.Timeout() {
		return ragerrors.New(ragerrors.ErrCodeEmbedderTimeout, "embedding request timed out", err)
	}
	return ragerrors.New(ragerrors.ErrCodeEmbedderUnreachable, "cannot reach ollama", err).
		WithSuggestion("Start Ollama with: ollama serve")
}

func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

func (e *OllamaEmbedder) ModelName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.modelName
}

// Available reports whether the circuit is closed and the model is listed.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed || !e.breaker.Allow() {
		return false
	}
	return e.checkModel(ctx) == nil
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
