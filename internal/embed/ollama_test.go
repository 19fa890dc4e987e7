package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/gravis-app/ragcore/internal/errors"
)

type fakeOllama struct {
	server   *httptest.Server
	calls    atomic.Int32
	failures atomic.Int32 // number of initial requests answered with 503
	models   []string
}

func newFakeOllama(t *testing.T, dims int) *fakeOllama {
	t.Helper()
	f := &fakeOllama{models: []string{"nomic-embed-text:latest"}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		list := []map[string]string{}
		for _, m := range f.models {
			list = append(list, map[string]string{"name": m})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": list})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		n := f.calls.Add(1)
		if n <= f.failures.Load() {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		count := 1
		if list, ok := req.Input.([]any); ok {
			count = len(list)
		}
		embs := make([][]float64, count)
		for i := range embs {
			embs[i] = make([]float64, dims)
			embs[i][i%dims] = 3
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Model: req.Model, Embeddings: embs})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func fastRetry() ragerrors.RetryConfig {
	return ragerrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestOllamaEmbedder_HealthCheckDetectsDimensions(t *testing.T) {
	// Given: a server with the model installed
	f := newFakeOllama(t, 8)

	// When: creating the embedder
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: f.server.URL, Retry: fastRetry()})

	// Then: dimensions come from a trial embedding request
	require.NoError(t, err)
	defer func() { _ = e.Close() }()
	assert.Equal(t, 8, e.Dimensions())
	assert.Equal(t, DefaultOllamaModel, e.ModelName())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_MissingModel(t *testing.T) {
	f := newFakeOllama(t, 8)
	f.models = []string{"llama3:8b"}

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: f.server.URL, Model: "nomic-embed-text"})

	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeModelPull, ragerrors.GetCode(err))
}

func TestOllamaEmbedder_EmbedNormalizes(t *testing.T) {
	f := newFakeOllama(t, 4)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: f.server.URL, SkipHealthCheck: true, Retry: fastRetry()})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, vec)
}

func TestOllamaEmbedder_BatchesRequests(t *testing.T) {
	f := newFakeOllama(t, 4)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: f.server.URL, SkipHealthCheck: true, BatchSize: 2, Retry: fastRetry(),
	})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})

	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestOllamaEmbedder_RetriesTransientFailures(t *testing.T) {
	// Given: the first two requests fail with 503
	f := newFakeOllama(t, 4)
	f.failures.Store(2)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: f.server.URL, SkipHealthCheck: true, Retry: fastRetry()})
	require.NoError(t, err)

	// When: embedding
	vec, err := e.Embed(context.Background(), "retry me")

	// Then: the third attempt succeeds
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestOllamaEmbedder_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	// Given: a server that always fails and a breaker that trips after 2 calls
	f := newFakeOllama(t, 4)
	f.failures.Store(1000)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            f.server.URL,
		SkipHealthCheck: true,
		Retry:           ragerrors.RetryConfig{MaxRetries: 0, Multiplier: 1},
		BreakerFailures: 2,
		BreakerReset:    time.Hour,
	})
	require.NoError(t, err)

	// When: calling three times
	_, err1 := e.Embed(context.Background(), "x")
	_, err2 := e.Embed(context.Background(), "x")
	_, err3 := e.Embed(context.Background(), "x")

	// Then: the third call fails fast without reaching the server
	assert.Equal(t, ragerrors.ErrCodeEmbedderUnreachable, ragerrors.GetCode(err1))
	assert.Error(t, err2)
	assert.ErrorIs(t, err3, ragerrors.ErrCircuitOpen)
	assert.Equal(t, int32(2), f.calls.Load())
	assert.False(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	f := newFakeOllama(t, 4)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: f.server.URL, SkipHealthCheck: true, Dimensions: 8, Retry: fastRetry(),
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")

	assert.Equal(t, ragerrors.ErrCodeDimensionMismatch, ragerrors.GetCode(err))
	assert.Equal(t, int32(1), f.calls.Load(), "dimension mismatch is not retried")
}

func TestOllamaEmbedder_Unreachable(t *testing.T) {
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: "http://127.0.0.1:1", SkipHealthCheck: true, Retry: ragerrors.RetryConfig{Multiplier: 1},
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")

	require.Error(t, err)
	assert.True(t, ragerrors.IsRetryable(err))
}

func TestOllamaEmbedder_ClosedRejectsCalls(t *testing.T) {
	f := newFakeOllama(t, 4)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: f.server.URL, SkipHealthCheck: true})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "x")

	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}
