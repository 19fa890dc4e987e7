package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/embed"
	"github.com/gravis-app/ragcore/internal/search"
	"github.com/gravis-app/ragcore/internal/session"
	"github.com/gravis-app/ragcore/internal/telemetry"
	"github.com/gravis-app/ragcore/pkg/version"
)

const metricsURI = "ragcore://query_metrics"

// Server bridges MCP clients and the search engine. Every tool call reads
// the session's current snapshot once, so a concurrent corpus reload never
// changes the corpus under a running query.
type Server struct {
	mcp      *mcp.Server
	engine   *search.Engine
	session  *session.Session
	embedder embed.Embedder
	config   *config.Config
	logger   *slog.Logger

	mu      sync.RWMutex
	metrics *telemetry.QueryMetrics
}

// NewServer creates the server and registers its tools. embedder may be
// nil when embeddings are disabled.
func NewServer(engine *search.Engine, sess *session.Session, embedder embed.Embedder, cfg *config.Config) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if sess == nil {
		return nil, errors.New("session is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine:   engine,
		session:  sess,
		embedder: embedder,
		config:   cfg,
		logger:   slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "ragcore", Version: version.Version}, nil)
	s.registerTools()
	return s, nil
}

// SetMetrics registers the query_metrics resource backed by m.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
	if m != nil {
		s.mcp.AddResource(&mcp.Resource{
			Name:        "query_metrics",
			URI:         metricsURI,
			Description: "Aggregated query telemetry for this server session",
			MIMEType:    "application/json",
		}, s.readQueryMetrics)
	}
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "search",
		Description: "Retrieve the passages of the loaded document corpus most relevant to a question. " +
			"Combines semantic and keyword matching, filters bibliography and OCR noise, prefers abstracts and " +
			"results sections, and honours numeric constraints such as \"above 90%\" or \"between 5x and 10x\".",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "corpus_status",
		Description: "Report whether a corpus is loaded, its size and version, and which query embedder is active.",
	}, s.corpusStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", 2))
}

func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	out, err := s.Search(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(out)}},
	}, out, nil
}

// Search runs one query against the current snapshot.
func (s *Server) Search(ctx context.Context, input SearchInput) (SearchOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return SearchOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}
	snap := s.session.Current()
	if snap == nil {
		return SearchOutput{}, ErrCorpusNotReady
	}

	requestID := generateRequestID()
	cfg := s.config.Search
	cfg.FinalContextK = clampLimit(input.Limit)

	start := time.Now()
	res, err := s.engine.Search(ctx, search.Request{Query: input.Query}, snap, cfg)
	if err != nil {
		s.logger.Warn("mcp_search_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return SearchOutput{}, err
	}
	s.logger.Info("mcp_search_completed",
		slog.String("request_id", requestID),
		slog.String("snapshot", snap.ID()),
		slog.Int("result_count", len(res.Entries)),
		slog.Duration("duration", time.Since(start)))

	out := SearchOutput{
		Query:    res.Query,
		Results:  make([]ResultOutput, 0, len(res.Entries)),
		Warnings: warningsFor(res.Diagnostics),
	}
	for _, e := range res.Entries {
		out.Results = append(out.Results, toResultOutput(e, input.Explain))
	}
	if input.Explain {
		d := res.Diagnostics
		out.Diagnostics = &d
	}
	return out, nil
}

func (s *Server) corpusStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ CorpusStatusInput) (
	*mcp.CallToolResult,
	CorpusStatusOutput,
	error,
) {
	return nil, s.Status(ctx), nil
}

// Status describes the current snapshot and embedder.
func (s *Server) Status(ctx context.Context) CorpusStatusOutput {
	out := CorpusStatusOutput{
		BySource: map[string]int{},
		Embeddings: EmbeddingInfo{
			Provider: embed.ParseProvider(s.config.Embeddings.Provider).String(),
		},
	}
	if s.embedder != nil {
		out.Embeddings.Model = s.embedder.ModelName()
		out.Embeddings.Dimensions = s.embedder.Dimensions()
		out.Embeddings.Available = s.embedder.Available(ctx)
	}

	snap := s.session.Current()
	if snap == nil {
		return out
	}
	out.Ready = true
	out.SnapshotID = snap.ID()
	out.Version = snap.CorpusVersion()
	out.BuiltAt = snap.BuiltAt().Format(time.RFC3339)
	out.Chunks = snap.Len()
	out.Prefilter = snap.Prefilter() != nil
	for _, c := range snap.Chunks() {
		out.BySource[string(c.SourceKind)]++
		if c.HasEmbedding() {
			out.Embedded++
		}
	}
	return out
}

func (s *Server) readQueryMetrics(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	s.mu.RLock()
	m := s.metrics
	s.mu.RUnlock()
	if m == nil {
		return nil, NewInvalidParamsError("query metrics not available")
	}

	content, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal query metrics: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: metricsURI, MIMEType: "application/json", Text: string(content)}},
	}, nil
}

// Serve runs the server over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
