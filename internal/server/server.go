// Package server wires the tool registry to the MCP protocol. Stdio is the
// default transport; an optional streamable HTTP transport (chi router,
// bearer auth when a secret is configured) can run instead for networked
// deployments. The transport delivers one tool invocation at a time per
// session and awaits its completion — the dispatcher needs no locking.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/matiasleandrokruk/cpsdata/internal/domain/tool"
)

// Config holds protocol server configuration.
type Config struct {
	Name    string
	Version string

	// HTTP transport; used only by RunHTTP.
	HTTPAddr     string
	JWTSecret    string // empty disables bearer auth
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns default protocol server configuration.
func DefaultConfig() Config {
	return Config{
		Name:         "cps-data",
		Version:      "0.1.0",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// HealthFunc reports backend health for the HTTP /health endpoint.
type HealthFunc func(ctx context.Context) error

// Server owns the MCP session loop and, in HTTP mode, the http.Server.
type Server struct {
	config Config
	mcp    *mcp.Server
	health HealthFunc
	logger *log.Logger
}

// New builds an MCP server advertising every tool in the registry. The
// descriptors' input schemas are passed through verbatim; results and errors
// arrive pre-rendered from the dispatcher, so handlers here never fail.
func New(registry *tool.Registry, health HealthFunc, cfg Config, logger *log.Logger) *Server {
	impl := &mcp.Implementation{Name: cfg.Name, Version: cfg.Version}
	m := mcp.NewServer(impl, nil)

	readOnly := &mcp.ToolAnnotations{ReadOnlyHint: true}
	for _, desc := range registry.List() {
		mcp.AddTool(m, &mcp.Tool{
			Name:        desc.Name,
			Description: desc.Description,
			InputSchema: desc.InputSchema,
			Annotations: readOnly,
		}, dispatchHandler(registry, desc.Name))
	}

	return &Server{
		config: cfg,
		mcp:    m,
		health: health,
		logger: logger,
	}
}

// dispatchHandler adapts one registry tool to the SDK handler signature.
// The dispatcher guarantees a well-formed Result for every invocation, so
// the returned error is always nil and the session can never be torn down
// by an executor fault.
func dispatchHandler(registry *tool.Registry, name string) mcp.ToolHandlerFor[map[string]any, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		res := registry.Call(ctx, name, args)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Text}},
			IsError: res.IsError,
		}, nil, nil
	}
}

// RunStdio serves a single MCP session over stdin/stdout and blocks until
// the peer disconnects or ctx is cancelled. Stdout carries protocol frames;
// all logging goes to stderr.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logf("serving MCP over stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the streamable HTTP transport on cfg.HTTPAddr and blocks
// until ctx is cancelled, then shuts down gracefully.
func (s *Server) RunHTTP(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.config.HTTPAddr,
		Handler:      s.router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logf("serving MCP over HTTP on %s", s.config.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// router builds the chi router: unauthenticated /health, MCP endpoint under
// bearer auth when a secret is configured.
func (s *Server) router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health check — unauthenticated, used by probes. Pings the vector
	// store and the model backends.
	r.Get("/health", s.handleHealth)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)

	r.Route("/mcp", func(r chi.Router) {
		if s.config.JWTSecret != "" {
			r.Use(bearerAuth([]byte(s.config.JWTSecret)))
		}
		r.Handle("/", mcpHandler)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logf("health check failed: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"unavailable"}`) //nolint:errcheck
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
