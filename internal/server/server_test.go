package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/matiasleandrokruk/cpsdata/internal/domain/tool"
	pkgauth "github.com/matiasleandrokruk/cpsdata/pkg/auth"
)

// newTestRegistry declares one echoing tool and one always-failing tool.
func newTestRegistry(t *testing.T) *tool.Registry {
	t.Helper()

	r := tool.NewRegistry(nil)
	err := r.Register(tool.Descriptor{
		Name:        "echo",
		Description: "Echo the text argument back.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
	}, func(_ context.Context, args map[string]any) (string, error) {
		s, _ := args["text"].(string)
		return "echo: " + s, nil
	})
	if err != nil {
		t.Fatalf("Register(echo) error = %v", err)
	}

	err = r.Register(tool.Descriptor{
		Name:        "always_fails",
		Description: "Fails on every call.",
		InputSchema: map[string]any{"type": "object"},
	}, func(context.Context, map[string]any) (string, error) {
		return "", errors.New("backend unavailable")
	})
	if err != nil {
		t.Fatalf("Register(always_fails) error = %v", err)
	}
	return r
}

// connect runs the server over in-memory transports and returns a client
// session.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx := context.Background()

	serverSession, err := s.mcp.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

// TestServer_ListTools verifies every registry descriptor is advertised with
// the read-only annotation.
func TestServer_ListTools(t *testing.T) {
	t.Parallel()

	s := New(newTestRegistry(t), nil, DefaultConfig(), nil)
	session := connect(t, s)

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}

	if len(res.Tools) != 2 {
		t.Fatalf("len(Tools) = %d; want 2", len(res.Tools))
	}
	names := map[string]bool{}
	for _, tl := range res.Tools {
		names[tl.Name] = true
		if tl.Annotations == nil || !tl.Annotations.ReadOnlyHint {
			t.Errorf("tool %s missing read-only annotation", tl.Name)
		}
	}
	if !names["echo"] || !names["always_fails"] {
		t.Errorf("tool names = %v; want echo and always_fails", names)
	}
}

// TestServer_CallTool verifies a successful invocation carries the dispatch
// text as a single text content.
func TestServer_CallTool(t *testing.T) {
	t.Parallel()

	s := New(newTestRegistry(t), nil, DefaultConfig(), nil)
	session := connect(t, s)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"text": "hello"},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}

	if res.IsError {
		t.Fatalf("IsError = true; want false (content: %v)", res.Content)
	}
	if len(res.Content) != 1 {
		t.Fatalf("len(Content) = %d; want 1", len(res.Content))
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("Content[0] = %T; want *mcp.TextContent", res.Content[0])
	}
	if text.Text != "echo: hello" {
		t.Errorf("Text = %q; want echo: hello", text.Text)
	}
}

// TestServer_CallTool_HandlerFailure verifies executor faults come back as
// error-flagged results, not protocol errors, and the session survives.
func TestServer_CallTool_HandlerFailure(t *testing.T) {
	t.Parallel()

	s := New(newTestRegistry(t), nil, DefaultConfig(), nil)
	session := connect(t, s)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "always_fails"})
	if err != nil {
		t.Fatalf("CallTool() error = %v; want nil (failure travels in the result)", err)
	}
	if !res.IsError {
		t.Fatal("IsError = false; want true")
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok || !strings.Contains(text.Text, "backend unavailable") {
		t.Errorf("Content[0] = %v; want the error text", res.Content[0])
	}

	// The same session keeps working after a failed invocation.
	res, err = session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"text": "still alive"},
	})
	if err != nil {
		t.Fatalf("CallTool() after failure error = %v", err)
	}
	if res.IsError {
		t.Error("IsError = true after recovery; want false")
	}
}

// TestRouter_Health covers the healthy, failing, and nil health func cases.
func TestRouter_Health(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		health HealthFunc
		want   int
	}{
		{"healthy", func(context.Context) error { return nil }, http.StatusOK},
		{"unhealthy", func(context.Context) error { return errors.New("down") }, http.StatusServiceUnavailable},
		{"no health func", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := New(newTestRegistry(t), tt.health, DefaultConfig(), nil)
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()

			s.router().ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d; want %d", rec.Code, tt.want)
			}
		})
	}
}

// TestRouter_MCPAuth verifies the MCP endpoint requires a bearer token only
// when a secret is configured.
func TestRouter_MCPAuth(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.JWTSecret = "router-secret"
	s := New(newTestRegistry(t), nil, cfg, nil)
	router := s.router()

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d; want 401", rec.Code)
	}

	token, err := pkgauth.GenerateToken([]byte(cfg.JWTSecret), "agent", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code == http.StatusUnauthorized {
		t.Error("status with token = 401; want the request to reach the MCP handler")
	}

	// No secret configured: the endpoint is open.
	open := New(newTestRegistry(t), nil, DefaultConfig(), nil)
	req = httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec = httptest.NewRecorder()
	open.router().ServeHTTP(rec, req)
	if rec.Code == http.StatusUnauthorized {
		t.Error("status without secret = 401; want the endpoint open")
	}
}
