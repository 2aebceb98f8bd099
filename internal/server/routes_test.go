package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/toolgate/toolgate/internal/app"
	"github.com/toolgate/toolgate/internal/common"
	"github.com/toolgate/toolgate/internal/config"
)

// newTestServer wires a full application against an in-process tool server
// reached through the internal-server configuration.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	tools := mcpserver.NewMCPServer("test-tools", "0.0.1")
	tools.AddTool(
		mcp.NewTool("get_questions",
			mcp.WithDescription("Fetch one question by id"),
			mcp.WithString("id", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(fmt.Sprintf(`{"id":%q}`, req.GetString("id", ""))), nil
		},
	)
	tools.AddTool(
		mcp.NewTool("create_note",
			mcp.WithDescription("Create a note"),
			mcp.WithString("text", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(fmt.Sprintf(`{"text":%q}`, req.GetString("text", ""))), nil
		},
	)
	ts := mcpserver.NewTestStreamableHTTPServer(tools)
	t.Cleanup(ts.Close)

	cfg := config.NewDefaultConfig()
	cfg.Proxy.PathPrefix = "/proxy/{tenant_id}"
	cfg.Proxy.Responses = map[string]config.ResponseShape{
		"/get_questions/{id}": {Type: "dict", Name: "Question"},
		"/create_note":        {Type: "dict", Name: "Note"},
	}
	cfg.Discovery.Internal.BaseURL = ts.URL

	application, err := app.New(cfg, common.NewSilentLogger())
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(func() { application.Close() })

	return New(application)
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthRoute(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing correlation id header")
	}
}

func TestVersionRoute(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/version", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Data   map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body.Data["version"] == "" {
		t.Error("missing version")
	}
}

func TestDispatchGet(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/tenant-1/get_questions/42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != `{"id":"42"}` {
		t.Errorf("body = %s", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestDispatchPostBody(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/tenant-1/create_note", `{"text":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != `{"text":"hello"}` {
		t.Errorf("body = %s", got)
	}
}

func TestDispatchUnknownPath(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/tenant-1/nowhere", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if body["status"] != "error" {
		t.Errorf("body = %v", body)
	}
}

func TestDispatchOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/tenant-1/openapi.yaml", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "openapi: 3.1.0") {
		t.Error("missing openapi version in document")
	}
}

func TestBatchRoute(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/tenant-1/_batch", `{
		"calls": [
			{"path": "/get_questions/1"},
			{"path": "/create_note", "arguments": {"text": "hi"}}
		]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Status string `json:"status"`
		Data   []struct {
			Text  string `json:"text"`
			Error string `json:"error"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q", body.Status)
	}
	if len(body.Data) != 2 {
		t.Fatalf("got %d results", len(body.Data))
	}
	if body.Data[0].Text != `{"id":"1"}` || body.Data[1].Text != `{"text":"hi"}` {
		t.Errorf("results = %+v", body.Data)
	}
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(t)

	// Drive one request through so the pool has counters.
	do(t, srv, http.MethodGet, "/tenant-1/get_questions/42", "")

	rec := do(t, srv, http.MethodGet, "/api/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Data map[string]struct {
			TotalRequests int64 `json:"total_requests"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if len(body.Data) == 0 {
		t.Fatal("no pool summaries reported")
	}
	var total int64
	for _, s := range body.Data {
		total += s.TotalRequests
	}
	if total == 0 {
		t.Error("expected at least one recorded request")
	}
}
