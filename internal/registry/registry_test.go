package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolgate/toolgate/internal/common"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/schema"
	"github.com/toolgate/toolgate/internal/transport"
)

// newToolServer starts an in-process tool server with a get_questions and a
// search_products tool.
func newToolServer(t *testing.T) *httptest.Server {
	t.Helper()

	mcpServer := server.NewMCPServer("test-tools", "0.0.1")

	mcpServer.AddTool(
		mcp.NewTool("get_questions",
			mcp.WithDescription("Fetch one question by id"),
			mcp.WithString("id", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id := req.GetString("id", "")
			return mcp.NewToolResultText(fmt.Sprintf(`{"id":%q,"question":"why"}`, id)), nil
		},
	)

	mcpServer.AddTool(
		mcp.NewTool("search_products",
			mcp.WithDescription("Search the product catalog"),
			mcp.WithString("query", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(`[]`), nil
		},
	)

	ts := server.NewTestStreamableHTTPServer(mcpServer)
	t.Cleanup(ts.Close)
	return ts
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Proxy.Responses = map[string]config.ResponseShape{
		"/get_questions/{id}": {Type: "dict", Name: "Question"},
		"/search_products":    {Type: "list", ChildType: "dict", Name: "Products"},
		"/no_such_tool/{x}":   {Type: "dict"},
	}
	return cfg
}

func newTestRegistry(t *testing.T, cfg *config.Config, lister ServerLister) *Registry {
	t.Helper()
	logger := common.NewSilentLogger()
	pools := transport.NewManager(logger, transport.Options{})
	t.Cleanup(func() { pools.CloseAll() })
	return New(cfg, lister, pools, logger)
}

func TestEnsureTenantBuildsFunctions(t *testing.T) {
	ts := newToolServer(t)
	lister := &staticLister{servers: []RemoteServer{{Name: "catalog", BaseURL: ts.URL}}}
	reg := newTestRegistry(t, testConfig(), lister)

	state, err := reg.EnsureTenant(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("EnsureTenant: %v", err)
	}

	if len(state.Functions) != 2 {
		t.Fatalf("expected 2 functions (unmatched mapping skipped), got %d", len(state.Functions))
	}

	byPath := make(map[string]RoutableFunction)
	for _, fn := range state.Functions {
		byPath[fn.Path] = fn
	}

	get, ok := byPath["/get_questions/{id}"]
	if !ok {
		t.Fatal("missing /get_questions/{id}")
	}
	if get.Method != "GET" {
		t.Errorf("method = %q, want GET for a templated path", get.Method)
	}
	if get.FunctionName != "get_questions" {
		t.Errorf("function name = %q", get.FunctionName)
	}
	if get.Summary != "Fetch one question by id" {
		t.Errorf("summary = %q", get.Summary)
	}
	if get.Metadata.SourceServer != "catalog" || !get.Metadata.IsRemoteTool {
		t.Errorf("metadata = %+v", get.Metadata)
	}

	var idParam *schema.Parameter
	for i := range get.Parameters {
		if get.Parameters[i].Name == "id" {
			idParam = &get.Parameters[i]
		}
	}
	if idParam == nil {
		t.Fatal("id parameter missing")
	}
	if idParam.In != schema.InPath {
		t.Errorf("id in = %q, want path", idParam.In)
	}
	if !idParam.Required {
		t.Error("id should be required")
	}

	search, ok := byPath["/search_products"]
	if !ok {
		t.Fatal("missing /search_products")
	}
	if search.Method != "POST" {
		t.Errorf("method = %q, want POST for a variable-free path", search.Method)
	}
	for _, p := range search.Parameters {
		if p.In != schema.InBody {
			t.Errorf("parameter %s in = %q, want body", p.Name, p.In)
		}
	}

	binding := state.BindingFor("get_questions")
	if binding == nil {
		t.Fatal("no binding serves get_questions")
	}
	if binding.ServerName != "catalog" {
		t.Errorf("binding server = %q", binding.ServerName)
	}
	if state.BindingFor("unknown_tool") != nil {
		t.Error("unexpected binding for unknown tool")
	}
}

func TestEnsureTenantCachesState(t *testing.T) {
	ts := newToolServer(t)
	lister := &staticLister{servers: []RemoteServer{{Name: "catalog", BaseURL: ts.URL}}}
	reg := newTestRegistry(t, testConfig(), lister)

	first, err := reg.EnsureTenant(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("first EnsureTenant: %v", err)
	}
	second, err := reg.EnsureTenant(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("second EnsureTenant: %v", err)
	}

	if first.Generation != second.Generation {
		t.Error("second call rebuilt state instead of hitting the cache")
	}
	if lister.calls != 1 {
		t.Errorf("lister calls = %d, want 1", lister.calls)
	}
}

func TestEnsureTenantRequiresTenantID(t *testing.T) {
	reg := newTestRegistry(t, testConfig(), &staticLister{})

	_, err := reg.EnsureTenant(context.Background(), "")
	if err == nil {
		t.Fatal("expected error for empty tenant id")
	}
	var de *DiscoveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DiscoveryError, got %T", err)
	}
}

func TestEnsureTenantDoesNotCacheFailures(t *testing.T) {
	ts := newToolServer(t)
	lister := &flakyLister{
		failures: 1,
		servers:  []RemoteServer{{Name: "catalog", BaseURL: ts.URL}},
	}
	reg := newTestRegistry(t, testConfig(), lister)

	_, err := reg.EnsureTenant(context.Background(), "tenant-1")
	if err == nil {
		t.Fatal("expected discovery failure")
	}
	var de *DiscoveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DiscoveryError, got %T: %v", err, err)
	}
	if de.TenantID != "tenant-1" {
		t.Errorf("error tenant = %q", de.TenantID)
	}

	state, err := reg.EnsureTenant(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("recovery attempt failed: %v", err)
	}
	if len(state.Functions) == 0 {
		t.Error("recovered state has no functions")
	}
}

func TestInternalServerInstantiation(t *testing.T) {
	cfg := testConfig()
	cfg.Discovery.Internal = config.InternalServerConfig{
		BaseURL:     "https://tools.example.com/{tenant_id}/mcp",
		BearerToken: "secret",
		Headers:     map[string]string{"X-Env": "test"},
	}
	reg := newTestRegistry(t, cfg, nil)

	srv := reg.internalServer("tenant-9")
	if srv == nil {
		t.Fatal("expected internal server")
	}
	if srv.Name != "internal" {
		t.Errorf("name = %q", srv.Name)
	}
	if srv.BaseURL != "https://tools.example.com/tenant-9/mcp" {
		t.Errorf("base url = %q", srv.BaseURL)
	}
	if srv.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("authorization = %q", srv.Headers["Authorization"])
	}
	if srv.Headers["X-Env"] != "test" {
		t.Errorf("x-env = %q", srv.Headers["X-Env"])
	}
}

func TestExtractPathVariables(t *testing.T) {
	cases := []struct {
		path string
		want []string
	}{
		{"/get_questions/{id}", []string{"id"}},
		{"/a/{x}/b/{y}", []string{"x", "y"}},
		{"/plain", nil},
	}
	for _, tc := range cases {
		got := ExtractPathVariables(tc.path)
		if len(got) != len(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.path, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("%s: got %v, want %v", tc.path, got, tc.want)
			}
		}
	}
}

// staticLister counts calls so tests can observe memoization.
type staticLister struct {
	servers []RemoteServer
	calls   int
}

func (s *staticLister) ListServers(ctx context.Context, tenantID string) ([]RemoteServer, error) {
	s.calls++
	return s.servers, nil
}

// flakyLister fails the first n calls, then behaves like staticLister.
type flakyLister struct {
	failures int
	servers  []RemoteServer
}

func (f *flakyLister) ListServers(ctx context.Context, tenantID string) ([]RemoteServer, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("registry service unavailable")
	}
	return f.servers, nil
}
