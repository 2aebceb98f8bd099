package mcpclient

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolgate/toolgate/internal/common"
	"github.com/toolgate/toolgate/internal/transport"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	mcpServer := server.NewMCPServer("test-tools", "0.0.1")
	mcpServer.AddTool(
		mcp.NewTool("greet",
			mcp.WithDescription("Say hello"),
			mcp.WithString("name", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("hello " + req.GetString("name", "")), nil
		},
	)
	mcpServer.AddTool(
		mcp.NewTool("always_fails", mcp.WithDescription("Always fails")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("it broke"), nil
		},
	)
	ts := server.NewTestStreamableHTTPServer(mcpServer)
	t.Cleanup(ts.Close)

	logger := common.NewSilentLogger()
	pools := transport.NewManager(logger, transport.Options{})
	t.Cleanup(func() { pools.CloseAll() })

	return New("test-tools", ts.URL, nil, pools.GetOrCreate(ts.URL, nil), logger)
}

func TestListTools(t *testing.T) {
	c := newTestClient(t)

	session, err := c.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close()

	tools, err := session.ListTools(context.Background())
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools", len(tools))
	}

	byName := make(map[string]Tool)
	for _, tool := range tools {
		byName[tool.Name] = tool
	}
	greet, ok := byName["greet"]
	if !ok {
		t.Fatal("missing greet tool")
	}
	if greet.Description != "Say hello" {
		t.Errorf("description = %q", greet.Description)
	}
	if _, ok := greet.InputSchema.Properties["name"]; !ok {
		t.Error("greet schema missing name property")
	}
	if len(greet.InputSchema.Required) != 1 || greet.InputSchema.Required[0] != "name" {
		t.Errorf("required = %v", greet.InputSchema.Required)
	}
}

func TestCallTool(t *testing.T) {
	c := newTestClient(t)

	session, err := c.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close()

	text, err := session.CallTool(context.Background(), "greet", map[string]any{"name": "dev"})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if text != "hello dev" {
		t.Errorf("text = %q", text)
	}
}

func TestCallToolError(t *testing.T) {
	c := newTestClient(t)

	session, err := c.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Close()

	_, err = session.CallTool(context.Background(), "always_fails", nil)
	if err == nil {
		t.Fatal("expected tool error")
	}
}
