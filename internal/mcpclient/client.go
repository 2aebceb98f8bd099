// Package mcpclient wraps the MCP protocol client behind a small session
// API: open, list tools, call tool, close. Tool results and tool metadata
// are normalized into value types at this boundary so downstream code never
// deals with protocol shapes.
package mcpclient

import (
	"context"
	"fmt"

	mcpgoclient "github.com/mark3labs/mcp-go/client"
	mcpgotransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolgate/toolgate/internal/common"
	"github.com/toolgate/toolgate/internal/schema"
	"github.com/toolgate/toolgate/internal/transport"
)

// Tool is the normalized view of one discovered remote tool.
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema schema.InputSchema `json:"input_schema"`
}

// Client binds one remote tool server to a shared transport pool. It is
// cheap to keep for the lifetime of a tenant; network resources live in the
// pool and in per-call sessions.
type Client struct {
	name    string
	baseURL string
	headers map[string]string
	pool    *transport.Pool
	logger  *common.Logger
}

// New creates a client for the named tool server.
// The pool is borrowed, not owned: closing the client's sessions never
// tears down pooled connections.
func New(name, baseURL string, headers map[string]string, pool *transport.Pool, logger *common.Logger) *Client {
	return &Client{
		name:    name,
		baseURL: baseURL,
		headers: headers,
		pool:    pool,
		logger:  logger,
	}
}

// Name returns the tool server's configured name.
func (c *Client) Name() string {
	return c.name
}

// BaseURL returns the tool server's base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Open establishes a protocol session: connect, initialize, ready for
// tool listing and invocation. Callers must Close the session on every
// exit path, normally via defer.
func (c *Client) Open(ctx context.Context) (*Session, error) {
	opts := []mcpgotransport.StreamableHTTPCOption{
		mcpgotransport.WithHTTPBasicClient(c.pool.HTTPClient()),
	}
	if len(c.headers) > 0 {
		opts = append(opts, mcpgotransport.WithHTTPHeaders(c.headers))
	}

	mc, err := mcpgoclient.NewStreamableHttpClient(c.baseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", c.name, err)
	}

	if err := mc.Start(ctx); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "toolgate",
		Version: common.GetVersion(),
	}
	if _, err := mc.Initialize(ctx, initReq); err != nil {
		mc.Close()
		return nil, fmt.Errorf("initialize session with %s: %w", c.name, err)
	}

	c.logger.Debug().Str("server", c.name).Msg("session opened")
	return &Session{mc: mc, server: c.name, logger: c.logger}, nil
}

// Session is a scoped protocol session on one tool server.
type Session struct {
	mc     *mcpgoclient.Client
	server string
	logger *common.Logger
}

// ListTools fetches the server's tool list in normalized form.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	res, err := s.mc.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools on %s: %w", s.server, err)
	}

	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema.InputSchema{
				Properties: t.InputSchema.Properties,
				Required:   t.InputSchema.Required,
			},
		})
	}

	s.logger.Debug().Str("server", s.server).Int("tools", len(tools)).Msg("tools listed")
	return tools, nil
}

// CallTool invokes the named tool and returns the first text content item
// of the result, the canonical result form for REST republication.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any) (string, error) {
	s.logger.Debug().Str("server", s.server).Str("tool", name).Msg("calling tool")

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	res, err := s.mc.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call tool %s on %s: %w", name, s.server, err)
	}

	text, ok := firstText(res.Content)
	if res.IsError {
		if ok {
			return "", fmt.Errorf("tool %s failed: %s", name, text)
		}
		return "", fmt.Errorf("tool %s failed", name)
	}
	if !ok {
		return "", fmt.Errorf("tool %s returned no text content", name)
	}

	return text, nil
}

// Close terminates the session. Safe to call exactly once per Open.
func (s *Session) Close() error {
	return s.mc.Close()
}

// firstText extracts the first text content item from a tool result.
func firstText(content []mcp.Content) (string, bool) {
	for _, item := range content {
		if tc, ok := mcp.AsTextContent(item); ok {
			return tc.Text, true
		}
	}
	return "", false
}
