// Package gateway is the single entry point tying resolution and execution
// together: a path plus arguments in, a tool's text result out.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/toolgate/toolgate/internal/common"
	"github.com/toolgate/toolgate/internal/engine"
	"github.com/toolgate/toolgate/internal/openapi"
	"github.com/toolgate/toolgate/internal/registry"
	"github.com/toolgate/toolgate/internal/router"
)

// ErrPathRequired reports a dispatch with an empty path.
var ErrPathRequired = errors.New("request path is required")

// Gateway dispatches tenant requests to the right function or, for the
// document path, to the OpenAPI writer.
type Gateway struct {
	registry *registry.Registry
	router   *router.Router
	engine   *engine.Engine
	writer   *openapi.Writer
	logger   *common.Logger
}

// New wires a gateway from its collaborators.
func New(reg *registry.Registry, rt *router.Router, eng *engine.Engine, writer *openapi.Writer, logger *common.Logger) *Gateway {
	return &Gateway{
		registry: reg,
		router:   rt,
		engine:   eng,
		writer:   writer,
		logger:   logger,
	}
}

// Dispatch resolves path for the tenant and invokes the matched function
// with args merged with the captured path variables. Path variables win on
// key collision. A path containing "openapi.yaml" short-circuits to the
// document writer and never consults the route table.
func (g *Gateway) Dispatch(ctx context.Context, tenantID, path string, args map[string]any) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: tenant %s", ErrPathRequired, tenantID)
	}

	if strings.Contains(path, "openapi.yaml") {
		return g.Document(ctx, tenantID)
	}

	match, err := g.router.Resolve(ctx, tenantID, path)
	if err != nil {
		return "", err
	}

	merged := make(map[string]any, len(args)+len(match.PathVariables))
	for k, v := range args {
		merged[k] = v
	}
	for k, v := range match.PathVariables {
		merged[k] = v
	}

	g.logger.Debug().
		Str("tenant", tenantID).
		Str("path", path).
		Str("function", match.FunctionName).
		Msg("dispatching request")

	return g.engine.Invoke(ctx, tenantID, engine.Call{
		FunctionName: match.FunctionName,
		Arguments:    merged,
	})
}

// BatchCall is one entry of a batch dispatch.
type BatchCall struct {
	Path      string
	Arguments map[string]any
}

// DispatchBatch resolves every call's path, then hands the batch to the
// execution engine. Resolution failures are fatal up front; execution
// failure semantics follow the engine's batch mode.
func (g *Gateway) DispatchBatch(ctx context.Context, tenantID string, calls []BatchCall) ([]engine.Result, error) {
	resolved := make([]engine.Call, 0, len(calls))
	for _, c := range calls {
		if c.Path == "" {
			return nil, fmt.Errorf("%w: tenant %s", ErrPathRequired, tenantID)
		}
		match, err := g.router.Resolve(ctx, tenantID, c.Path)
		if err != nil {
			return nil, err
		}

		merged := make(map[string]any, len(c.Arguments)+len(match.PathVariables))
		for k, v := range c.Arguments {
			merged[k] = v
		}
		for k, v := range match.PathVariables {
			merged[k] = v
		}
		resolved = append(resolved, engine.Call{FunctionName: match.FunctionName, Arguments: merged})
	}

	return g.engine.InvokeMany(ctx, tenantID, resolved)
}

// Document renders the tenant's OpenAPI document.
func (g *Gateway) Document(ctx context.Context, tenantID string) (string, error) {
	functions, err := g.registry.Functions(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return g.writer.Generate(tenantID, functions)
}
