// Package registry materializes per-tenant tool state: it resolves the
// tenant's remote servers, discovers their tools through scoped protocol
// sessions, translates tool signatures into routable functions, and binds
// one long-lived client per server for later invocation. Every step is
// memoized; assembled tenant state is cached with lazy TTL expiry.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/cache"
	"github.com/toolgate/toolgate/internal/common"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/mcpclient"
	"github.com/toolgate/toolgate/internal/schema"
	"github.com/toolgate/toolgate/internal/transport"
)

// internalServerName is the reserved name of the configured internal tool server.
const internalServerName = "internal"

// pathVarPattern matches {name} placeholders in path templates.
var pathVarPattern = regexp.MustCompile(`\{(\w+)\}`)

// tenantEntry pairs cached tenant state with its advisory expiry.
type tenantEntry struct {
	state  *TenantState
	expiry time.Time
}

// Registry owns all tenant state. Construct one per process and inject it
// into the router and execution engine; there is no ambient global state.
type Registry struct {
	cfg    *config.Config
	lister ServerLister
	pools  *transport.Manager
	steps  *cache.Cache
	logger *common.Logger
	ttl    time.Duration

	mu      sync.RWMutex
	tenants map[string]tenantEntry
}

// New creates a registry. The lister supplies each tenant's remote server
// list; pools supplies the shared transport.
func New(cfg *config.Config, lister ServerLister, pools *transport.Manager, logger *common.Logger) *Registry {
	ttl := time.Duration(cfg.Proxy.CacheTTLSecs) * time.Second
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Registry{
		cfg:     cfg,
		lister:  lister,
		pools:   pools,
		steps:   cache.New(ttl, 4096),
		logger:  logger,
		ttl:     ttl,
		tenants: make(map[string]tenantEntry),
	}
}

// EnsureTenant returns the tenant's state, building and caching it on first
// use. Idempotent and safe to call on every request. Concurrent first
// requests for the same tenant may duplicate discovery work; the last
// writer wins and all writers observe a fully built state. Any step
// failing aborts the whole call with a *DiscoveryError and caches nothing.
func (r *Registry) EnsureTenant(ctx context.Context, tenantID string) (*TenantState, error) {
	if tenantID == "" {
		return nil, &DiscoveryError{TenantID: tenantID, Err: fmt.Errorf("tenant id is required")}
	}

	r.mu.RLock()
	entry, ok := r.tenants[tenantID]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiry) {
		return entry.state, nil
	}

	state, err := r.buildTenant(ctx, tenantID)
	if err != nil {
		return nil, &DiscoveryError{TenantID: tenantID, Err: err}
	}

	r.mu.Lock()
	r.tenants[tenantID] = tenantEntry{state: state, expiry: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	r.logger.Info().
		Str("tenant", tenantID).
		Int("servers", len(state.Servers)).
		Int("functions", len(state.Functions)).
		Msg("tenant state materialized")

	return state, nil
}

// Functions returns the finalized routable function list for a tenant.
// This is the contract the OpenAPI document writer depends on.
func (r *Registry) Functions(ctx context.Context, tenantID string) ([]RoutableFunction, error) {
	state, err := r.EnsureTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return state.Functions, nil
}

// buildTenant runs the discovery pipeline. Each step is memoized under a
// composite key so repeated rebuilds within the TTL skip remote work.
func (r *Registry) buildTenant(ctx context.Context, tenantID string) (*TenantState, error) {
	servers, err := r.resolveServers(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	state := &TenantState{
		Generation: uuid.NewString(),
		Servers:    servers,
	}

	for _, server := range servers {
		tools, err := r.discoverTools(ctx, tenantID, server)
		if err != nil {
			return nil, err
		}

		functions := r.buildFunctions(tenantID, server, tools)
		state.Functions = append(state.Functions, functions...)

		toolNames := make([]string, 0, len(tools))
		for _, t := range tools {
			toolNames = append(toolNames, t.Name)
		}
		state.Clients = append(state.Clients, ClientBinding{
			ServerName: server.Name,
			Client:     r.clientFor(server),
			ToolNames:  toolNames,
		})

		r.logger.Info().
			Str("tenant", tenantID).
			Str("server", server.Name).
			Int("tools", len(tools)).
			Int("functions", len(functions)).
			Msg("tool server registered")
	}

	return state, nil
}

// resolveServers returns the tenant's remote server list: the discovery
// collaborator's servers plus the configured internal server with its URL
// template instantiated for the tenant. Memoized per tenant.
func (r *Registry) resolveServers(ctx context.Context, tenantID string) ([]RemoteServer, error) {
	key := cache.Key("servers", tenantID)
	if v, ok := r.steps.Get(key); ok {
		if servers, ok := v.([]RemoteServer); ok {
			return servers, nil
		}
	}

	var servers []RemoteServer
	if r.lister != nil {
		listed, err := r.lister.ListServers(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("list remote servers: %w", err)
		}
		servers = append(servers, listed...)
	}

	if internal := r.internalServer(tenantID); internal != nil {
		servers = append(servers, *internal)
	}

	r.steps.Put(key, servers)
	return servers, nil
}

// internalServer instantiates the configured internal tool server for the
// tenant, or nil when none is configured.
func (r *Registry) internalServer(tenantID string) *RemoteServer {
	ic := r.cfg.Discovery.Internal
	if ic.BaseURL == "" {
		return nil
	}

	headers := make(map[string]string, len(ic.Headers)+1)
	for k, v := range ic.Headers {
		headers[k] = v
	}
	if ic.BearerToken != "" {
		headers["Authorization"] = "Bearer " + ic.BearerToken
	}

	return &RemoteServer{
		Name:    internalServerName,
		BaseURL: strings.ReplaceAll(ic.BaseURL, "{tenant_id}", tenantID),
		Headers: headers,
	}
}

// discoverTools lists a server's tools through a scoped session.
// Memoized per tenant and canonicalized server identity, so two servers
// with identical name, URL, and headers share one entry regardless of
// header map ordering.
func (r *Registry) discoverTools(ctx context.Context, tenantID string, server RemoteServer) ([]mcpclient.Tool, error) {
	key := cache.Key("tools", tenantID, cache.Canonical(server))
	if v, ok := r.steps.Get(key); ok {
		if tools, ok := v.([]mcpclient.Tool); ok {
			return tools, nil
		}
	}

	session, err := r.clientFor(server).Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session to %s: %w", server.Name, err)
	}
	defer session.Close()

	tools, err := session.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	// Stable order for downstream cache keys and registration.
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	r.steps.Put(key, tools)
	return tools, nil
}

// clientFor materializes a tool client bound to the shared pool for the
// server's base URL.
func (r *Registry) clientFor(server RemoteServer) *mcpclient.Client {
	pool := r.pools.GetOrCreate(server.BaseURL, server.Headers)
	return mcpclient.New(server.Name, server.BaseURL, server.Headers, pool, r.logger)
}

// buildFunctions translates a server's tools into routable functions,
// driven by the response-mapping table: only mapped paths whose first
// segment names a discovered tool produce a function. Unmatched paths are
// dropped with a warning, never fatally. Memoized on the canonicalized
// tool list and mapping table.
func (r *Registry) buildFunctions(tenantID string, server RemoteServer, tools []mcpclient.Tool) []RoutableFunction {
	key := cache.Key("functions", tenantID, server.Name, cache.Canonical(tools), cache.Canonical(r.cfg.Proxy.Responses))
	if v, ok := r.steps.Get(key); ok {
		if fns, ok := v.([]RoutableFunction); ok {
			return fns
		}
	}

	byName := make(map[string]mcpclient.Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}

	// Deterministic registration order within a server.
	paths := make([]string, 0, len(r.cfg.Proxy.Responses))
	for path := range r.cfg.Proxy.Responses {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var functions []RoutableFunction
	for _, path := range paths {
		parts := strings.Split(path, "/")
		// parts[0] is the empty leading segment for well-formed paths.
		if len(parts) < 2 || parts[1] == "" {
			r.logger.Warn().Str("path", path).Str("server", server.Name).Msg("invalid mapping path, skipping")
			continue
		}

		functionName := parts[1]
		tool, ok := byName[functionName]
		if !ok {
			r.logger.Warn().
				Str("path", path).
				Str("function", functionName).
				Str("server", server.Name).
				Msg("no tool matches mapping path, skipping")
			continue
		}

		// GET iff the template declares path variables, POST otherwise.
		pathVars := ExtractPathVariables(path)
		method := "POST"
		if len(pathVars) > 0 {
			method = "GET"
		}

		functions = append(functions, RoutableFunction{
			Path:         path,
			Method:       method,
			Summary:      tool.Description,
			FunctionName: functionName,
			Parameters:   schema.Translate(tool.InputSchema, method, pathVars),
			Response:     r.cfg.Proxy.Responses[path],
			Metadata: Metadata{
				SourceServer: server.Name,
				IsRemoteTool: true,
			},
		})

		r.logger.Debug().
			Str("tenant", tenantID).
			Str("function", functionName).
			Str("path", path).
			Str("method", method).
			Msg("tool mapped to path")
	}

	r.steps.Put(key, functions)
	return functions
}

// ExtractPathVariables returns the {name} placeholders of a path template
// in order of appearance.
func ExtractPathVariables(path string) []string {
	matches := pathVarPattern.FindAllStringSubmatch(path, -1)
	vars := make([]string, 0, len(matches))
	for _, m := range matches {
		vars = append(vars, m[1])
	}
	return vars
}
