// Package router matches inbound request paths against a tenant's
// registered function set. Templates are compiled once per tenant state
// generation; resolutions are memoized per (tenant, path).
package router

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/cache"
	"github.com/toolgate/toolgate/internal/common"
	"github.com/toolgate/toolgate/internal/registry"
)

// ErrRouteNotFound reports that no path template matched. It is a routing
// miss, not a failure: callers decide how to report it.
var ErrRouteNotFound = errors.New("no route matched")

// pathVarPattern matches {name} placeholders in path templates.
var pathVarPattern = regexp.MustCompile(`\{(\w+)\}`)

// Match is a successful resolution: the function to invoke and the
// variables captured from the path.
type Match struct {
	FunctionName  string
	PathVariables map[string]string
}

// notFound is the memoized negative resolution.
type notFound struct{}

// matcher is one compiled path template.
type matcher struct {
	functionName string
	re           *regexp.Regexp
}

// compiledSet is a tenant's compiled template list, tied to the tenant
// state generation it was built from.
type compiledSet struct {
	generation string
	matchers   []matcher
}

// Router resolves paths to function names for a tenant.
type Router struct {
	registry *registry.Registry
	memo     *cache.Cache
	logger   *common.Logger

	mu       sync.Mutex
	compiled map[string]*compiledSet
}

// New creates a router over the given registry. ttl bounds how long
// (tenant, path) resolutions are memoized; templates themselves are stable
// for a tenant state's lifetime.
func New(reg *registry.Registry, ttl time.Duration, logger *common.Logger) *Router {
	return &Router{
		registry: reg,
		memo:     cache.New(ttl, 8192),
		logger:   logger,
		compiled: make(map[string]*compiledSet),
	}
}

// Resolve matches path against the tenant's function set in registration
// order and returns the first full match. Order is significant: it is the
// deliberate tie-break when templates overlap. A miss returns an error
// wrapping ErrRouteNotFound that names the path.
func (rt *Router) Resolve(ctx context.Context, tenantID, path string) (*Match, error) {
	state, err := rt.registry.EnsureTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	memoKey := cache.Key("route", tenantID, state.Generation, path)
	if v, ok := rt.memo.Get(memoKey); ok {
		switch m := v.(type) {
		case *Match:
			return m, nil
		case notFound:
			return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, path)
		}
	}

	set := rt.compiledFor(tenantID, state)
	for _, m := range set.matchers {
		groups := m.re.FindStringSubmatch(path)
		if groups == nil {
			continue
		}

		vars := make(map[string]string)
		for i, name := range m.re.SubexpNames() {
			if i > 0 && name != "" {
				vars[name] = groups[i]
			}
		}

		match := &Match{FunctionName: m.functionName, PathVariables: vars}
		rt.memo.Put(memoKey, match)
		return match, nil
	}

	rt.memo.Put(memoKey, notFound{})
	return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, path)
}

// compiledFor returns the tenant's compiled template set, rebuilding it
// when the tenant state generation changed.
func (rt *Router) compiledFor(tenantID string, state *registry.TenantState) *compiledSet {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if set, ok := rt.compiled[tenantID]; ok && set.generation == state.Generation {
		return set
	}

	set := &compiledSet{generation: state.Generation}
	for _, fn := range state.Functions {
		re, err := CompileTemplate(fn.Path)
		if err != nil {
			rt.logger.Warn().Str("path", fn.Path).Str("error", err.Error()).Msg("unroutable path template, skipping")
			continue
		}
		set.matchers = append(set.matchers, matcher{functionName: fn.FunctionName, re: re})
	}

	rt.compiled[tenantID] = set
	return set
}

// CompileTemplate converts a path template into a full-match regexp:
// every {name} becomes a named capture of one or more non-slash
// characters, literal segments are quoted verbatim.
func CompileTemplate(template string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")

	last := 0
	for _, loc := range pathVarPattern.FindAllStringSubmatchIndex(template, -1) {
		b.WriteString(regexp.QuoteMeta(template[last:loc[0]]))
		b.WriteString("(?P<")
		b.WriteString(template[loc[2]:loc[3]])
		b.WriteString(">[^/]+)")
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(template[last:]))
	b.WriteString("$")

	return regexp.Compile(b.String())
}
