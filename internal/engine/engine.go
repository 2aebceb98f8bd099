// Package engine executes resolved function calls against their bound tool
// servers, either one at a time or as a fanned-out batch.
package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/toolgate/toolgate/internal/common"
	"github.com/toolgate/toolgate/internal/registry"
)

// ErrUnsupportedFunction reports a call naming a function no client
// binding serves. Raised before any transport activity.
var ErrUnsupportedFunction = errors.New("unsupported function")

// Call is one unit of work: a function name plus its merged arguments.
type Call struct {
	FunctionName string
	Arguments    map[string]any
}

// Result is the outcome of one call. Exactly one of Text and Err is
// meaningful.
type Result struct {
	Text string
	Err  error
}

// Engine invokes functions through the registry's client bindings.
type Engine struct {
	registry   *registry.Registry
	concurrent bool
	limit      int
	logger     *common.Logger
}

// New creates an engine. When concurrent is true, batches fan out with at
// most limit calls in flight; otherwise batches run sequentially and stop
// at the first failure.
func New(reg *registry.Registry, concurrent bool, limit int, logger *common.Logger) *Engine {
	if limit <= 0 {
		limit = 1
	}
	return &Engine{
		registry:   reg,
		concurrent: concurrent,
		limit:      limit,
		logger:     logger,
	}
}

// Invoke executes one call and returns the tool's text result. The binding
// lookup happens before any session is opened, so an unknown function never
// touches the network.
func (e *Engine) Invoke(ctx context.Context, tenantID string, call Call) (string, error) {
	state, err := e.registry.EnsureTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return e.invoke(ctx, state, call)
}

// InvokeMany executes a batch of calls for one tenant.
//
// Concurrent mode is fail-soft: every call runs to completion, the returned
// slice always has one Result per call in input order, and per-call failures
// land in their slot without cancelling siblings. Sequential mode is
// fail-fast: the first failure stops the batch and is returned alongside the
// results gathered so far.
func (e *Engine) InvokeMany(ctx context.Context, tenantID string, calls []Call) ([]Result, error) {
	state, err := e.registry.EnsureTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if !e.concurrent {
		return e.invokeSequential(ctx, state, calls)
	}
	return e.invokeConcurrent(ctx, state, calls)
}

func (e *Engine) invokeSequential(ctx context.Context, state *registry.TenantState, calls []Call) ([]Result, error) {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		text, err := e.invoke(ctx, state, call)
		if err != nil {
			return results, err
		}
		results = append(results, Result{Text: text})
	}
	return results, nil
}

func (e *Engine) invokeConcurrent(ctx context.Context, state *registry.TenantState, calls []Call) ([]Result, error) {
	results := make([]Result, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)
	for i, call := range calls {
		g.Go(func() error {
			text, err := e.invoke(gctx, state, call)
			if err != nil {
				e.logger.Warn().
					Str("function", call.FunctionName).
					Str("error", err.Error()).
					Msg("batch call failed")
				results[i] = Result{Err: err}
				return nil
			}
			results[i] = Result{Text: text}
			return nil
		})
	}
	// Member funcs never return an error, so Wait only flushes the group.
	_ = g.Wait()

	return results, nil
}

// invoke runs one call against its bound server through a scoped session.
func (e *Engine) invoke(ctx context.Context, state *registry.TenantState, call Call) (string, error) {
	binding := state.BindingFor(call.FunctionName)
	if binding == nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFunction, call.FunctionName)
	}

	session, err := binding.Client.Open(ctx)
	if err != nil {
		return "", err
	}
	defer session.Close()

	e.logger.Debug().
		Str("server", binding.ServerName).
		Str("function", call.FunctionName).
		Msg("invoking function")

	return session.CallTool(ctx, call.FunctionName, call.Arguments)
}
