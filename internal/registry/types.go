package registry

import (
	"context"
	"fmt"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/mcpclient"
	"github.com/toolgate/toolgate/internal/schema"
)

// RemoteServer identifies one tool-protocol endpoint. Immutable once
// resolved for a tenant; one tenant may reference many.
type RemoteServer struct {
	Name    string            `json:"name"`
	BaseURL string            `json:"base_url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Metadata records where a routable function came from.
type Metadata struct {
	SourceServer string `json:"source_server"`
	IsRemoteTool bool   `json:"is_remote_tool"`
}

// RoutableFunction is the registry's unit of dispatch: a published path
// template bound to one remote tool. Value object, shared read-only
// between registry, router, and execution engine.
type RoutableFunction struct {
	Path         string               `json:"path"` // template, may contain {var}
	Method       string               `json:"method"`
	Summary      string               `json:"summary"`
	FunctionName string               `json:"function_name"`
	Parameters   []schema.Parameter   `json:"parameters"`
	Response     config.ResponseShape `json:"response"`
	Metadata     Metadata             `json:"metadata"`
}

// ClientBinding pairs a long-lived tool client with the tool names it serves.
type ClientBinding struct {
	ServerName string
	Client     *mcpclient.Client
	ToolNames  []string
}

// Serves reports whether the binding's server exposes the named tool.
func (b ClientBinding) Serves(name string) bool {
	for _, t := range b.ToolNames {
		if t == name {
			return true
		}
	}
	return false
}

// TenantState is the per-tenant memoized bundle. It is rebuilt atomically:
// no partially updated state is ever observable. Generation changes on
// every rebuild so downstream memoizers can invalidate.
type TenantState struct {
	Generation string
	Servers    []RemoteServer
	Functions  []RoutableFunction
	Clients    []ClientBinding
}

// BindingFor returns the client binding serving the named function, or nil.
func (s *TenantState) BindingFor(functionName string) *ClientBinding {
	for i := range s.Clients {
		if s.Clients[i].Serves(functionName) {
			return &s.Clients[i]
		}
	}
	return nil
}

// ServerLister is the boundary with the remote-discovery collaborator.
// Failures from this boundary are fatal to EnsureTenant.
type ServerLister interface {
	ListServers(ctx context.Context, tenantID string) ([]RemoteServer, error)
}

// DiscoveryError reports that a tenant's server list or a tool list could
// not be obtained. EnsureTenant writes no partial state when it occurs.
type DiscoveryError struct {
	TenantID string
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed for tenant %s: %v", e.TenantID, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }
