// Package discovery supplies tenant server lists. The HTTP lister talks to
// an external registry service; the static lister serves a fixed list and
// is what configuration-only and test setups use.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/toolgate/toolgate/internal/common"
	"github.com/toolgate/toolgate/internal/registry"
	"github.com/toolgate/toolgate/internal/transport"
)

// Client lists a tenant's servers from a remote registry service.
// GET /tenants/{id}/servers -> { status: "ok", data: [RemoteServer] }
type Client struct {
	pool   *transport.Pool
	logger *common.Logger
}

// NewClient creates a lister against the registry service URL, sharing the
// process-wide transport manager.
func NewClient(registryURL string, pools *transport.Manager, logger *common.Logger) *Client {
	return &Client{
		pool:   pools.GetOrCreate(registryURL, nil),
		logger: logger,
	}
}

// ListServers fetches the tenant's server list.
func (c *Client) ListServers(ctx context.Context, tenantID string) ([]registry.RemoteServer, error) {
	body, err := c.pool.Get(ctx, "/tenants/"+tenantID+"/servers")
	if err != nil {
		return nil, fmt.Errorf("failed to reach registry service: %w", err)
	}

	var result struct {
		Status string                  `json:"status"`
		Data   []registry.RemoteServer `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse registry response: %w", err)
	}

	c.logger.Debug().Str("tenant", tenantID).Int("servers", len(result.Data)).Msg("tenant servers listed")
	return result.Data, nil
}

// Static serves a fixed server list for every tenant.
type Static struct {
	Servers []registry.RemoteServer
}

// ListServers returns the fixed list.
func (s *Static) ListServers(ctx context.Context, tenantID string) ([]registry.RemoteServer, error) {
	return s.Servers, nil
}
