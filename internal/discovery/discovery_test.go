package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/toolgate/toolgate/internal/common"
	"github.com/toolgate/toolgate/internal/registry"
	"github.com/toolgate/toolgate/internal/transport"
)

func TestClientListServers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tenants/tenant-1/servers" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"data": []map[string]any{
				{"name": "catalog", "base_url": "https://catalog.example.com"},
				{"name": "billing", "base_url": "https://billing.example.com", "headers": map[string]string{"X-Key": "k"}},
			},
		})
	}))
	defer srv.Close()

	logger := common.NewSilentLogger()
	pools := transport.NewManager(logger, transport.Options{})
	defer pools.CloseAll()

	c := NewClient(srv.URL, pools, logger)
	servers, err := c.ListServers(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("list servers: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers", len(servers))
	}
	if servers[0].Name != "catalog" || servers[0].BaseURL != "https://catalog.example.com" {
		t.Errorf("servers[0] = %+v", servers[0])
	}
	if servers[1].Headers["X-Key"] != "k" {
		t.Errorf("servers[1] headers = %v", servers[1].Headers)
	}
}

func TestClientListServersFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such tenant", http.StatusNotFound)
	}))
	defer srv.Close()

	logger := common.NewSilentLogger()
	pools := transport.NewManager(logger, transport.Options{})
	defer pools.CloseAll()

	c := NewClient(srv.URL, pools, logger)
	if _, err := c.ListServers(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error")
	}
}

func TestStaticListServers(t *testing.T) {
	s := &Static{Servers: []registry.RemoteServer{{Name: "fixed", BaseURL: "https://fixed.example.com"}}}

	servers, err := s.ListServers(context.Background(), "anyone")
	if err != nil {
		t.Fatalf("list servers: %v", err)
	}
	if len(servers) != 1 || servers[0].Name != "fixed" {
		t.Errorf("servers = %+v", servers)
	}
}
