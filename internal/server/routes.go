package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/toolgate/toolgate/internal/common"
	"github.com/toolgate/toolgate/internal/gateway"
	"github.com/toolgate/toolgate/internal/registry"
	"github.com/toolgate/toolgate/internal/router"
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Operational routes. Specific patterns win over the tenant wildcard.
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	// Tenant dispatch
	mux.HandleFunc("POST /{tenant}/_batch", s.handleBatch)
	mux.HandleFunc("GET /{tenant}/{path...}", s.handleDispatch)
	mux.HandleFunc("POST /{tenant}/{path...}", s.handleDispatch)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"data":   map[string]string{"version": common.GetFullVersion()},
	})
}

// handleMetrics reports the transport metrics summary per remote base URL.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"data":   s.app.Pools.AllMetrics(),
	})
}

// handleDispatch forwards a tenant request through the gateway. Arguments
// come from the query string and, for POST, the JSON body; body values win
// on key collision.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	path := "/" + r.PathValue("path")

	args := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			args[key] = values[0]
		}
	}

	if r.Method == http.MethodPost && r.Body != nil {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		for k, v := range body {
			args[k] = v
		}
	}

	result, err := s.app.Gateway.Dispatch(r.Context(), tenantID, path, args)
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}

	if strings.Contains(path, "openapi.yaml") {
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(result))
		return
	}

	writeResult(w, result)
}

// handleBatch runs several calls for one tenant in a single request.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")

	var req struct {
		Calls []struct {
			Path      string         `json:"path"`
			Arguments map[string]any `json:"arguments"`
		} `json:"calls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	calls := make([]gateway.BatchCall, 0, len(req.Calls))
	for _, c := range req.Calls {
		calls = append(calls, gateway.BatchCall{Path: c.Path, Arguments: c.Arguments})
	}

	results, err := s.app.Gateway.DispatchBatch(r.Context(), tenantID, calls)
	if err != nil && len(results) == 0 {
		s.writeDispatchError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			out = append(out, map[string]any{"error": res.Err.Error()})
			continue
		}
		out = append(out, map[string]any{"text": res.Text})
	}

	body := map[string]any{"status": "ok", "data": out}
	if err != nil {
		body["status"] = "partial"
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

// writeDispatchError maps gateway errors onto HTTP status codes.
func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	var de *registry.DiscoveryError

	switch {
	case errors.Is(err, gateway.ErrPathRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, router.ErrRouteNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &de):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeResult republishes a tool's text result. Valid JSON passes through
// verbatim; anything else is served as plain text.
func writeResult(w http.ResponseWriter, text string) {
	if json.Valid([]byte(text)) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(text))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"status": "error", "message": message})
}
