// Package openapi renders a tenant's routable function set as an
// OpenAPI 3.1.0 document in YAML.
package openapi

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/toolgate/toolgate/internal/common"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/registry"
	"github.com/toolgate/toolgate/internal/schema"
)

// typeMapping converts the registry's generic parameter types to OpenAPI
// schema types. Unknown types fall back to string.
var typeMapping = map[string]string{
	"string":   "string",
	"integer":  "integer",
	"float":    "number",
	"boolean":  "boolean",
	"date":     "string",
	"datetime": "string",
	"list":     "array",
	"dict":     "object",
}

// MapType returns the OpenAPI schema type for a generic parameter type.
func MapType(t string) string {
	if mapped, ok := typeMapping[t]; ok {
		return mapped
	}
	return "string"
}

// Writer builds OpenAPI documents from tenant function sets.
type Writer struct {
	cfg    *config.ProxyConfig
	logger *common.Logger
}

// NewWriter creates a document writer over the proxy configuration.
func NewWriter(cfg *config.ProxyConfig, logger *common.Logger) *Writer {
	return &Writer{cfg: cfg, logger: logger}
}

// Generate renders the document for one tenant's function set. Every
// function contributes one operation under the configured path prefix with
// the tenant id instantiated.
func (w *Writer) Generate(tenantID string, functions []registry.RoutableFunction) (string, error) {
	servers := make([]map[string]any, 0, len(w.cfg.Servers))
	for _, s := range w.cfg.Servers {
		servers = append(servers, map[string]any{"url": s})
	}

	paths := make(map[string]any, len(functions))
	prefix := strings.ReplaceAll(w.cfg.PathPrefix, "{tenant_id}", tenantID)

	for _, fn := range functions {
		path := prefix + fn.Path
		method := strings.ToLower(fn.Method)

		operation := map[string]any{
			"summary":     fn.Summary,
			"operationId": fn.FunctionName,
			"parameters":  w.parameters(fn, method),
			"responses":   map[string]any{"200": w.response(fn.Response)},
		}
		if body := w.requestBody(fn, method); body != nil {
			operation["requestBody"] = body
		}

		methods, ok := paths[path].(map[string]any)
		if !ok {
			methods = make(map[string]any)
			paths[path] = methods
		}
		methods[method] = operation
	}

	doc := map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   w.cfg.Title,
			"version": w.cfg.Version,
		},
		"servers": servers,
		"paths":   paths,
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("render openapi document: %w", err)
	}

	w.logger.Debug().Str("tenant", tenantID).Int("functions", len(functions)).Msg("openapi document generated")
	return string(out), nil
}

// parameters collects the function's path and query parameters. Body
// parameters are excluded; they belong to the request body.
func (w *Writer) parameters(fn registry.RoutableFunction, method string) []map[string]any {
	params := make([]map[string]any, 0, len(fn.Parameters))
	for _, p := range fn.Parameters {
		if bodyMethod(method) && p.In == schema.InBody {
			continue
		}
		params = append(params, map[string]any{
			"name":     p.Name,
			"in":       p.In,
			"required": p.Required,
			"schema":   map[string]any{"type": MapType(p.Type)},
		})
	}
	return params
}

// requestBody assembles the JSON request body schema for body-carrying
// methods, or nil when the function has no body parameters.
func (w *Writer) requestBody(fn registry.RoutableFunction, method string) map[string]any {
	if !bodyMethod(method) {
		return nil
	}

	properties := make(map[string]any)
	for _, p := range fn.Parameters {
		if p.In != schema.InBody {
			continue
		}
		prop := map[string]any{"type": MapType(p.Type)}
		if len(p.Properties) > 0 {
			prop["properties"] = propertySchemas(p.Properties)
		}
		properties[p.Name] = prop
	}
	if len(properties) == 0 {
		return nil
	}

	return map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{
					"type":       "object",
					"properties": properties,
				},
			},
		},
	}
}

// response builds the 200 response schema from the configured shape.
// Shapes other than list and dict produce an empty response object.
func (w *Writer) response(shape config.ResponseShape) map[string]any {
	switch shape.Type {
	case "list":
		s := map[string]any{
			"type":  "array",
			"items": itemSchema(shape),
		}
		if shape.Name != "" {
			s["title"] = shape.Name
		}
		return successResponse(s)
	case "dict":
		s := map[string]any{
			"type":       "object",
			"properties": shapeProperties(shape.Properties),
		}
		if shape.Name != "" {
			s["title"] = shape.Name
		}
		return successResponse(s)
	default:
		return map[string]any{}
	}
}

func successResponse(s map[string]any) map[string]any {
	return map[string]any{
		"description": "Success",
		"content": map[string]any{
			"application/json": map[string]any{"schema": s},
		},
	}
}

// itemSchema builds the element schema of a list response.
func itemSchema(shape config.ResponseShape) map[string]any {
	childType := MapType(shape.ChildType)
	if childType == "object" && len(shape.Properties) > 0 {
		return map[string]any{
			"type":       "object",
			"properties": shapeProperties(shape.Properties),
		}
	}
	return map[string]any{"type": childType}
}

// shapeProperties converts configured response properties, recursing into
// nested objects and arrays.
func shapeProperties(props []config.ResponseProperty) map[string]any {
	result := make(map[string]any, len(props))
	for _, prop := range props {
		propType := MapType(prop.Type)
		switch {
		case propType == "array" && prop.ChildType != "":
			childType := MapType(prop.ChildType)
			items := map[string]any{"type": childType}
			if childType == "object" && len(prop.Properties) > 0 {
				items["properties"] = shapeProperties(prop.Properties)
			}
			result[prop.Name] = map[string]any{"type": "array", "items": items}
		case propType == "object" && len(prop.Properties) > 0:
			result[prop.Name] = map[string]any{
				"type":       "object",
				"properties": shapeProperties(prop.Properties),
			}
		default:
			result[prop.Name] = map[string]any{"type": propType}
		}
	}
	return result
}

// propertySchemas converts translated parameter properties, recursing the
// same way as configured shapes.
func propertySchemas(props []schema.Parameter) map[string]any {
	result := make(map[string]any, len(props))
	for _, prop := range props {
		propType := MapType(prop.Type)
		switch {
		case propType == "array" && prop.ChildType != "":
			childType := MapType(prop.ChildType)
			items := map[string]any{"type": childType}
			if childType == "object" && len(prop.Properties) > 0 {
				items["properties"] = propertySchemas(prop.Properties)
			}
			result[prop.Name] = map[string]any{"type": "array", "items": items}
		case propType == "object" && len(prop.Properties) > 0:
			result[prop.Name] = map[string]any{
				"type":       "object",
				"properties": propertySchemas(prop.Properties),
			}
		default:
			result[prop.Name] = map[string]any{"type": propType}
		}
	}
	return result
}

// bodyMethod reports whether the HTTP method carries a request body.
func bodyMethod(method string) bool {
	switch method {
	case "post", "put", "patch":
		return true
	}
	return false
}
