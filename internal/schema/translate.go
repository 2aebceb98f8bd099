// Package schema translates JSON-Schema tool signatures into the generic
// parameter model published on routable functions. Translation is pure:
// same schema, method, and path-variable set always yields the same output.
package schema

import "sort"

// Parameter locations.
const (
	InBody  = "body"
	InPath  = "path"
	InQuery = "query"
)

// InputSchema is the normalized JSON-Schema object tree handed over by the
// tool client adapter: top-level properties plus the required-name list.
type InputSchema struct {
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required,omitempty"`
}

// Parameter is the normalized projection of one schema property.
// Object-typed parameters carry nested Properties (name and type only);
// array-typed parameters additionally carry ChildType.
type Parameter struct {
	Name        string      `json:"name"`
	In          string      `json:"in,omitempty"`
	Type        string      `json:"type"`
	Required    bool        `json:"required"`
	Description string      `json:"description,omitempty"`
	Properties  []Parameter `json:"properties,omitempty"`
	ChildType   string      `json:"child_type,omitempty"`
	Enum        []any       `json:"enum,omitempty"`
	Default     any         `json:"default,omitempty"`
}

// typeMapping maps JSON Schema types to the generic parameter types.
var typeMapping = map[string]string{
	"string":  "string",
	"number":  "float",
	"integer": "integer",
	"boolean": "boolean",
	"array":   "list",
	"object":  "dict",
}

// MapType maps a JSON Schema type name to the generic type name.
// Unknown or missing types default to "string".
func MapType(jsonType string) string {
	if mapped, ok := typeMapping[jsonType]; ok {
		return mapped
	}
	return "string"
}

// Translate converts a tool input schema into a parameter list.
// For POST-style methods every parameter lands in the body; for GET,
// properties named in pathVars become path parameters and the rest query
// parameters. Properties are emitted in name order so output is
// deterministic regardless of map iteration.
func Translate(in InputSchema, method string, pathVars []string) []Parameter {
	required := make(map[string]bool, len(in.Required))
	for _, name := range in.Required {
		required[name] = true
	}
	inPath := make(map[string]bool, len(pathVars))
	for _, name := range pathVars {
		inPath[name] = true
	}

	names := make([]string, 0, len(in.Properties))
	for name := range in.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]Parameter, 0, len(names))
	for _, name := range names {
		prop := asObject(in.Properties[name])

		var location string
		switch {
		case method != "GET":
			location = InBody
		case inPath[name]:
			location = InPath
		default:
			location = InQuery
		}

		param := Parameter{
			Name:     name,
			In:       location,
			Type:     MapType(stringField(prop, "type")),
			Required: required[name],
		}
		if desc := stringField(prop, "description"); desc != "" {
			param.Description = desc
		}

		fillCompound(&param, prop)

		if enum, ok := prop["enum"].([]any); ok {
			param.Enum = enum
		}
		if def, ok := prop["default"]; ok {
			param.Default = def
		}

		params = append(params, param)
	}

	return params
}

// fillCompound populates nested properties for objects and child types for arrays.
func fillCompound(param *Parameter, prop map[string]any) {
	switch stringField(prop, "type") {
	case "object":
		if nested, ok := prop["properties"].(map[string]any); ok {
			param.Properties = translateNested(nested)
		}
	case "array":
		items := asObject(prop["items"])
		if items == nil {
			return
		}
		param.ChildType = MapType(stringField(items, "type"))
		if stringField(items, "type") == "object" {
			if nested, ok := items["properties"].(map[string]any); ok {
				param.Properties = translateNested(nested)
			}
		}
	}
}

// translateNested recursively converts nested object properties.
// Nested parameters carry name and type only, no location.
func translateNested(properties map[string]any) []Parameter {
	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	nested := make([]Parameter, 0, len(names))
	for _, name := range names {
		prop := asObject(properties[name])
		param := Parameter{
			Name: name,
			Type: MapType(stringField(prop, "type")),
		}
		fillCompound(&param, prop)
		nested = append(nested, param)
	}
	return nested
}

// asObject returns v as a map, or nil when v is not an object node.
// Malformed schema nodes are treated as string-typed downstream.
func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
