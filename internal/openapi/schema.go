// Package openapi turns an OpenAPI 3 or Swagger 2 document into tool
// descriptors: it resolves the document's type graph, extracts one
// OperationMeta per path and method, and flattens request bodies into a flat
// parameter surface that can be re-nested at call time.
package openapi

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Schema is a JSON-Schema-like node as decoded from JSON or YAML.
type Schema = map[string]any

// Kind classifies a resolved schema node.
type Kind int

const (
	// KindEmpty is a node with nothing to describe ({} or nil).
	KindEmpty Kind = iota
	// KindObject is an object with declared properties.
	KindObject
	// KindOpaqueObject is an object without declared properties.
	KindOpaqueObject
	// KindArray is an array; flattening never looks inside it.
	KindArray
	// KindScalar is a string, number, integer or boolean.
	KindScalar
)

// KindOf decides the kind of a resolved schema node once, so callers switch
// on the result rather than probing for keys.
func KindOf(s Schema) Kind {
	if len(s) == 0 {
		return KindEmpty
	}
	switch TypeOf(s) {
	case "object":
		if len(Properties(s)) > 0 {
			return KindObject
		}
		return KindOpaqueObject
	case "array":
		return KindArray
	case "":
		if len(Properties(s)) > 0 {
			return KindObject
		}
		if _, ok := s["items"]; ok {
			return KindArray
		}
		return KindEmpty
	default:
		return KindScalar
	}
}

// TypeOf returns the node's declared type. OpenAPI 3.1 type arrays such as
// ["string", "null"] yield their first non-null member.
func TypeOf(s Schema) string {
	switch t := s["type"].(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if name, ok := v.(string); ok && name != "null" {
				return name
			}
		}
	}
	return ""
}

// Properties returns the node's properties map, or nil.
func Properties(s Schema) map[string]any {
	props, _ := s["properties"].(map[string]any)
	return props
}

// RequiredNames returns the node's required list.
func RequiredNames(s Schema) []string {
	switch req := s["required"].(type) {
	case []string:
		return req
	case []any:
		names := make([]string, 0, len(req))
		for _, r := range req {
			if name, ok := r.(string); ok {
				names = append(names, name)
			}
		}
		return names
	}
	return nil
}

// asSchema returns v as a schema node, or nil when v is not an object.
func asSchema(v any) Schema {
	s, _ := v.(map[string]any)
	return s
}

func stringField(s Schema, key string) string {
	v, _ := s[key].(string)
	return v
}

func boolField(s Schema, key string) bool {
	v, _ := s[key].(bool)
	return v
}

// sortedKeys returns map keys in lexical order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// jsonTypes is the set of types a tool parameter may declare.
var jsonTypes = map[string]bool{
	"string": true, "integer": true, "number": true,
	"boolean": true, "array": true, "object": true,
}

// NormalizeType maps a declared type onto a JSON Schema type; unknown or
// missing types (including Swagger's "file") become "string".
func NormalizeType(t string) string {
	if jsonTypes[t] {
		return t
	}
	return "string"
}

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// maxNameLength is the longest tool or parameter name MCP clients accept.
const maxNameLength = 64

// SanitizeName rewrites s into the character set MCP clients accept for tool
// names, collapsing and trimming the underscores it introduces.
func SanitizeName(s string) string {
	out := invalidNameChars.ReplaceAllString(s, "_")
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, "_")
	if len(out) > maxNameLength {
		out = strings.TrimRight(out[:maxNameLength], "_")
	}
	return out
}

// SanitizeParam rewrites a parameter name into the accepted character set
// without collapsing underscores, so flat keys keep their path separators.
func SanitizeParam(s string) string {
	out := invalidNameChars.ReplaceAllString(s, "_")
	if out == "" {
		return "_"
	}
	if len(out) > maxNameLength {
		out = out[:maxNameLength]
	}
	return out
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
