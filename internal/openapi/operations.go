package openapi

import (
	"slices"
	"sort"
	"strings"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
)

// Methods lists the HTTP methods that produce operations, in build order.
var Methods = []string{"get", "post", "put", "patch", "delete"}

// responseCodes is the preference order for picking an operation's response.
var responseCodes = []string{"200", "201", "202", "204"}

// ParameterSpec is one resolved operation parameter.
type ParameterSpec struct {
	Name        string
	In          string
	Type        string
	Required    bool
	Description string
	Schema      Schema
}

// OperationMeta describes one (path, method) pair of the document.
type OperationMeta struct {
	OperationID   string
	Method        string
	Path          string
	Summary       string
	Description   string
	Deprecated    bool
	Parameters    []ParameterSpec
	RequestBody   Schema
	BodyRequired  bool
	Response      Schema
	ResourceGroup string
}

// BuildOperations extracts one OperationMeta per (path, method) from the
// resolver's root document, keyed by operation id. Duplicate ids are logged
// and the later operation wins.
func BuildOperations(r *Resolver, logger *common.Logger) map[string]*OperationMeta {
	ops := make(map[string]*OperationMeta)
	paths := asSchema(r.Root()["paths"])

	for _, path := range sortedKeys(paths) {
		item := r.Resolve(paths[path])
		shared := resolveParameters(r, item["parameters"])

		for _, method := range Methods {
			node := asSchema(item[method])
			if node == nil {
				continue
			}
			op := buildOperation(r, path, method, node, shared)
			if prev, dup := ops[op.OperationID]; dup && logger != nil {
				logger.Warn().
					Str("operation_id", op.OperationID).
					Str("previous", strings.ToUpper(prev.Method)+" "+prev.Path).
					Str("replacement", strings.ToUpper(op.Method)+" "+op.Path).
					Msg("Duplicate operationId, later operation replaces earlier")
			}
			ops[op.OperationID] = op
		}
	}
	return ops
}

func buildOperation(r *Resolver, path, method string, node Schema, shared []Schema) *OperationMeta {
	op := &OperationMeta{
		OperationID:   stringField(node, "operationId"),
		Method:        method,
		Path:          path,
		Summary:       stringField(node, "summary"),
		Description:   stringField(node, "description"),
		Deprecated:    boolField(node, "deprecated"),
		ResourceGroup: ResourceGroup(path),
	}
	if op.OperationID == "" {
		op.OperationID = method + "_" + path
	}

	for _, p := range mergeParameters(shared, resolveParameters(r, node["parameters"])) {
		spec := parameterSpec(p)
		if spec.In == "body" && op.RequestBody == nil {
			op.RequestBody = spec.Schema
			op.BodyRequired = spec.Required
		}
		op.Parameters = append(op.Parameters, spec)
	}

	if rb, ok := node["requestBody"]; ok {
		resolved := r.Resolve(rb)
		if schema := mediaSchema(resolved); schema != nil {
			op.RequestBody = schema
			op.BodyRequired = boolField(resolved, "required")
		}
	}

	op.Response = Schema{}
	responses := asSchema(node["responses"])
	for _, code := range responseCodes {
		raw, ok := responses[code]
		if !ok {
			continue
		}
		resp := r.Resolve(raw)
		if schema := asSchema(resp["schema"]); schema != nil {
			op.Response = schema
		} else if schema := mediaSchema(resp); schema != nil {
			op.Response = schema
		}
		break
	}
	return op
}

func resolveParameters(r *Resolver, raw any) []Schema {
	list, _ := raw.([]any)
	out := make([]Schema, 0, len(list))
	for _, p := range list {
		if resolved := r.Resolve(p); stringField(resolved, "name") != "" {
			out = append(out, resolved)
		}
	}
	return out
}

// mergeParameters applies operation parameters over path-level ones with the
// same (name, in).
func mergeParameters(shared, own []Schema) []Schema {
	key := func(p Schema) string { return stringField(p, "in") + "\x00" + stringField(p, "name") }
	merged := make([]Schema, 0, len(shared)+len(own))
	index := make(map[string]int)
	for _, p := range append(append([]Schema{}, shared...), own...) {
		if i, ok := index[key(p)]; ok {
			merged[i] = p
			continue
		}
		index[key(p)] = len(merged)
		merged = append(merged, p)
	}
	return merged
}

// parameterSpec reads an OpenAPI 3 parameter (type under schema) or a
// Swagger 2 parameter (type inline).
func parameterSpec(p Schema) ParameterSpec {
	spec := ParameterSpec{
		Name:        stringField(p, "name"),
		In:          stringField(p, "in"),
		Required:    boolField(p, "required"),
		Description: stringField(p, "description"),
		Schema:      asSchema(p["schema"]),
	}
	if spec.Schema == nil {
		spec.Schema = Schema{}
		for _, k := range []string{"type", "items", "enum", "format", "default", "minimum", "maximum"} {
			if v, ok := p[k]; ok {
				spec.Schema[k] = v
			}
		}
	}
	spec.Type = stringField(p, "type")
	if spec.Type == "" {
		spec.Type = TypeOf(spec.Schema)
	}
	if spec.In == "path" {
		spec.Required = true
	}
	return spec
}

// mediaSchema returns the schema of the JSON media type under content,
// falling back to any other media type that carries a schema.
func mediaSchema(node Schema) Schema {
	content := asSchema(node["content"])
	if len(content) == 0 {
		return nil
	}
	candidates := []string{"application/json"}
	keys := sortedKeys(content)
	for _, k := range keys {
		if k != "application/json" && strings.Contains(k, "json") {
			candidates = append(candidates, k)
		}
	}
	candidates = append(candidates, keys...)
	for _, k := range candidates {
		if schema := asSchema(asSchema(content[k])["schema"]); schema != nil {
			return schema
		}
	}
	return nil
}

// ResourceGroup returns the first non-empty segment of path, or "unknown".
func ResourceGroup(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			return seg
		}
	}
	return "unknown"
}

// ServerURL derives the API base URL from servers[0] (OpenAPI 3) or from
// schemes, host and basePath (Swagger 2). Server variables are replaced by
// their defaults. It returns "" when the document names no server.
func ServerURL(doc Schema) string {
	if servers, ok := doc["servers"].([]any); ok && len(servers) > 0 {
		server := asSchema(servers[0])
		u := stringField(server, "url")
		vars := asSchema(server["variables"])
		for _, name := range sortedKeys(vars) {
			if def, ok := asSchema(vars[name])["default"]; ok {
				u = strings.ReplaceAll(u, "{"+name+"}", toString(def))
			}
		}
		return strings.TrimRight(u, "/")
	}

	host := stringField(doc, "host")
	if host == "" {
		return ""
	}
	scheme := "https"
	if schemes, ok := doc["schemes"].([]any); ok && len(schemes) > 0 {
		names := make([]string, 0, len(schemes))
		for _, s := range schemes {
			if name, ok := s.(string); ok {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		// Prefer https when offered.
		if len(names) > 0 && !slices.Contains(names, "https") {
			scheme = names[0]
		}
	}
	return strings.TrimRight(scheme+"://"+host+stringField(doc, "basePath"), "/")
}
