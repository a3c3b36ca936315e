package openapi

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// LocationBodyFlat marks a parameter that feeds the reconstructed request
// body rather than the path, query or headers.
const LocationBodyFlat = "body_flat"

// LocationBody marks the single parameter carrying a request body that has
// no properties to flatten. Its value is sent unchanged.
const LocationBody = "body"

// BodyParam is the exposed name of the opaque body parameter.
const BodyParam = "body"

// ParamBinding records where an exposed parameter goes on the outbound
// request and the name it had in the document.
type ParamBinding struct {
	Location string
	Original string
}

// ToolDescriptor is the externally exposed shape of one operation.
type ToolDescriptor struct {
	Name          string
	OperationID   string
	Description   string
	Method        string
	Path          string
	ResourceGroup string
	// FlatSchema holds the flattened request body leaves.
	FlatSchema FlatSchema
	// Body is set instead of FlatSchema when the request body is an array,
	// a composition or a free-form object.
	Body         Schema
	BodyRequired bool
	// Parameters holds the non-body parameters under their exposed names.
	Parameters []ParameterSpec
	// OutputSchema keeps only the required fields of the response schema.
	OutputSchema Schema
	// ParamMap binds every exposed parameter name to its request location.
	ParamMap map[string]ParamBinding
}

// BuildTools derives one descriptor per operation, skipping deprecated
// operations and, when allowed is non-empty, operations whose resource group
// is not in allowed (case-insensitive). Descriptors are ordered by name.
func BuildTools(ops map[string]*OperationMeta, allowed []string) []*ToolDescriptor {
	allow := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		if name = strings.TrimSpace(name); name != "" {
			allow[strings.ToLower(name)] = true
		}
	}

	ids := make([]string, 0, len(ops))
	for id := range ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	names := make(map[string]bool, len(ops))
	tools := make([]*ToolDescriptor, 0, len(ops))
	for _, id := range ids {
		op := ops[id]
		if IsDeprecated(op) {
			continue
		}
		if len(allow) > 0 && !allow[strings.ToLower(op.ResourceGroup)] {
			continue
		}
		d := NewToolDescriptor(op)
		d.Name = uniqueName(names, d.Name)
		names[d.Name] = true
		tools = append(tools, d)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// IsDeprecated reports whether an operation is flagged deprecated or its
// description starts with "Deprecated".
func IsDeprecated(op *OperationMeta) bool {
	if op.Deprecated {
		return true
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(op.Description)), "deprecated")
}

// NewToolDescriptor builds the descriptor for a single operation. Body leaves
// win over path, query or header parameters that expose the same name.
func NewToolDescriptor(op *OperationMeta) *ToolDescriptor {
	d := &ToolDescriptor{
		Name:          SanitizeName(op.OperationID),
		OperationID:   op.OperationID,
		Method:        op.Method,
		Path:          op.Path,
		ResourceGroup: op.ResourceGroup,
		FlatSchema:    Flatten(op.RequestBody),
		OutputSchema:  SimplifyOutput(op.Response),
		ParamMap:      make(map[string]ParamBinding),
	}
	if d.Name == "" {
		d.Name = SanitizeName(op.Method + "_" + op.Path)
	}

	for key, field := range d.FlatSchema {
		d.ParamMap[key] = ParamBinding{Location: LocationBodyFlat, Original: strings.Join(field.Path, ".")}
	}
	if len(op.RequestBody) > 0 && KindOf(op.RequestBody) != KindObject {
		d.Body = op.RequestBody
		d.BodyRequired = op.BodyRequired
		d.ParamMap[BodyParam] = ParamBinding{Location: LocationBody, Original: BodyParam}
	}
	for _, p := range op.Parameters {
		if p.In == "body" {
			continue
		}
		exposed := SanitizeParam(p.Name)
		if _, taken := d.ParamMap[exposed]; taken {
			continue
		}
		d.ParamMap[exposed] = ParamBinding{Location: p.In, Original: p.Name}
		p.Name = exposed
		d.Parameters = append(d.Parameters, p)
	}

	d.Description = describe(op, d.OutputSchema)
	return d
}

// BodyType is the parameter type exposed for an opaque body: arrays and
// scalars keep their type, anything else is an object.
func BodyType(s Schema) string {
	switch KindOf(s) {
	case KindArray:
		return "array"
	case KindScalar:
		return TypeOf(s)
	}
	return "object"
}

func uniqueName(taken map[string]bool, name string) string {
	return withSuffix(name, func(candidate string) bool { return taken[candidate] })
}

// withSuffix returns name, or name with the first free "_N" suffix. The
// base is cut so the result stays within maxNameLength.
func withSuffix(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}
	for i := 2; ; i++ {
		suffix := "_" + strconv.Itoa(i)
		base := name
		if len(base)+len(suffix) > maxNameLength {
			base = base[:maxNameLength-len(suffix)]
		}
		if candidate := base + suffix; !taken(candidate) {
			return candidate
		}
	}
}

func describe(op *OperationMeta, output Schema) string {
	var parts []string
	if op.Summary != "" {
		parts = append(parts, op.Summary)
	}
	if op.Description != "" && op.Description != op.Summary {
		parts = append(parts, op.Description)
	}
	if len(parts) == 0 {
		parts = append(parts, strings.ToUpper(op.Method)+" "+op.Path)
	}
	if shape := ShapeOf(output); shape != nil {
		if data, err := json.Marshal(shape); err == nil {
			parts = append(parts, "Returns: "+string(data))
		}
	}
	return strings.Join(parts, "\n\n")
}

// SimplifyOutput keeps only the required properties of s, recursively.
// Arrays keep a simplified items schema.
func SimplifyOutput(s Schema) Schema {
	switch KindOf(s) {
	case KindObject:
		out := Schema{"type": "object"}
		props := Properties(s)
		kept := make(map[string]any)
		var required []any
		for _, name := range RequiredNames(s) {
			p, ok := props[name]
			if !ok {
				continue
			}
			kept[name] = SimplifyOutput(asSchema(p))
			required = append(required, name)
		}
		if len(kept) > 0 {
			out["properties"] = kept
			out["required"] = required
		}
		return out
	case KindOpaqueObject:
		return Schema{"type": "object"}
	case KindArray:
		out := Schema{"type": "array"}
		if items := asSchema(s["items"]); items != nil {
			out["items"] = SimplifyOutput(items)
		}
		return out
	case KindScalar:
		return Schema{"type": TypeOf(s)}
	}
	return Schema{}
}

// ShapeOf renders a simplified schema as an example-like value: objects as
// maps of field shapes, arrays as a one-element list, scalars as their type
// name. Empty schemas render as nil.
func ShapeOf(s Schema) any {
	switch KindOf(s) {
	case KindObject:
		shape := make(map[string]any)
		for name, p := range Properties(s) {
			if sub := ShapeOf(asSchema(p)); sub != nil {
				shape[name] = sub
			} else {
				shape[name] = "any"
			}
		}
		return shape
	case KindOpaqueObject:
		return "object"
	case KindArray:
		if item := ShapeOf(asSchema(s["items"])); item != nil {
			return []any{item}
		}
		return "array"
	case KindScalar:
		return TypeOf(s)
	}
	return nil
}
