package openapi

import (
	"strings"
)

// FlatField is one leaf of a flattened object schema.
type FlatField struct {
	// Key is the parameter name exposed to callers.
	Key string
	// Path is the property path from the body root to the leaf.
	Path []string
	// Type is the leaf's declared type; "string" when none is declared.
	Type string
	// Required reports whether the leaf's immediate parent requires it.
	Required bool
	// ParentOptional reports whether some enclosing object on the path is
	// itself optional, making Required conditional on that object being sent.
	ParentOptional bool
	// Schema is the resolved leaf schema.
	Schema Schema
}

// FlatSchema maps flat keys to their leaves.
type FlatSchema map[string]FlatField

// Flatten walks a resolved object schema and returns one leaf per scalar,
// array or opaque property. Nested objects with properties are elided from
// the key space: their leaves are addressed by the full path joined with "_".
// Arrays are never descended into. Non-object input yields an empty result.
func Flatten(s Schema) FlatSchema {
	out := FlatSchema{}
	if KindOf(s) != KindObject {
		return out
	}
	flattenInto(out, s, nil, false)
	return out
}

func flattenInto(out FlatSchema, parent Schema, path []string, parentOptional bool) {
	required := make(map[string]bool)
	for _, name := range RequiredNames(parent) {
		required[name] = true
	}

	props := Properties(parent)
	for _, name := range sortedKeys(props) {
		prop := asSchema(props[name])
		if prop == nil {
			prop = Schema{}
		}
		childPath := make([]string, len(path)+1)
		copy(childPath, path)
		childPath[len(path)] = name

		kind := KindOf(prop)
		if kind == KindObject {
			flattenInto(out, prop, childPath, parentOptional || !required[name])
			continue
		}

		field := FlatField{
			Key:            uniqueKey(out, SanitizeParam(strings.Join(childPath, "_"))),
			Path:           childPath,
			Type:           leafType(prop, kind),
			Required:       required[name],
			ParentOptional: parentOptional,
			Schema:         prop,
		}
		out[field.Key] = field
	}
}

func leafType(s Schema, kind Kind) string {
	switch kind {
	case KindArray:
		return "array"
	case KindOpaqueObject:
		return "object"
	case KindScalar:
		return TypeOf(s)
	}
	_, oneOf := s["oneOf"]
	_, anyOf := s["anyOf"]
	if oneOf || anyOf {
		return "object"
	}
	return "string"
}

// uniqueKey disambiguates keys that sanitize to the same name
// ("a_b" and a.b both become a_b).
func uniqueKey(out FlatSchema, key string) string {
	return withSuffix(key, func(candidate string) bool {
		_, taken := out[candidate]
		return taken
	})
}

// Unflatten rebuilds a nested object from flat values. Only supplied keys
// appear in the output. Keys missing from flat are assigned at the root.
func Unflatten(values map[string]any, flat FlatSchema) map[string]any {
	out := make(map[string]any)
	for _, key := range sortedKeys(values) {
		value := values[key]
		field, ok := flat[key]
		if !ok || len(field.Path) == 0 {
			out[key] = value
			continue
		}
		cur := out
		for _, seg := range field.Path[:len(field.Path)-1] {
			next, ok := cur[seg].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[seg] = next
			}
			cur = next
		}
		cur[field.Path[len(field.Path)-1]] = value
	}
	return out
}

// FlattenInstance projects a nested value onto flat keys. It is the inverse
// of Unflatten for instances whose leaves are all described by flat.
func FlattenInstance(data map[string]any, flat FlatSchema) map[string]any {
	out := make(map[string]any)
	for key, field := range flat {
		var cur any = data
		found := true
		for _, seg := range field.Path {
			m, ok := cur.(map[string]any)
			if !ok {
				found = false
				break
			}
			if cur, ok = m[seg]; !ok {
				found = false
				break
			}
		}
		if found {
			out[key] = cur
		}
	}
	return out
}
