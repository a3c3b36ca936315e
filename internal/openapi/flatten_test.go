package openapi

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func widgetBody() Schema {
	return Schema{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"config": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"ocpus": map[string]any{"type": "integer"},
				},
			},
		},
	}
}

func TestFlatten_NestedKeysAndPaths(t *testing.T) {
	s := Schema{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{
				"type":       "object",
				"properties": map[string]any{"b": map[string]any{"type": "string"}},
			},
			"c": map[string]any{"type": "string"},
		},
	}

	flat := Flatten(s)

	require.Len(t, flat, 2)
	assert.Equal(t, []string{"a", "b"}, flat["a_b"].Path)
	assert.Equal(t, []string{"c"}, flat["c"].Path)
	assert.Equal(t, "string", flat["a_b"].Type)
}

func TestFlatten_RoundTrip(t *testing.T) {
	s := Schema{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{
				"type":       "object",
				"properties": map[string]any{"b": map[string]any{"type": "string"}},
			},
			"c": map[string]any{"type": "string"},
		},
	}
	flat := Flatten(s)

	got := Unflatten(map[string]any{"a_b": "v", "c": "w"}, flat)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": "v"}, "c": "w"}, got)
}

func TestFlatten_ArraysAreLeaves(t *testing.T) {
	s := Schema{
		"type": "object",
		"properties": map[string]any{
			"tags": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"key":   map[string]any{"type": "string"},
						"value": map[string]any{"type": "object", "properties": map[string]any{"x": map[string]any{"type": "string"}}},
					},
				},
			},
		},
	}

	flat := Flatten(s)
	require.Len(t, flat, 1)
	assert.Equal(t, "array", flat["tags"].Type)
	assert.Equal(t, []string{"tags"}, flat["tags"].Path)
}

func TestFlatten_LeafTypes(t *testing.T) {
	s := Schema{
		"type": "object",
		"properties": map[string]any{
			"untyped":  map[string]any{"description": "anything"},
			"metadata": map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
			"choice":   map[string]any{"oneOf": []any{map[string]any{"type": "string"}, map[string]any{"type": "integer"}}},
			"count":    map[string]any{"type": "integer"},
		},
	}

	flat := Flatten(s)
	assert.Equal(t, "string", flat["untyped"].Type)
	assert.Equal(t, "object", flat["metadata"].Type)
	assert.Equal(t, "object", flat["choice"].Type)
	assert.Equal(t, "integer", flat["count"].Type)
}

func TestFlatten_RequiredFromImmediateParent(t *testing.T) {
	flat := Flatten(Schema{
		"type": "object",
		"properties": map[string]any{
			"shape": map[string]any{
				"type":       "object",
				"required":   []any{"ocpus"},
				"properties": map[string]any{"ocpus": map[string]any{"type": "integer"}},
			},
		},
	})

	field := flat["shape_ocpus"]
	assert.True(t, field.Required)
	assert.True(t, field.ParentOptional)
}

func TestFlatten_NonObjectIsEmpty(t *testing.T) {
	assert.Empty(t, Flatten(Schema{"type": "array", "items": map[string]any{"type": "string"}}))
	assert.Empty(t, Flatten(Schema{"type": "string"}))
	assert.Empty(t, Flatten(nil))
}

func TestFlatten_SanitizedKeyCollision(t *testing.T) {
	flat := Flatten(Schema{
		"type": "object",
		"properties": map[string]any{
			"a b": map[string]any{"type": "string"},
			"a_b": map[string]any{"type": "string"},
		},
	})

	require.Len(t, flat, 2)
	assert.Equal(t, []string{"a b"}, flat["a_b"].Path)
	assert.Equal(t, []string{"a_b"}, flat["a_b_2"].Path)
}

func TestFlatten_LongKeyCollisionStaysWithinLimit(t *testing.T) {
	long := strings.Repeat("x", 70)
	flat := Flatten(Schema{
		"type": "object",
		"properties": map[string]any{
			long + "a": map[string]any{"type": "string"},
			long + "b": map[string]any{"type": "string"},
		},
	})

	require.Len(t, flat, 2)
	first := strings.Repeat("x", maxNameLength)
	second := strings.Repeat("x", maxNameLength-2) + "_2"
	assert.Equal(t, []string{long + "a"}, flat[first].Path)
	assert.Equal(t, []string{long + "b"}, flat[second].Path)
	for key := range flat {
		assert.LessOrEqual(t, len(key), maxNameLength)
	}
}

func TestUnflatten_PartialAndUnknownKeys(t *testing.T) {
	flat := Flatten(widgetBody())

	got := Unflatten(map[string]any{"name": "w1", "extra": true}, flat)
	assert.Equal(t, map[string]any{"name": "w1", "extra": true}, got)

	got = Unflatten(map[string]any{"name": "w1", "config_ocpus": 4}, flat)
	assert.Equal(t, map[string]any{"name": "w1", "config": map[string]any{"ocpus": 4}}, got)
}

// objectGen builds object schemas together with a conforming instance whose
// leaves are all scalars or arrays.
func objectGen(depth int) *rapid.Generator[[2]map[string]any] {
	return rapid.Custom(func(t *rapid.T) [2]map[string]any {
		props := map[string]any{}
		instance := map[string]any{}
		n := rapid.IntRange(1, 4).Draw(t, "props")
		for i := 0; i < n; i++ {
			name := rapid.StringMatching(`[a-z]{1,4}`).Draw(t, "name")
			if _, dup := props[name]; dup {
				continue
			}
			kind := rapid.IntRange(0, 3).Draw(t, "kind")
			if depth <= 0 && kind == 3 {
				kind = 0
			}
			switch kind {
			case 0:
				props[name] = map[string]any{"type": "string"}
				instance[name] = rapid.String().Draw(t, "value")
			case 1:
				props[name] = map[string]any{"type": "integer"}
				instance[name] = rapid.Int().Draw(t, "value")
			case 2:
				props[name] = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
				instance[name] = []any{rapid.String().Draw(t, "item")}
			default:
				pair := objectGen(depth - 1).Draw(t, "child")
				props[name] = pair[0]
				instance[name] = pair[1]
			}
		}
		return [2]map[string]any{{"type": "object", "properties": props}, instance}
	})
}

func TestFlatten_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pair := objectGen(3).Draw(t, "schema")
		schema, instance := pair[0], pair[1]

		flat := Flatten(schema)
		got := Unflatten(FlattenInstance(instance, flat), flat)

		if fmt.Sprint(got) != fmt.Sprint(instance) {
			t.Fatalf("round trip mismatch:\n got %v\nwant %v", got, instance)
		}
	})
}
