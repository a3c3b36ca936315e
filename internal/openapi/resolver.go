package openapi

import (
	"net/url"
	"strconv"
	"strings"
)

// Resolver replaces $ref nodes with their targets and merges allOf chains,
// producing ref-free schema trees. Resolution is total: a pointer that leads
// nowhere, a malformed ref, or a ref that closes a cycle resolves to an empty
// schema instead of failing.
//
// A Resolver memoises resolved refs and is not safe for concurrent use.
type Resolver struct {
	root  Schema
	docs  map[string]Schema
	stack map[string]bool
	cache map[string]Schema
	cuts  int
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithDocuments registers external documents addressed by the document part
// of a ref ("common.yaml" in "common.yaml#/components/schemas/Id").
func WithDocuments(docs map[string]Schema) ResolverOption {
	return func(r *Resolver) {
		for name, doc := range docs {
			r.docs[name] = doc
		}
	}
}

// NewResolver creates a resolver over the given root document.
func NewResolver(root Schema, opts ...ResolverOption) *Resolver {
	if root == nil {
		root = Schema{}
	}
	r := &Resolver{
		root:  root,
		docs:  make(map[string]Schema),
		stack: make(map[string]bool),
		cache: make(map[string]Schema),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a resolved copy of node. Non-object input yields an empty
// schema.
func (r *Resolver) Resolve(node any) Schema {
	s := asSchema(r.resolveValue(node, r.root, ""))
	if s == nil {
		return Schema{}
	}
	return s
}

// Resolve resolves node against root with a throwaway Resolver.
func Resolve(node any, root Schema) Schema {
	return NewResolver(root).Resolve(node)
}

func (r *Resolver) resolveValue(v any, doc Schema, docName string) any {
	switch val := v.(type) {
	case map[string]any:
		return r.resolveNode(val, doc, docName)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.resolveValue(item, doc, docName)
		}
		return out
	default:
		return v
	}
}

func (r *Resolver) resolveNode(node Schema, doc Schema, docName string) Schema {
	if ref, ok := node["$ref"]; ok {
		refStr, ok := ref.(string)
		if !ok {
			return Schema{}
		}
		return r.resolveRef(refStr, doc, docName)
	}
	if _, ok := node["allOf"]; ok {
		return r.mergeAllOf(node, doc, docName)
	}
	out := make(Schema, len(node))
	for k, v := range node {
		out[k] = r.resolveValue(v, doc, docName)
	}
	return out
}

func (r *Resolver) resolveRef(ref string, doc Schema, docName string) Schema {
	docPart, pointer := r.splitRef(ref)
	targetDoc, targetName := doc, docName
	if docPart != "" {
		external, ok := r.docs[docPart]
		if !ok {
			return Schema{}
		}
		targetDoc, targetName = external, docPart
	} else if pointer == "" {
		return Schema{}
	}

	key := targetName + "#" + pointer
	if cached, ok := r.cache[key]; ok {
		return cached
	}
	if r.stack[key] {
		r.cuts++
		return Schema{}
	}

	r.stack[key] = true
	cutsBefore := r.cuts
	resolved := asSchema(r.resolveValue(walkPointer(targetDoc, pointer), targetDoc, targetName))
	delete(r.stack, key)

	if resolved == nil {
		resolved = Schema{}
	}
	if r.cuts == cutsBefore {
		r.cache[key] = resolved
	}
	return resolved
}

// splitRef separates a ref into its document part and pointer part. Refs
// without '#' are treated as pointers unless they name a registered document.
func (r *Resolver) splitRef(ref string) (string, string) {
	if i := strings.Index(ref, "#"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	if _, ok := r.docs[ref]; ok {
		return ref, ""
	}
	return "", ref
}

// walkPointer follows pointer segments from doc. Missing segments yield nil.
func walkPointer(doc Schema, pointer string) any {
	var cur any = doc
	for _, seg := range strings.Split(pointer, "/") {
		if seg == "" {
			continue
		}
		seg = unescapeSegment(seg)
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			cur = node[idx]
		default:
			return nil
		}
	}
	return cur
}

func unescapeSegment(seg string) string {
	if unescaped, err := url.PathUnescape(seg); err == nil {
		seg = unescaped
	}
	seg = strings.ReplaceAll(seg, "~1", "/")
	return strings.ReplaceAll(seg, "~0", "~")
}

// mergeAllOf folds allOf members into one node. Member properties are
// applied in order (last wins), required lists are unioned, and the first
// declared type is adopted when the composite has none. The composite's own
// properties and required list are applied last.
func (r *Resolver) mergeAllOf(node Schema, doc Schema, docName string) Schema {
	merged := Schema{}
	props := map[string]any{}
	var required []any
	seen := map[string]bool{}
	addRequired := func(names []string) {
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				required = append(required, name)
			}
		}
	}

	typ := TypeOf(node)
	members, _ := node["allOf"].([]any)
	for _, m := range members {
		member := asSchema(r.resolveValue(m, doc, docName))
		if member == nil {
			continue
		}
		for name, p := range Properties(member) {
			props[name] = p
		}
		addRequired(RequiredNames(member))
		if typ == "" {
			typ = TypeOf(member)
		}
		for k, v := range member {
			switch k {
			case "type", "properties", "required":
				continue
			}
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
	}

	for k, v := range node {
		switch k {
		case "allOf", "type":
			continue
		case "properties":
			own := asSchema(r.resolveValue(v, doc, docName))
			for name, p := range own {
				props[name] = p
			}
		case "required":
			addRequired(RequiredNames(Schema{"required": v}))
		default:
			merged[k] = r.resolveValue(v, doc, docName)
		}
	}

	if typ == "" && len(props) > 0 {
		typ = "object"
	}
	if typ != "" {
		merged["type"] = typ
	}
	if len(props) > 0 {
		merged["properties"] = props
	}
	if len(required) > 0 {
		merged["required"] = required
	}
	return merged
}

// Root returns the document refs without a document part resolve against.
func (r *Resolver) Root() Schema {
	return r.root
}
