package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/bobmcallan/vire-openapi-mcp/internal/openapi"
)

// ErrInvalidArguments is returned when call arguments fail the tool's input
// schema.
var ErrInvalidArguments = errors.New("invalid arguments")

var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// keywords copied from a parameter schema into the tool input schema.
var keywords = []string{"enum", "format", "default", "minimum", "maximum"}

// Param is one entry of a tool's ordered parameter list.
type Param struct {
	Name        string
	Location    string
	Original    string
	Type        string
	Required    bool
	Description string
	Schema      openapi.Schema
}

// Tool is a compiled descriptor: its MCP definition plus everything needed
// to turn a flat argument map into an API request.
type Tool struct {
	Descriptor *openapi.ToolDescriptor
	Params     []Param
	Definition mcp.Tool

	validator *jsonschema.Schema
	invoker   RequestInvoker
}

// Name returns the tool name.
func (t *Tool) Name() string { return t.Descriptor.Name }

// Group returns the resource group the tool belongs to.
func (t *Tool) Group() string { return t.Descriptor.ResourceGroup }

// Compiler turns descriptors into Tools bound to one RequestInvoker.
type Compiler struct {
	invoker  RequestInvoker
	validate bool
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithArgumentValidation toggles JSON Schema validation of call arguments.
func WithArgumentValidation(enabled bool) CompilerOption {
	return func(c *Compiler) { c.validate = enabled }
}

// NewCompiler creates a Compiler. Argument validation is on by default.
func NewCompiler(invoker RequestInvoker, opts ...CompilerOption) *Compiler {
	c := &Compiler{invoker: invoker, validate: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile builds the tool for d. Required parameters come first (non-body
// before body leaves), then optional ones.
func (c *Compiler) Compile(d *openapi.ToolDescriptor) (*Tool, error) {
	if d == nil || d.Name == "" {
		return nil, fmt.Errorf("descriptor has no name")
	}

	params := orderedParams(d)
	opts := []mcp.ToolOption{mcp.WithDescription(d.Description)}
	for _, p := range params {
		opts = append(opts, paramOption(p))
	}

	t := &Tool{
		Descriptor: d,
		Params:     params,
		Definition: mcp.NewTool(d.Name, opts...),
		invoker:    c.invoker,
	}

	if c.validate {
		validator, err := compileInputSchema(t.Definition)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", d.Name, err)
		}
		t.validator = validator
	}
	return t, nil
}

func orderedParams(d *openapi.ToolDescriptor) []Param {
	var all []Param
	for _, p := range d.Parameters {
		binding := d.ParamMap[p.Name]
		all = append(all, Param{
			Name:        p.Name,
			Location:    binding.Location,
			Original:    binding.Original,
			Type:        openapi.NormalizeType(p.Type),
			Required:    p.Required,
			Description: p.Description,
			Schema:      p.Schema,
		})
	}

	if len(d.Body) > 0 {
		desc, _ := d.Body["description"].(string)
		if desc == "" {
			desc = "Request body, sent as given."
		}
		all = append(all, Param{
			Name:        openapi.BodyParam,
			Location:    openapi.LocationBody,
			Original:    openapi.BodyParam,
			Type:        openapi.NormalizeType(openapi.BodyType(d.Body)),
			Required:    d.BodyRequired,
			Description: desc,
			Schema:      d.Body,
		})
	}

	keys := make([]string, 0, len(d.FlatSchema))
	for k := range d.FlatSchema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		field := d.FlatSchema[k]
		desc, _ := field.Schema["description"].(string)
		required := field.Required
		if required && field.ParentOptional && len(field.Path) > 1 {
			// The parent may be omitted as a whole, so the leaf cannot be
			// required by the input schema.
			required = false
			note := fmt.Sprintf("Required when %s is supplied.", strings.Join(field.Path[:len(field.Path)-1], "."))
			desc = strings.TrimSpace(desc + " " + note)
		}
		all = append(all, Param{
			Name:        k,
			Location:    openapi.LocationBodyFlat,
			Original:    strings.Join(field.Path, "."),
			Type:        openapi.NormalizeType(field.Type),
			Required:    required,
			Description: desc,
			Schema:      field.Schema,
		})
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Required && !all[j].Required })
	return all
}

// paramOption maps a Param to the matching mcp-go tool option.
func paramOption(p Param) mcp.ToolOption {
	opts := []mcp.PropertyOption{schemaKeywords(p.Schema)}
	if p.Description != "" {
		opts = append(opts, mcp.Description(p.Description))
	}
	if p.Required {
		opts = append(opts, mcp.Required())
	}

	switch p.Type {
	case "integer":
		return mcp.WithNumber(p.Name, append(opts, integerType)...)
	case "number":
		return mcp.WithNumber(p.Name, opts...)
	case "boolean":
		return mcp.WithBoolean(p.Name, opts...)
	case "array":
		if items, ok := p.Schema["items"].(map[string]any); ok {
			opts = append(opts, mcp.Items(sanitize(items)))
		} else {
			opts = append(opts, mcp.WithStringItems())
		}
		return mcp.WithArray(p.Name, opts...)
	case "object":
		return mcp.WithObject(p.Name, opts...)
	default:
		return mcp.WithString(p.Name, opts...)
	}
}

func integerType(schema map[string]any) {
	schema["type"] = "integer"
}

func schemaKeywords(src openapi.Schema) mcp.PropertyOption {
	return func(schema map[string]any) {
		for _, k := range keywords {
			if v, ok := src[k]; ok {
				schema[k] = v
			}
		}
	}
}

// sanitize copies a schema, keeping it compilable as JSON Schema 2020-12:
// document-only types become strings, and OpenAPI 3.0 boolean exclusive
// bounds, boolean required flags and regex keywords are dropped.
func sanitize(s map[string]any) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		switch k {
		case "pattern", "patternProperties":
			continue
		case "enum", "default", "example", "examples", "const":
			out[k] = v
			continue
		case "properties", "$defs", "definitions":
			if m, ok := v.(map[string]any); ok {
				named := make(map[string]any, len(m))
				for name, sub := range m {
					named[name] = sanitizeValue(sub)
				}
				out[k] = named
				continue
			}
		case "exclusiveMinimum", "exclusiveMaximum", "required":
			if _, isBool := v.(bool); isBool {
				continue
			}
		case "type":
			if t, ok := v.(string); ok {
				out[k] = openapi.NormalizeType(t)
				continue
			}
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return sanitize(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func compileInputSchema(def mcp.Tool) (*jsonschema.Schema, error) {
	data, err := json.Marshal(def.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode input schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("input.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add input schema: %w", err)
	}
	schema, err := c.Compile("input.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile input schema: %w", err)
	}
	return schema, nil
}

// Validate checks args against the tool's input schema. It is a no-op when
// validation is disabled.
func (t *Tool) Validate(args map[string]any) error {
	if t.validator == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := t.validator.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// BuildRequest turns flat arguments into a Request. Body leaves are
// re-nested, an opaque body is sent as given, path placeholders are
// substituted, header parameters become headers, and everything else is
// sent as query under its original name. Null arguments are treated as
// absent.
func (t *Tool) BuildRequest(args map[string]any) (*Request, error) {
	d := t.Descriptor
	path := d.Path
	query := url.Values{}
	header := http.Header{}
	bodyFlat := make(map[string]any)
	var body any

	names := make([]string, 0, len(args))
	for name, v := range args {
		if v != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		value := args[name]
		binding, ok := d.ParamMap[name]
		if !ok {
			binding = openapi.ParamBinding{Location: "query", Original: name}
		}

		if binding.Location == openapi.LocationBodyFlat {
			bodyFlat[name] = value
			continue
		}
		if binding.Location == openapi.LocationBody {
			body = value
			continue
		}
		if binding.Location == "header" {
			header.Set(binding.Original, formatValue(value))
			continue
		}
		if placeholder := "{" + binding.Original + "}"; strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(formatValue(value)))
			continue
		}
		addQuery(query, binding.Original, value)
	}

	if missing := placeholderPattern.FindAllStringSubmatch(path, -1); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = m[1]
		}
		return nil, fmt.Errorf("%w: missing path parameter(s) %s", ErrInvalidArguments, strings.Join(names, ", "))
	}

	req := &Request{
		Method: strings.ToUpper(d.Method),
		Path:   path,
		Query:  query,
		Header: header,
	}
	if body != nil {
		req.Body = body
	} else if len(bodyFlat) > 0 {
		req.Body = openapi.Unflatten(bodyFlat, d.FlatSchema)
	}
	return req, nil
}

// Invoke validates args, builds the request and hands it to the invoker.
// The invoker's response and error are returned unchanged.
func (t *Tool) Invoke(ctx context.Context, args map[string]any) (*Response, error) {
	present := make(map[string]any, len(args))
	for k, v := range args {
		if v != nil {
			present[k] = v
		}
	}
	if err := t.Validate(present); err != nil {
		return nil, err
	}
	req, err := t.BuildRequest(present)
	if err != nil {
		return nil, err
	}
	return t.invoker.Invoke(ctx, req)
}

func addQuery(q url.Values, name string, v any) {
	if list, ok := v.([]any); ok {
		for _, item := range list {
			q.Add(name, formatValue(item))
		}
		return
	}
	q.Add(name, formatValue(v))
}

// formatValue renders an argument for a path, query or header position.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}
