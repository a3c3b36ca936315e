package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
)

// maxDocumentSize caps any fetched document or index page (50MB).
const maxDocumentSize = 50 << 20

// defaultMaxPages bounds index paging when no limit is configured.
const defaultMaxPages = 10

// ErrServiceNotFound is returned when an index lists no entry for the service.
var ErrServiceNotFound = errors.New("service not found in index")

// Document is a decoded specification plus the external documents its refs
// point into, keyed by the document part of the ref.
type Document struct {
	Source   string
	Root     Schema
	External map[string]Schema
}

// Resolver returns a resolver over the document and its external documents.
func (d *Document) Resolver() *Resolver {
	return NewResolver(d.Root, WithDocuments(d.External))
}

// Loader fetches specification documents over HTTP or from disk.
type Loader struct {
	client   *http.Client
	logger   *common.Logger
	maxPages int
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHTTPClient sets the client used for http and https sources.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) { l.client = c }
}

// WithMaxPages bounds how many index pages LoadFromIndex follows.
func WithMaxPages(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.maxPages = n
		}
	}
}

// NewLoader creates a Loader.
func NewLoader(logger *common.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		client:   http.DefaultClient,
		logger:   logger,
		maxPages: defaultMaxPages,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches and decodes the document at source (http, https, file URL or
// path), then fetches every external document its refs name.
func (l *Loader) Load(ctx context.Context, source string) (*Document, error) {
	data, err := l.fetch(ctx, source)
	if err != nil {
		return nil, err
	}
	root, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", source, err)
	}

	doc := &Document{Source: source, Root: root, External: make(map[string]Schema)}
	l.loadExternal(ctx, doc, root, source, map[string]bool{source: true})
	l.validate(ctx, data, root)

	l.logger.Info().
		Str("source", source).
		Int("paths", len(asSchema(root["paths"]))).
		Int("external_documents", len(doc.External)).
		Msg("Specification loaded")
	return doc, nil
}

// LoadFromIndex pages through a JSON service index, finds the entry for
// service, and loads the document it links to. Pages are followed through
// "next" links up to the configured page limit.
func (l *Loader) LoadFromIndex(ctx context.Context, indexURL, service string) (*Document, error) {
	page := indexURL
	for i := 0; i < l.maxPages && page != ""; i++ {
		data, err := l.fetch(ctx, page)
		if err != nil {
			return nil, err
		}
		var body any
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("failed to parse index page %s: %w", page, err)
		}

		entries, next := indexPage(body)
		for _, entry := range entries {
			if !matchesService(entry, service) {
				continue
			}
			link := firstString(entry, "url", "href", "spec_url", "specUrl", "openapi")
			if link == "" {
				return nil, fmt.Errorf("index entry for %q has no document link", service)
			}
			return l.Load(ctx, resolveLocation(page, link))
		}
		if next != "" {
			next = resolveLocation(page, next)
		}
		page = next
	}
	return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, service)
}

func (l *Loader) fetch(ctx context.Context, location string) ([]byte, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json, application/yaml;q=0.9, */*;q=0.5")
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", location, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("failed to fetch %s: status %d", location, resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", location, err)
		}
		if len(data) > maxDocumentSize {
			return nil, fmt.Errorf("document %s exceeds %d bytes", location, maxDocumentSize)
		}
		return data, nil
	}

	path := strings.TrimPrefix(location, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// loadExternal fetches every document named by a ref under node, once each,
// and recurses into the fetched documents. Fetch failures are logged; refs
// into a missing document resolve to empty schemas.
func (l *Loader) loadExternal(ctx context.Context, doc *Document, node Schema, base string, seen map[string]bool) {
	for _, ref := range externalRefs(node) {
		if _, done := doc.External[ref]; done {
			continue
		}
		location := resolveLocation(base, ref)
		if seen[location] {
			continue
		}
		seen[location] = true

		data, err := l.fetch(ctx, location)
		if err != nil {
			l.logger.Warn().Str("ref", ref).Err(err).Msg("External document unavailable")
			continue
		}
		external, err := Decode(data)
		if err != nil {
			l.logger.Warn().Str("ref", ref).Err(err).Msg("External document not decodable")
			continue
		}
		doc.External[ref] = external
		l.loadExternal(ctx, doc, external, location, seen)
	}
}

// validate runs kin-openapi validation on OpenAPI 3 documents. Findings are
// diagnostics only.
func (l *Loader) validate(ctx context.Context, data []byte, root Schema) {
	version := stringField(root, "openapi")
	if !strings.HasPrefix(version, "3.") {
		return
	}
	loader := openapi3.NewLoader()
	loader.Context = ctx
	loader.IsExternalRefsAllowed = false

	spec, err := loader.LoadFromData(data)
	if err == nil {
		err = spec.Validate(ctx)
	}
	if err != nil {
		l.logger.Warn().Str("openapi", version).Err(err).Msg("Specification has validation findings")
	}
}

// Decode parses a JSON or YAML document into a schema tree with string keys.
func Decode(data []byte) (Schema, error) {
	trimmed := bytes.TrimSpace(data)
	var raw any
	if bytes.HasPrefix(trimmed, []byte("{")) {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(trimmed, &raw); err != nil {
		return nil, err
	}
	root, ok := normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document root is not an object")
	}
	return root, nil
}

// normalize converts YAML's map[any]any (produced for non-string keys such
// as response codes) into map[string]any throughout the tree.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalize(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = normalize(item)
		}
		return val
	default:
		return v
	}
}

// externalRefs collects the distinct document parts of refs under node.
func externalRefs(node any) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case map[string]any:
			if ref, ok := val["$ref"].(string); ok {
				if i := strings.Index(ref, "#"); i > 0 && !seen[ref[:i]] {
					seen[ref[:i]] = true
					out = append(out, ref[:i])
				}
			}
			for _, k := range sortedKeys(val) {
				walk(val[k])
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(node)
	return out
}

// resolveLocation resolves ref relative to base, which is a URL or a path.
func resolveLocation(base, ref string) string {
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	if b, err := url.Parse(base); err == nil && (b.Scheme == "http" || b.Scheme == "https") {
		if r, err := url.Parse(ref); err == nil {
			return b.ResolveReference(r).String()
		}
	}
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(filepath.Dir(strings.TrimPrefix(base, "file://")), ref)
}

// indexPage extracts entries and the next-page link from an index page that
// is either a bare array or an object with items/data and next/links.next.
func indexPage(body any) ([]Schema, string) {
	var list []any
	var next string
	switch page := body.(type) {
	case []any:
		list = page
	case map[string]any:
		for _, key := range []string{"items", "data", "services", "apis"} {
			if l, ok := page[key].([]any); ok {
				list = l
				break
			}
		}
		next = stringField(page, "next")
		if next == "" {
			next = stringField(asSchema(page["links"]), "next")
		}
	}
	entries := make([]Schema, 0, len(list))
	for _, item := range list {
		if entry := asSchema(item); entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries, next
}

func matchesService(entry Schema, service string) bool {
	for _, key := range []string{"name", "id", "title", "service"} {
		if v := stringField(entry, key); v != "" && strings.EqualFold(v, service) {
			return true
		}
	}
	return false
}

func firstString(s Schema, keys ...string) string {
	for _, k := range keys {
		if v := stringField(s, k); v != "" {
			return v
		}
	}
	return ""
}
