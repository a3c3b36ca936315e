package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/bobmcallan/vire-openapi-mcp/internal/config"
	"github.com/bobmcallan/vire-openapi-mcp/internal/openapi"
	"github.com/bobmcallan/vire-openapi-mcp/internal/storage/file"
)

const petSpec = `{
  "openapi": "3.0.3",
  "servers": [{"url": "/api/v1"}],
  "paths": {
    "/pets": {
      "get": {"operationId": "listPets", "summary": "List pets"},
      "post": {"operationId": "createPet", "summary": "Create a pet",
        "requestBody": {"content": {"application/json": {"schema": {
          "type": "object", "properties": {"name": {"type": "string"}}}}}}}
    },
    "/owners": {
      "get": {"operationId": "listOwners"}
    }
  }
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Storage.File.Path = filepath.Join(t.TempDir(), "enabled.json")
	return cfg
}

func specServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(petSpec))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_LoadsSpecification(t *testing.T) {
	srv := specServer(t)
	cfg := testConfig(t)
	cfg.Spec.URL = srv.URL + "/openapi.json"

	a, err := New(context.Background(), cfg, common.NewSilentLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if a.Document == nil {
		t.Fatal("expected document to be loaded")
	}
	groups := a.Registry.Groups()
	if len(groups) != 2 || groups[0].Name != "owners" || groups[1].Name != "pets" {
		t.Errorf("unexpected groups %+v", groups)
	}
	if a.APIURL != srv.URL+"/api/v1" {
		t.Errorf("expected relative server URL resolved against spec URL, got %s", a.APIURL)
	}
	if a.MCPHandler == nil || a.ToolsHandler == nil || a.StatusHandler == nil {
		t.Error("expected handlers to be initialized")
	}
}

func TestNew_ResourceAllowList(t *testing.T) {
	srv := specServer(t)
	cfg := testConfig(t)
	cfg.Spec.URL = srv.URL
	cfg.Spec.Resources = []string{"PETS"}

	a, err := New(context.Background(), cfg, common.NewSilentLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	groups := a.Registry.Groups()
	if len(groups) != 1 || groups[0].Name != "pets" || groups[0].Tools != 2 {
		t.Errorf("expected only pets group, got %+v", groups)
	}
}

func TestNew_SpecUnavailableIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Spec.URL = srv.URL

	a, err := New(context.Background(), cfg, common.NewSilentLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if a.Document != nil {
		t.Error("expected no document")
	}
	if len(a.Registry.Groups()) != 0 {
		t.Errorf("expected no groups, got %+v", a.Registry.Groups())
	}
	if a.MCPHandler == nil {
		t.Error("expected MCP handler to be created without a document")
	}
}

func TestNew_NoSpecSource(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), common.NewSilentLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if len(a.Registry.Tools()) != 0 {
		t.Error("expected no tools")
	}
}

func TestNew_UnknownStorageBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "postgres"

	if _, err := New(context.Background(), cfg, common.NewSilentLogger()); err == nil {
		t.Fatal("expected error for unknown storage backend")
	}
}

func TestNew_UnreachableStorageFallsBack(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "redis"
	cfg.Storage.Redis.Addr = "127.0.0.1:1"

	a, err := New(context.Background(), cfg, common.NewSilentLogger())
	if err != nil {
		t.Fatalf("an unreachable backend must not be fatal: %v", err)
	}
	defer a.Close()

	fs, ok := a.Store.(*file.Store)
	if !ok {
		t.Fatalf("expected the file store, got %T", a.Store)
	}
	if fs.Path() != cfg.Storage.File.Path {
		t.Errorf("expected fallback at %s, got %s", cfg.Storage.File.Path, fs.Path())
	}
}

func TestNew_RestoresPersistedGroups(t *testing.T) {
	srv := specServer(t)
	cfg := testConfig(t)
	cfg.Spec.URL = srv.URL

	first, err := New(context.Background(), cfg, common.NewSilentLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := first.Registry.Enable(context.Background(), "owners"); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	first.Close()

	second, err := New(context.Background(), cfg, common.NewSilentLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer second.Close()

	if _, ok := second.Registry.Lookup("listOwners"); !ok {
		t.Error("expected owners group to be restored")
	}
}

func TestAPIBaseURL(t *testing.T) {
	doc := func(source, server string) *openapi.Document {
		root := openapi.Schema{"servers": []any{map[string]any{"url": server}}}
		return &openapi.Document{Source: source, Root: root}
	}

	cases := []struct {
		name   string
		apiURL string
		doc    *openapi.Document
		want   string
	}{
		{"configured wins", "https://override.example.com/", doc("https://x/spec.json", "https://api.example.com"), "https://override.example.com"},
		{"absolute server", "", doc("https://x/spec.json", "https://api.example.com/v2/"), "https://api.example.com/v2"},
		{"relative server", "", doc("https://specs.example.com/svc/spec.json", "/v1"), "https://specs.example.com/v1"},
		{"relative server from file", "", doc("./spec.yaml", "/v1"), "/v1"},
		{"no document", "", nil, ""},
		{"no server", "", &openapi.Document{Root: openapi.Schema{}}, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			cfg.API.URL = c.apiURL
			if got := apiBaseURL(cfg, c.doc); got != c.want {
				t.Errorf("got %q, want %q", got, c.want)
			}
		})
	}
}
