package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bobmcallan/vire-openapi-mcp/internal/app"
	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/bobmcallan/vire-openapi-mcp/internal/config"
)

const testSpec = `
openapi: 3.0.3
paths:
  /widgets:
    get:
      operationId: listWidgets
      summary: List widgets
  /gadgets/{id}:
    delete:
      operationId: deleteGadget
      parameters:
        - {name: id, in: path, required: true, schema: {type: string}}
`

func newTestApp(t *testing.T) *app.App {
	t.Helper()

	specSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testSpec))
	}))
	t.Cleanup(specSrv.Close)

	cfg := config.NewDefaultConfig()
	cfg.Spec.URL = specSrv.URL + "/openapi.yaml"
	cfg.API.URL = "http://127.0.0.1:1"
	cfg.MCP.Stateless = true
	cfg.Storage.File.Path = filepath.Join(t.TempDir(), "enabled.json")

	application, err := app.New(context.Background(), cfg, common.NewSilentLogger())
	if err != nil {
		t.Fatalf("failed to create test app: %v", err)
	}

	t.Cleanup(func() {
		application.Close()
	})

	return application
}

func TestRoutes_HealthEndpoint(t *testing.T) {
	application := newTestApp(t)
	srv := New(application)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %s", body["status"])
	}
}

func TestRoutes_VersionEndpoint(t *testing.T) {
	application := newTestApp(t)
	srv := New(application)

	req := httptest.NewRequest("GET", "/api/version", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if _, ok := body["version"]; !ok {
		t.Error("expected version field in response")
	}
}

func TestRoutes_APINotFound(t *testing.T) {
	application := newTestApp(t)
	srv := New(application)

	req := httptest.NewRequest("GET", "/api/nonexistent", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestRoutes_CrossSiteToolsUpdateRejected(t *testing.T) {
	application := newTestApp(t)
	srv := New(application)

	req := httptest.NewRequest("POST", "/api/tools", strings.NewReader(`{"enable":["widgets"]}`))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Origin", "https://attacker.example.net")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", w.Code)
	}

	req = httptest.NewRequest("POST", "/api/tools", strings.NewReader(`{"enable":["widgets"]}`))
	req.Header.Set("Content-Type", "text/plain")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected status 415, got %d", w.Code)
	}
	if len(application.Registry.ActiveGroups()) != 0 {
		t.Errorf("no group should be enabled, got %v", application.Registry.ActiveGroups())
	}
}

func TestRoutes_ToolsListAndEnable(t *testing.T) {
	application := newTestApp(t)
	srv := New(application)

	req := httptest.NewRequest("POST", "/api/tools", strings.NewReader(`{"enable":["widgets"]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"changed":true`) {
		t.Errorf("expected changed=true, got %s", w.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/tools", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var body struct {
		Groups []struct {
			Name   string `json:"name"`
			Active bool   `json:"active"`
		} `json:"groups"`
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(body.Groups) != 2 {
		t.Errorf("expected 2 groups, got %+v", body.Groups)
	}
	if len(body.Tools) != 1 || body.Tools[0].Name != "listWidgets" {
		t.Errorf("expected listWidgets to be active, got %+v", body.Tools)
	}
}

func TestRoutes_ToolsRejectsDelete(t *testing.T) {
	application := newTestApp(t)
	srv := New(application)

	req := httptest.NewRequest("DELETE", "/api/tools", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestRoutes_StatusEndpoint(t *testing.T) {
	application := newTestApp(t)
	srv := New(application)

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"loaded":true`) {
		t.Errorf("expected loaded spec, got %s", w.Body.String())
	}
}

func TestRoutes_MetricsEndpoint(t *testing.T) {
	application := newTestApp(t)
	srv := New(application)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "vire_openapi_mcp_active_tools") {
		t.Error("expected active_tools gauge in metrics output")
	}
}

func TestRoutes_MCPEndpoint(t *testing.T) {
	application := newTestApp(t)
	srv := New(application)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "manage_resources") {
		t.Errorf("expected manage_resources in tool list, got %s", w.Body.String())
	}
}

func TestRoutes_MiddlewareApplied(t *testing.T) {
	application := newTestApp(t)
	srv := New(application)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	// Verify correlation ID middleware is applied
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected X-Correlation-ID header from middleware")
	}

	// Verify CORS middleware is applied
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header from middleware")
	}

	// Verify security headers middleware is applied
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected X-Content-Type-Options header from security middleware")
	}
}
