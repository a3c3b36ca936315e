package handlers

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/bobmcallan/vire-openapi-mcp/internal/tools"
)

// ToolCatalog is the part of the tool registry the HTTP API needs.
type ToolCatalog interface {
	Groups() []tools.GroupInfo
	Tools() []*tools.Tool
	Apply(ctx context.Context, u tools.Update) (tools.Result, error)
}

// ToolSummary describes one active tool.
type ToolSummary struct {
	Name        string `json:"name"`
	Group       string `json:"group"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// ToolsHandler exposes the resource groups and active tools, and accepts
// the same enable/disable/clear requests as the management tool.
type ToolsHandler struct {
	logger  *common.Logger
	catalog ToolCatalog
}

// NewToolsHandler creates a new tools handler.
func NewToolsHandler(logger *common.Logger, catalog ToolCatalog) *ToolsHandler {
	return &ToolsHandler{logger: logger, catalog: catalog}
}

// List handles GET /api/tools.
func (h *ToolsHandler) List(w http.ResponseWriter, r *http.Request) {
	active := h.catalog.Tools()
	summaries := make([]ToolSummary, 0, len(active))
	for _, t := range active {
		summaries = append(summaries, ToolSummary{
			Name:        t.Name(),
			Group:       t.Group(),
			Method:      t.Descriptor.Method,
			Path:        t.Descriptor.Path,
			Description: t.Descriptor.Description,
		})
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"groups": h.catalog.Groups(),
		"tools":  summaries,
	})
}

// updateRequest is the body of POST /api/tools.
type updateRequest struct {
	Enable  []string `json:"enable"`
	Disable []string `json:"disable"`
	Clear   bool     `json:"clear"`
}

// Update handles POST /api/tools. The body must be sent as application/json.
func (h *ToolsHandler) Update(w http.ResponseWriter, r *http.Request) {
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		WriteError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Clear && len(req.Enable) == 0 && len(req.Disable) == 0 {
		WriteError(w, http.StatusBadRequest, "provide at least one of enable, disable or clear")
		return
	}

	res, err := h.catalog.Apply(r.Context(), tools.Update{
		Clear:   req.Clear,
		Enable:  req.Enable,
		Disable: req.Disable,
	})
	if err != nil {
		// The change is committed even when it could not be saved.
		if h.logger != nil {
			h.logger.Warn().Err(err).Msg("Active set change not persisted")
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"result":  res,
			"warning": "the change is active but could not be saved",
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"result": res})
}
