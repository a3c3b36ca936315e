package mcp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/bobmcallan/vire-openapi-mcp/internal/config"
	"github.com/bobmcallan/vire-openapi-mcp/internal/tools"
)

// Handler is the HTTP handler for the MCP endpoint.
// It wraps mcp-go's StreamableHTTPServer and keeps the server's tool list in
// step with the registry's active tools.
type Handler struct {
	server     *mcpserver.MCPServer
	streamable *mcpserver.StreamableHTTPServer
	registry   *tools.Registry
	logger     *common.Logger
	metrics    *Metrics
	manageName string
	groups     []tools.GroupInfo
}

// NewHandler creates the MCP server, registers the management tool and the
// registry's active tools, and subscribes to registry changes. A registry
// with no groups (spec unavailable) yields a server with only the
// management tool.
func NewHandler(cfg *config.Config, registry *tools.Registry, logger *common.Logger, metrics *Metrics) *Handler {
	if metrics == nil {
		metrics = NewMetrics()
	}
	manageName := cfg.MCP.ManageToolName
	if manageName == "" {
		manageName = DefaultManageToolName
	}
	name := cfg.MCP.Name
	if name == "" {
		name = "vire-openapi-mcp"
	}

	mcpSrv := mcpserver.NewMCPServer(
		name,
		common.GetVersion(),
		mcpserver.WithToolCapabilities(true),
	)

	h := &Handler{
		server:     mcpSrv,
		registry:   registry,
		logger:     logger,
		metrics:    metrics,
		manageName: manageName,
		groups:     registry.Groups(),
	}

	active := registry.ActiveGroups()
	current := registry.Tools()
	mcpSrv.AddTool(ManageTool(manageName, h.groups, active), ManageToolHandler(registry, logger))
	if len(current) > 0 {
		mcpSrv.AddTools(h.serverTools(current)...)
	}
	metrics.SetActive(len(active), len(current))
	registry.SetNotifier(h)

	h.streamable = mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithStateLess(cfg.MCP.Stateless),
	)

	logger.Info().
		Int("groups", len(h.groups)).
		Int("active_groups", len(active)).
		Int("tools", len(current)).
		Str("manage_tool", manageName).
		Msg("MCP handler initialized")

	return h
}

// MCPServer returns the underlying server, for stdio transport and tests.
func (h *Handler) MCPServer() *mcpserver.MCPServer {
	return h.server
}

// Registry returns the tool registry the handler serves.
func (h *Handler) Registry() *tools.Registry {
	return h.registry
}

// ServeHTTP delegates to the mcp-go StreamableHTTPServer.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.streamable.ServeHTTP(w, r)
}

// ToolsChanged mirrors a registry change onto the server. The whole tool
// list is replaced in one call so sessions see a single
// notifications/tools/list_changed per change.
func (h *Handler) ToolsChanged(_ context.Context, change tools.Change) {
	set := make([]mcpserver.ServerTool, 0, len(change.Tools)+1)
	set = append(set, mcpserver.ServerTool{
		Tool:    ManageTool(h.manageName, h.groups, change.Active),
		Handler: ManageToolHandler(h.registry, h.logger),
	})
	set = append(set, h.serverTools(change.Tools)...)
	h.server.SetTools(set...)

	h.metrics.ObserveChange()
	h.metrics.SetActive(len(change.Active), len(change.Tools))

	h.logger.Debug().
		Int("added", len(change.Added)).
		Int("removed", len(change.Removed)).
		Int("tools", len(change.Tools)).
		Msg("Tool list synchronised")
}

func (h *Handler) serverTools(list []*tools.Tool) []mcpserver.ServerTool {
	out := make([]mcpserver.ServerTool, 0, len(list))
	for _, t := range list {
		out = append(out, mcpserver.ServerTool{
			Tool:    t.Definition,
			Handler: h.toolHandler(t.Name()),
		})
	}
	return out
}

// toolHandler dispatches through the registry on every call, so a tool
// whose group was disabled fails with "tool not found" even if a client
// still holds a stale list.
func (h *Handler) toolHandler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, r mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, ok := h.registry.Lookup(name)
		if !ok {
			return errorResult(fmt.Sprintf("tool not found: %s", name)), nil
		}

		logger := h.logger.WithCorrelationId(uuid.New().String())
		start := time.Now()
		resp, err := t.Invoke(ctx, r.GetArguments())
		duration := time.Since(start)
		h.metrics.ObserveInvocation(name, outcome(err), duration)

		if err != nil {
			logger.Warn().
				Str("tool", name).
				Int64("duration_ms", duration.Milliseconds()).
				Str("error", err.Error()).
				Msg("tool invocation failed")
			return invocationError(err), nil
		}

		logger.Info().
			Str("tool", name).
			Int("status", resp.Status).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("tool invoked")
		return responseResult(resp), nil
	}
}
