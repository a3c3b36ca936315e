package mcp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/bobmcallan/vire-openapi-mcp/internal/tools"
)

// DefaultManageToolName is the management tool's name when none is configured.
const DefaultManageToolName = "manage_resources"

// ManageTool returns the definition of the management tool. Its description
// lists every resource group and marks the active ones.
func ManageTool(name string, groups []tools.GroupInfo, active []string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(manageDescription(groups, active)),
		mcp.WithArray("enable",
			mcp.WithStringItems(),
			mcp.Description("Resource groups to enable. Names are case-insensitive."),
		),
		mcp.WithArray("disable",
			mcp.WithStringItems(),
			mcp.Description("Resource groups to disable."),
		),
		mcp.WithBoolean("clear",
			mcp.Description("Disable every group before applying enable, so enable becomes the exact active set."),
		),
	)
}

func manageDescription(groups []tools.GroupInfo, active []string) string {
	on := make(map[string]bool, len(active))
	for _, g := range active {
		on[g] = true
	}

	var b strings.Builder
	b.WriteString("Enable or disable groups of API tools. Tools of a group appear in the tool list only while the group is enabled.\n\nResource groups:")
	if len(groups) == 0 {
		b.WriteString(" none (the API specification could not be loaded).")
	}
	for _, g := range groups {
		state := ""
		if on[g.Name] {
			state = ", enabled"
		}
		fmt.Fprintf(&b, "\n- %s (%d tools%s)", g.Name, g.Tools, state)
	}
	return b.String()
}

// ManageToolHandler applies enable/disable/clear requests to the registry.
// The result carries the summary text and a changed=<bool> line.
func ManageToolHandler(registry *tools.Registry, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, r mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := r.GetArguments()
		update := tools.Update{
			Clear:   r.GetBool("clear", false),
			Enable:  stringList(args["enable"]),
			Disable: stringList(args["disable"]),
		}
		if !update.Clear && len(update.Enable) == 0 && len(update.Disable) == 0 {
			return errorResult("Provide at least one of enable, disable or clear."), nil
		}

		res, err := registry.Apply(ctx, update)
		message := res.Message
		if err != nil {
			logger.Warn().Err(err).Msg("Active set change not persisted")
			message += " Warning: the change is active but could not be saved."
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(message),
				mcp.NewTextContent("changed=" + strconv.FormatBool(res.Changed)),
			},
		}, nil
	}
}

// stringList accepts a JSON array of strings or a comma-separated string.
func stringList(v any) []string {
	var out []string
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range val {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(val, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
