package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bobmcallan/vire-openapi-mcp/internal/tools"
)

// errorResult creates an MCP error result.
func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(message),
		},
		IsError: true,
	}
}

// responseResult renders an API response as text content. JSON data is
// re-encoded with indentation; text bodies are returned as-is.
func responseResult(resp *tools.Response) *mcp.CallToolResult {
	var text string
	switch data := resp.Data.(type) {
	case nil:
		text = fmt.Sprintf("HTTP %d (no content)", resp.Status)
	case string:
		text = data
	default:
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return errorResult("failed to encode response: " + err.Error())
		}
		text = string(out)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

// invocationError renders an invocation failure for the caller. API errors
// keep their status and body.
func invocationError(err error) *mcp.CallToolResult {
	var apiErr *tools.APIError
	if errors.As(err, &apiErr) {
		return errorResult(fmt.Sprintf("Error: HTTP %d\n%s", apiErr.Status, apiErr.Body))
	}
	return errorResult("Error: " + err.Error())
}

// outcome labels an invocation result for metrics.
func outcome(err error) string {
	var apiErr *tools.APIError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, tools.ErrInvalidArguments):
		return "invalid_arguments"
	case errors.As(err, &apiErr):
		return "api_error"
	default:
		return "transport_error"
	}
}
