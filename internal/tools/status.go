package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusTool handles the haytham_status MCP tool.
type StatusTool struct{}

// NewStatusTool creates a StatusTool.
func NewStatusTool() *StatusTool {
	return &StatusTool{}
}

// Definition returns the MCP tool definition for registration.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("haytham_status",
		mcp.WithDescription(
			"Report the session status: current stage, the story being worked, "+
				"per-story statuses with ambiguity counts, progress counters, and "+
				"the pending gate request if the session is blocked.",
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace directory. Defaults to the discovered session root."),
		),
	)
}

// Handle processes the haytham_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspace, err := workspaceFor(req.GetString("workspace", ""))
	if err != nil {
		return nil, err
	}

	o, err := openSession(workspace)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer o.Close()

	data, err := json.MarshalIndent(o.Status(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
