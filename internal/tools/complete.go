package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// CompleteTool handles the haytham_mark_downstream_complete MCP tool:
// the acknowledgement half of the downstream handoff interface.
type CompleteTool struct{}

// NewCompleteTool creates a CompleteTool.
func NewCompleteTool() *CompleteTool {
	return &CompleteTool{}
}

// Definition returns the MCP tool definition for registration.
func (t *CompleteTool) Definition() mcp.Tool {
	return mcp.NewTool("haytham_mark_downstream_complete",
		mcp.WithDescription(
			"Acknowledge that the downstream collaborator finished the story "+
				"handed off via haytham_ready_story. The story's roles, entities, "+
				"capabilities and decisions are appended to the system-state ledger "+
				"(idempotently), the story is marked completed, and the workflow "+
				"advances to the next pending story.",
		),
		mcp.WithString("story_id",
			mcp.Required(),
			mcp.Description("ID of the story being acknowledged, e.g. S-001. Must match the story currently processing downstream."),
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace directory. Defaults to the discovered session root."),
		),
	)
}

// Handle processes the haytham_mark_downstream_complete tool call.
func (t *CompleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storyID, err := req.RequireString("story_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	workspace, err := workspaceFor(req.GetString("workspace", ""))
	if err != nil {
		return nil, err
	}

	o, err := openSession(workspace)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer o.Close()

	if err := o.MarkDownstreamComplete(storyID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	stage, err := o.Run()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(runSummary(o, stage)), nil
}
