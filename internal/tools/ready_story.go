package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arslan70/haytham/internal/orchestrator"
	"github.com/mark3labs/mcp-go/mcp"
)

// ReadyStoryTool handles the haytham_ready_story MCP tool: the
// get_ready_story half of the downstream handoff interface.
type ReadyStoryTool struct{}

// NewReadyStoryTool creates a ReadyStoryTool.
func NewReadyStoryTool() *ReadyStoryTool {
	return &ReadyStoryTool{}
}

// Definition returns the MCP tool definition for registration.
func (t *ReadyStoryTool) Definition() mcp.Tool {
	return mcp.NewTool("haytham_ready_story",
		mcp.WithDescription(
			"Fetch the interpreted story awaiting downstream design/task "+
				"generation, as JSON. Fetching hands the story off: the session "+
				"moves to processing_downstream and expects "+
				"haytham_mark_downstream_complete when the collaborator finishes.",
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace directory. Defaults to the discovered session root."),
		),
	)
}

// Handle processes the haytham_ready_story tool call.
func (t *ReadyStoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspace, err := workspaceFor(req.GetString("workspace", ""))
	if err != nil {
		return nil, err
	}

	o, err := openSession(workspace)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer o.Close()

	is, err := o.ReadyStory()
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotReady) {
			return mcp.NewToolResultText("No story is ready for downstream."), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.MarshalIndent(is, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling interpreted story: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
