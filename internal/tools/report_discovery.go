package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ReportDiscoveryTool handles the haytham_report_discovery MCP tool:
// the downstream collaborator reports a technical discovery (a missing
// capability, an infeasible approach) instead of completing the story.
type ReportDiscoveryTool struct{}

// NewReportDiscoveryTool creates a ReportDiscoveryTool.
func NewReportDiscoveryTool() *ReportDiscoveryTool {
	return &ReportDiscoveryTool{}
}

// Definition returns the MCP tool definition for registration.
func (t *ReportDiscoveryTool) Definition() mcp.Tool {
	return mcp.NewTool("haytham_report_discovery",
		mcp.WithDescription(
			"Report a technical discovery made while processing a story "+
				"downstream. The workflow suspends on a human decision: add a "+
				"follow-up task, change the approach and reinterpret, or skip "+
				"the discovery and complete as planned.",
		),
		mcp.WithString("story_id",
			mcp.Required(),
			mcp.Description("ID of the story currently processing downstream, e.g. S-001."),
		),
		mcp.WithString("detail",
			mcp.Required(),
			mcp.Description("What was discovered, in one or two sentences."),
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace directory. Defaults to the discovered session root."),
		),
	)
}

// Handle processes the haytham_report_discovery tool call.
func (t *ReportDiscoveryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storyID, err := req.RequireString("story_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := req.RequireString("detail")
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

	if err := o.ReportDownstreamFailure(storyID, detail); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	pending := o.PendingRequest()
	return mcp.NewToolResultText(renderRequest(pending)), nil
}
