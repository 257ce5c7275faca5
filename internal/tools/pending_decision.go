package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/arslan70/haytham/internal/gate"
	"github.com/mark3labs/mcp-go/mcp"
)

// PendingDecisionTool handles the haytham_pending_decision MCP tool.
// It exposes the Human Gate's get_pending_request operation.
type PendingDecisionTool struct{}

// NewPendingDecisionTool creates a PendingDecisionTool.
func NewPendingDecisionTool() *PendingDecisionTool {
	return &PendingDecisionTool{}
}

// Definition returns the MCP tool definition for registration.
func (t *PendingDecisionTool) Definition() mcp.Tool {
	return mcp.NewTool("haytham_pending_decision",
		mcp.WithDescription(
			"Get the active human gate request, if the session is blocked. "+
				"The request aggregates every pending question for the current story "+
				"— ambiguities, decision conflicts, and prerequisite confirmations — "+
				"into one presentation. Present all questions to the human, then call "+
				"haytham_submit_decision with their choices. Requests never expire: "+
				"a blocked story waits indefinitely by design.",
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace directory. Defaults to the discovered session root."),
		),
	)
}

// Handle processes the haytham_pending_decision tool call.
func (t *PendingDecisionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspace, err := workspaceFor(req.GetString("workspace", ""))
	if err != nil {
		return nil, err
	}

	o, err := openSession(workspace)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer o.Close()

	pending := o.PendingRequest()
	if pending == nil {
		return mcp.NewToolResultText("No pending human gate request — the session is not blocked."), nil
	}

	return mcp.NewToolResultText(renderRequest(pending)), nil
}

// renderRequest formats a gate request for presentation to the human.
func renderRequest(req *gate.Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Decisions needed for %s\n\n", req.StoryID)
	fmt.Fprintf(&sb, "**Request ID:** %s\n\n", req.ID)
	sb.WriteString("Answer every item, then call `haytham_submit_decision` with ")
	sb.WriteString("`request_id` and `choices` as item=option pairs ")
	sb.WriteString("(e.g. `AMB-S-001-scope=b`).\n")

	for _, item := range req.Items {
		fmt.Fprintf(&sb, "\n## %s (%s)\n\n%s\n\n", item.ID, item.Kind, item.Question)
		for _, opt := range item.Options {
			marker := " "
			if opt.ID == item.Recommended {
				marker = "*" // recommended default
			}
			fmt.Fprintf(&sb, "- (%s)%s %s\n", opt.ID, marker, opt.Label)
		}
	}
	return sb.String()
}
