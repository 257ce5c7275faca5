package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/arslan70/haytham/internal/orchestrator"
	"github.com/mark3labs/mcp-go/mcp"
)

// RunTool handles the haytham_run MCP tool: it advances the orchestrator
// until the session suspends (human gate, downstream handoff) or finishes.
type RunTool struct{}

// NewRunTool creates a RunTool.
func NewRunTool() *RunTool {
	return &RunTool{}
}

// Definition returns the MCP tool definition for registration.
func (t *RunTool) Definition() mcp.Tool {
	return mcp.NewTool("haytham_run",
		mcp.WithDescription(
			"Advance the interpretation workflow. Stories are processed one at a "+
				"time in (priority, id) order; the run stops when a story blocks on "+
				"a human decision, when a story is ready for downstream design/task "+
				"generation, or when the backlog is exhausted. Every transition is "+
				"snapshot-durable, so interrupting and re-running is always safe.",
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace directory. Defaults to the discovered session root."),
		),
	)
}

// Handle processes the haytham_run tool call.
func (t *RunTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspace, err := workspaceFor(req.GetString("workspace", ""))
	if err != nil {
		return nil, err
	}

	o, err := openSession(workspace)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer o.Close()

	stage, err := o.Run()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(runSummary(o, stage)), nil
}

// runSummary renders what the run stopped on and what to do next.
func runSummary(o *orchestrator.Orchestrator, stage orchestrator.Stage) string {
	st := o.Status()
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Workflow stopped at: %s\n\n", stage)
	fmt.Fprintf(&sb, "**Progress:** %d/%d stories completed\n\n", st.StoriesCompleted, st.StoriesTotal)

	switch stage {
	case orchestrator.StageBlocked:
		req := o.PendingRequest()
		fmt.Fprintf(&sb, "Story **%s** is blocked on %d pending decision(s).\n\n", req.StoryID, len(req.Items))
		sb.WriteString("## Next Step\n\n")
		sb.WriteString("Call `haytham_pending_decision` to present the questions, then ")
		sb.WriteString("`haytham_submit_decision` with the human's choices.\n")

	case orchestrator.StageReadyForDownstream:
		fmt.Fprintf(&sb, "Story **%s** is ready for downstream design/task generation.\n\n", st.CurrentStory)
		sb.WriteString("## Next Step\n\n")
		sb.WriteString("Call `haytham_ready_story` to hand the interpreted artifact downstream, ")
		sb.WriteString("and `haytham_mark_downstream_complete` once the collaborator finishes.\n")

	case orchestrator.StageAllDone:
		sb.WriteString("All stories are completed. The session is done.\n")

	default:
		fmt.Fprintf(&sb, "Session is at stage %s.\n", stage)
	}
	return sb.String()
}
