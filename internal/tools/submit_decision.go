package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/arslan70/haytham/internal/gate"
	"github.com/mark3labs/mcp-go/mcp"
)

// SubmitDecisionTool handles the haytham_submit_decision MCP tool.
// It exposes the Human Gate's submit_response operation.
type SubmitDecisionTool struct{}

// NewSubmitDecisionTool creates a SubmitDecisionTool.
func NewSubmitDecisionTool() *SubmitDecisionTool {
	return &SubmitDecisionTool{}
}

// Definition returns the MCP tool definition for registration.
func (t *SubmitDecisionTool) Definition() mcp.Tool {
	return mcp.NewTool("haytham_submit_decision",
		mcp.WithDescription(
			"Submit the human's answers to the pending gate request. "+
				"Choices are item=option pairs, one per item in the request; "+
				"validation is all-or-nothing and an out-of-range option rejects the "+
				"whole response without changing state. On success the story "+
				"re-enters interpretation and the workflow is advanced.",
		),
		mcp.WithString("request_id",
			mcp.Required(),
			mcp.Description("The pending request's id, from haytham_pending_decision."),
		),
		mcp.WithString("choices",
			mcp.Required(),
			mcp.Description("item=option pairs, newline- or comma-separated. Example: 'AMB-S-001-scope=b'."),
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace directory. Defaults to the discovered session root."),
		),
	)
}

// Handle processes the haytham_submit_decision tool call.
func (t *SubmitDecisionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID, err := req.RequireString("request_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	choices, err := req.RequireString("choices")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := parseResponse(choices)
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

	if err := o.SubmitResponse(requestID, resp); err != nil {
		// Protocol rejections keep the blocked state and are reported to
		// the caller; only environment failures bubble up as Go errors.
		if errors.Is(err, gate.ErrNoPending) || errors.Is(err, gate.ErrRequestMismatch) ||
			errors.Is(err, gate.ErrUnknownItem) || errors.Is(err, gate.ErrInvalidOption) ||
			errors.Is(err, gate.ErrIncomplete) {
			return mcp.NewToolResultError("response rejected: " + err.Error()), nil
		}
		return nil, err
	}

	// Continue the workflow so the caller sees where it lands.
	stage, err := o.Run()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(
		"Decision applied.\n\n" + runSummary(o, stage),
	), nil
}
