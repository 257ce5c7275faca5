package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the haytham-status MCP prompt.
// It instructs the AI to read and present the current session state.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("haytham-status",
		mcp.WithPromptDescription(
			"Check the current interpretation session. "+
				"Shows the workflow stage, per-story progress, and any "+
				"pending human decisions.",
		),
	)
}

// Handle processes the haytham-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Interpretation Session Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `haytham_status` to check my interpretation session.\n\n" +
						"Then:\n" +
						"1. Show me the workflow stage and per-story progress in a clear format\n" +
						"2. If the session is blocked, run `haytham_pending_decision` and present the questions\n" +
						"3. Tell me exactly what I should do next",
				),
			},
		},
	}, nil
}
