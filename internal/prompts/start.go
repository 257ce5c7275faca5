// Package prompts implements MCP prompt handlers for the interpretation
// engine.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the haytham-start MCP prompt.
// It guides the AI to ingest a backlog and begin the interpretation workflow.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("haytham-start",
		mcp.WithPromptDescription(
			"Start an interpretation session from a backlog of user stories. "+
				"Ingests the backlog, then processes stories one at a time, "+
				"pausing whenever a human decision is needed.",
		),
		mcp.WithArgument("backlog_path",
			mcp.ArgumentDescription("Path to a YAML backlog file with user stories"),
		),
		mcp.WithArgument("roles",
			mcp.ArgumentDescription("Comma-separated known system roles, e.g. 'user,admin'"),
		),
	)
}

// Handle processes the haytham-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	backlogPath := "backlog.yaml"
	if args := req.Params.Arguments; args != nil {
		if path, ok := args["backlog_path"]; ok && path != "" {
			backlogPath = path
		}
	}

	roles := "user"
	if args := req.Params.Arguments; args != nil {
		if r, ok := args["roles"]; ok && r != "" {
			roles = r
		}
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Start interpretation session from %s", backlogPath),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to interpret the user stories in '%s'.\n\n"+
						"Please:\n"+
						"1. Run `haytham_ingest_backlog` with path='%s' and roles='%s'\n"+
						"2. Run `haytham_run` to start processing stories\n"+
						"3. Whenever the workflow blocks on a decision, run "+
						"`haytham_pending_decision`, present every question to me "+
						"with its options, and wait for my answers\n"+
						"4. Submit my answers with `haytham_submit_decision`, "+
						"then continue with `haytham_run`\n"+
						"5. When a story is ready, fetch it with `haytham_ready_story`, "+
						"do the design/task work, and acknowledge with "+
						"`haytham_mark_downstream_complete`\n\n"+
						"Never answer a pending question yourself — those decisions are mine.",
					backlogPath, backlogPath, roles,
				)),
			},
		},
	}, nil
}
