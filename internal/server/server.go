// Package server wires all MCP components and creates the server instance.
//
// This is the composition root (DIP): it creates concrete implementations
// and injects them into the tools/prompts/resources that depend on
// abstractions. No business logic lives here — only wiring.
package server

import (
	"github.com/arslan70/haytham/internal/prompts"
	"github.com/arslan70/haytham/internal/resources"
	"github.com/arslan70/haytham/internal/tools"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools, prompts,
// and resources registered. This is the single place where all
// dependencies are resolved.
func New() *server.MCPServer {
	s := server.NewMCPServer(
		"haytham",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register workflow tools ---

	ingestTool := tools.NewIngestTool()
	s.AddTool(ingestTool.Definition(), ingestTool.Handle)

	runTool := tools.NewRunTool()
	s.AddTool(runTool.Definition(), runTool.Handle)

	statusTool := tools.NewStatusTool()
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	// --- Register human gate tools ---

	pendingTool := tools.NewPendingDecisionTool()
	s.AddTool(pendingTool.Definition(), pendingTool.Handle)

	submitTool := tools.NewSubmitDecisionTool()
	s.AddTool(submitTool.Definition(), submitTool.Handle)

	// --- Register downstream handoff tools ---

	readyTool := tools.NewReadyStoryTool()
	s.AddTool(readyTool.Definition(), readyTool.Handle)

	completeTool := tools.NewCompleteTool()
	s.AddTool(completeTool.Definition(), completeTool.Handle)

	discoveryTool := tools.NewReportDiscoveryTool()
	s.AddTool(discoveryTool.Definition(), discoveryTool.Handle)

	// --- Register prompts ---

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler()
	s.AddResource(resourceHandler.StatusResource(), resourceHandler.HandleStatus)
	s.AddResource(resourceHandler.BacklogResource(), resourceHandler.HandleBacklog)

	return s
}

// serverInstructions returns the system instructions that tell the AI
// how to use Haytham effectively.
func serverInstructions() string {
	return `You have access to Haytham, a story interpretation MCP server.

## What is Haytham?
Haytham turns a backlog of natural-language user stories into structured,
validated interpretation artifacts, one story at a time. For each story it
parses the narrative, detects ambiguities, checks consistency against what
the system already does, and finds prerequisites — then either hands the
story downstream (design/task generation) or pauses on a human decision.

## CRITICAL: The Human Gate
When the workflow blocks, PRESENT every pending question to the human with
its options and the recommended default. NEVER answer a pending question
yourself: ambiguities classified as decision-required exist precisely
because the right answer depends on intent only the human knows. A blocked
session waits indefinitely — there is no timeout to beat.

## Workflow
1. haytham_ingest_backlog — load a YAML backlog (path or inline content)
2. haytham_run — process stories in (priority, id) order until the session
   blocks, a story is ready, or the backlog is exhausted
3. haytham_pending_decision / haytham_submit_decision — when blocked,
   relay the questions and the human's choices
4. haytham_ready_story — fetch the interpreted artifact for downstream work
5. haytham_mark_downstream_complete — acknowledge the story, appending its
   roles, entities, capabilities and decisions to the system-state ledger
6. haytham_report_discovery — report a technical discovery from downstream
   work instead of completing; the human decides how to proceed

Every step is snapshot-durable: if the session is interrupted at any point,
calling haytham_run again resumes from the last committed transition.

## Status
haytham_status returns the session as JSON: stage, current story, per-story
status, and progress. The same data is available as the
haytham://session/status resource.`
}
