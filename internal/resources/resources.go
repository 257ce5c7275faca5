// Package resources implements MCP resource handlers for the interpretation
// engine.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (haytham://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arslan70/haytham/internal/orchestrator"
	"github.com/mark3labs/mcp-go/mcp"
)

// Handler manages session resource endpoints.
type Handler struct{}

// NewHandler creates a resource Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// StatusResource returns the MCP resource definition for session status.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		"haytham://session/status",
		"Haytham Session Status",
		mcp.WithResourceDescription("Current workflow stage, story progress, and pending gate request"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStatus returns the current session status as JSON.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	workspace, err := findRoot()
	if err != nil {
		return nil, fmt.Errorf("finding workspace root: %w", err)
	}

	o, err := openSession(workspace)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	defer o.Close()

	data, err := json.MarshalIndent(o.Status(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// BacklogResource returns the MCP resource definition for the story backlog.
func (h *Handler) BacklogResource() mcp.Resource {
	return mcp.NewResource(
		"haytham://session/backlog",
		"Haytham Story Backlog",
		mcp.WithResourceDescription("All stories with priority, status, and origin"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleBacklog returns the full backlog as JSON.
func (h *Handler) HandleBacklog(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	workspace, err := findRoot()
	if err != nil {
		return nil, fmt.Errorf("finding workspace root: %w", err)
	}

	o, err := openSession(workspace)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	defer o.Close()

	if o.Backlog() == nil {
		return errorResource(req.Params.URI, "no backlog ingested in this workspace"), nil
	}

	data, err := json.MarshalIndent(o.Backlog().Sorted(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling backlog: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// openSession is a package-level var to allow test injection.
var openSession = orchestrator.Open

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
