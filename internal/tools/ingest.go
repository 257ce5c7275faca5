package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// IngestTool handles the haytham_ingest_backlog MCP tool.
// Ingesting is the first operation of a session: it loads the ordered
// story collection the orchestrator will process.
type IngestTool struct{}

// NewIngestTool creates an IngestTool.
func NewIngestTool() *IngestTool {
	return &IngestTool{}
}

// Definition returns the MCP tool definition for registration.
func (t *IngestTool) Definition() mcp.Tool {
	return mcp.NewTool("haytham_ingest_backlog",
		mcp.WithDescription(
			"Ingest a product backlog into the workspace. "+
				"Stories are {id?, title, narrative, acceptance_criteria, priority} "+
				"records in YAML or JSON; missing ids are minted as S-NNN in order. "+
				"Call once per workspace — the backlog is the input contract for "+
				"haytham_run.",
		),
		mcp.WithString("backlog",
			mcp.Description("Inline backlog document (YAML or JSON). Mutually exclusive with 'path'."),
		),
		mcp.WithString("path",
			mcp.Description("Path to a backlog file to ingest. Mutually exclusive with 'backlog'."),
		),
		mcp.WithString("roles",
			mcp.Description("Comma-separated actor roles to seed system state with (e.g. 'user,admin')."),
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace directory. Defaults to the discovered session root."),
		),
	)
}

// Handle processes the haytham_ingest_backlog tool call.
func (t *IngestTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	inline := req.GetString("backlog", "")
	path := req.GetString("path", "")

	var data []byte
	switch {
	case inline != "" && path != "":
		return mcp.NewToolResultError("provide either 'backlog' or 'path', not both"), nil
	case inline != "":
		data = []byte(inline)
	case path != "":
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading backlog file: %w", err)
		}
	default:
		return mcp.NewToolResultError("either 'backlog' or 'path' is required"), nil
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

	var roles []string
	if raw := req.GetString("roles", ""); raw != "" {
		roles = splitCSV(raw)
	}

	b, err := o.Ingest(data, roles)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Ingested %d stories into %s.\n\nNext: call `haytham_run` to start interpretation.",
		len(b.Stories), workspace,
	)), nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, field := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(field); s != "" {
			out = append(out, s)
		}
	}
	return out
}
