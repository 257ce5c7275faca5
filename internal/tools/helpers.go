// Package tools implements MCP tool handlers for the interpretation engine.
//
// Each tool is a struct that receives its dependencies and returns a
// handler compatible with mcp-go's CallToolRequest signature.
//
// Design principles:
// - SRP: each file = one tool
// - DIP: tools open sessions through a narrow opener func, injectable in tests
package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arslan70/haytham/internal/gate"
	"github.com/arslan70/haytham/internal/orchestrator"
	"github.com/arslan70/haytham/internal/story"
)

// openSession is a package-level var to allow test injection.
var openSession = orchestrator.Open

// findWorkspaceRoot walks up from the current working directory looking
// for an existing haytham/ data directory. If none is found, returns cwd.
// This allows tools to work from any subdirectory of the workspace.
func findWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}

	current := dir
	for {
		for _, marker := range []string{snapshotMarker, backlogMarker} {
			if _, err := os.Stat(filepath.Join(current, marker)); err == nil {
				return current, nil
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			// Reached filesystem root, no session found.
			// Return original cwd — the caller decides what to do.
			return dir, nil
		}
		current = parent
	}
}

var (
	snapshotMarker = filepath.Join(story.DataDir, "session.json")
	backlogMarker  = filepath.Join(story.DataDir, story.BacklogFile)
)

// workspaceFor resolves the workspace for a tool call: an explicit
// workspace argument wins, otherwise the root is discovered from cwd.
func workspaceFor(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}
	return findWorkspaceRoot()
}

// parseResponse decodes "item=option" pairs (newline- or comma-separated)
// into a gate response.
func parseResponse(input string) (gate.Response, error) {
	resp := make(gate.Response)
	for _, field := range strings.FieldsFunc(input, func(r rune) bool {
		return r == '\n' || r == ','
	}) {
		pair := strings.TrimSpace(field)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("malformed choice %q: expected item=option", pair)
		}
		resp[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("no choices provided")
	}
	return resp, nil
}
