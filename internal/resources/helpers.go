package resources

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arslan70/haytham/internal/story"
)

// findRoot walks up from cwd looking for haytham/session.json or
// haytham/backlog.json. Shared utility for resource handlers.
func findRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}

	current := dir
	for {
		for _, name := range []string{"session.json", story.BacklogFile} {
			candidate := filepath.Join(current, story.DataDir, name)
			if _, err := os.Stat(candidate); err == nil {
				return current, nil
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			return dir, nil
		}
		current = parent
	}
}
