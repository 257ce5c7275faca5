package story

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DataDir is the subdirectory under the workspace where session data lives.
	DataDir = "haytham"
	// BacklogFile is the filename for the durable backlog document.
	BacklogFile = "backlog.json"
)

// BacklogStore persists the backlog document. Writes are atomic
// (write-to-temp then rename) so a crash mid-write never leaves a
// corrupt backlog as the latest file.
type BacklogStore struct {
	workspace string
}

// NewBacklogStore creates a backlog store rooted at a workspace directory.
func NewBacklogStore(workspace string) *BacklogStore {
	return &BacklogStore{workspace: workspace}
}

// Path returns the absolute path to the backlog document.
func (st *BacklogStore) Path() string {
	return filepath.Join(st.workspace, DataDir, BacklogFile)
}

// Save writes the backlog atomically.
func (st *BacklogStore) Save(b *Backlog) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling backlog: %w", err)
	}

	path := st.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing backlog temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing backlog: %w", err)
	}
	return nil
}

// Load reads the backlog document. Returns (nil, nil) if no backlog has
// been ingested yet — that is a valid pre-ingest state, not an error.
func (st *BacklogStore) Load() (*Backlog, error) {
	data, err := os.ReadFile(st.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backlog: %w", err)
	}
	var b Backlog
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing backlog.json: %w", err)
	}
	return &b, nil
}
