// Package snapshot persists the orchestrator's session state.
//
// The snapshot is the sole source of truth for resuming a session: it is
// written synchronously at every state transition, and a transition is not
// complete until its snapshot write is durable. Writes are atomic
// (write-to-temp then rename) so a crash mid-write never leaves a corrupt
// snapshot as the latest file.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arslan70/haytham/internal/gate"
	"github.com/arslan70/haytham/internal/interpret"
	"github.com/arslan70/haytham/internal/story"
)

// SchemaVersion is bumped on incompatible snapshot layout changes.
const SchemaVersion = 1

// SessionFile is the snapshot filename under the haytham data directory.
const SessionFile = "session.json"

// timeNow and writeFile are package-level variables for testability.
var (
	timeNow   = time.Now
	writeFile = os.WriteFile
)

// StoryStatus is one backlog entry's lifecycle position.
type StoryStatus struct {
	ID     string       `json:"id"`
	Status story.Status `json:"status"`
}

// Snapshot is the versioned, point-in-time serialization of session state.
type Snapshot struct {
	SchemaVersion    int           `json:"schema_version"`
	CurrentStory     string        `json:"current_story,omitempty"`
	CurrentStage     string        `json:"current_stage"`
	Stories          []StoryStatus `json:"stories"`
	StoriesCompleted int           `json:"stories_completed"`
	StoriesTotal     int           `json:"stories_total"`
	// Interpretations holds the full InterpretedStory payload for every
	// story not yet completed.
	Interpretations map[string]*interpret.InterpretedStory `json:"interpretations,omitempty"`
	// PendingGate is the active human gate request, if the session is
	// blocked. It survives restarts by design.
	PendingGate *gate.Request `json:"pending_gate,omitempty"`
	UpdatedAt   string        `json:"updated_at"`
}

// Store persists snapshots for one workspace.
type Store struct {
	workspace string
}

// NewStore creates a snapshot store rooted at a workspace directory.
func NewStore(workspace string) *Store {
	return &Store{workspace: workspace}
}

// Path returns the absolute snapshot path.
func (st *Store) Path() string {
	return filepath.Join(st.workspace, story.DataDir, SessionFile)
}

// Save writes the snapshot atomically. On any error the previous durable
// snapshot remains the latest file — the caller must treat the transition
// as not taken.
func (st *Store) Save(s *Snapshot) error {
	s.SchemaVersion = SchemaVersion
	s.UpdatedAt = timeNow().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	path := st.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := writeFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// Load reads the latest snapshot. Returns (nil, nil) when no session has
// been started in this workspace.
func (st *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(st.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing session.json: %w", err)
	}
	if s.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("snapshot schema version %d is not supported (want %d)",
			s.SchemaVersion, SchemaVersion)
	}
	return &s, nil
}
