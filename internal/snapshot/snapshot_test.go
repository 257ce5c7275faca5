package snapshot

import (
	"encoding/json"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/arslan70/haytham/internal/gate"
	"github.com/arslan70/haytham/internal/interpret"
	"github.com/arslan70/haytham/internal/parser"
	"github.com/arslan70/haytham/internal/story"
)

func init() {
	timeNow = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
}

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		CurrentStory: "S-001",
		CurrentStage: "blocked",
		Stories: []StoryStatus{
			{ID: "S-001", Status: story.StatusBlocked},
			{ID: "S-002", Status: story.StatusPending},
		},
		StoriesCompleted: 0,
		StoriesTotal:     2,
		Interpretations: map[string]*interpret.InterpretedStory{
			"S-001": {
				StoryID: "S-001",
				Title:   "Search notes",
				Parsed:  &parser.ParsedStory{StoryID: "S-001", ActorRole: "user", RoleID: "R-001"},
				Status:  interpret.StatusBlocked,
			},
		},
		PendingGate: &gate.Request{
			ID:      "req-1",
			StoryID: "S-001",
			Items: []gate.Item{
				{ID: "AMB-S-001-scope", Kind: gate.ItemAmbiguity, Question: "What should the search match against?"},
			},
		},
	}
}

// --- Round trip ---

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	st := NewStore(t.TempDir())

	saved := sampleSnapshot()
	if err := st.Save(saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("Load returned nil after Save")
	}
	if loaded.SchemaVersion != SchemaVersion {
		t.Errorf("schema version = %d, want %d", loaded.SchemaVersion, SchemaVersion)
	}
	if loaded.CurrentStory != "S-001" || loaded.CurrentStage != "blocked" {
		t.Errorf("position = (%s, %s)", loaded.CurrentStory, loaded.CurrentStage)
	}
	if !reflect.DeepEqual(loaded.Stories, saved.Stories) {
		t.Errorf("stories = %+v, want %+v", loaded.Stories, saved.Stories)
	}

	// The in-flight interpretation survives, including the parse.
	is := loaded.Interpretations["S-001"]
	if is == nil {
		t.Fatal("interpretation for S-001 missing after reload")
	}
	if is.Parsed == nil || is.Parsed.RoleID != "R-001" {
		t.Errorf("parsed story did not survive: %+v", is.Parsed)
	}

	// The pending gate request survives restarts by design.
	if loaded.PendingGate == nil || loaded.PendingGate.ID != "req-1" {
		t.Errorf("pending gate = %+v", loaded.PendingGate)
	}
}

func TestLoad_MissingIsNotError(t *testing.T) {
	st := NewStore(t.TempDir())
	s, err := st.Load()
	if err != nil {
		t.Fatalf("Load on fresh workspace: %v", err)
	}
	if s != nil {
		t.Error("fresh workspace should have no snapshot")
	}
}

func TestLoad_RejectsUnknownSchemaVersion(t *testing.T) {
	st := NewStore(t.TempDir())
	if err := st.Save(sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Corrupt the version on disk.
	data, err := os.ReadFile(st.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	raw["schema_version"] = json.RawMessage("99")
	data, err = json.Marshal(raw)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(st.Path(), data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := st.Load(); err == nil {
		t.Error("unknown schema version should be rejected")
	}
}

func TestSave_Atomic(t *testing.T) {
	st := NewStore(t.TempDir())
	if err := st.Save(sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(st.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away after Save")
	}

	// A second save replaces the snapshot in one step.
	second := sampleSnapshot()
	second.CurrentStage = "ready_for_downstream"
	if err := st.Save(second); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.CurrentStage != "ready_for_downstream" {
		t.Errorf("stage = %s, want ready_for_downstream", loaded.CurrentStage)
	}
}

func TestSave_FailureKeepsPriorSnapshot(t *testing.T) {
	st := NewStore(t.TempDir())
	if err := st.Save(sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	writeFile = func(string, []byte, os.FileMode) error {
		return errors.New("disk full")
	}
	defer func() { writeFile = os.WriteFile }()

	second := sampleSnapshot()
	second.CurrentStage = "ready_for_downstream"
	if err := st.Save(second); err == nil {
		t.Fatal("Save with a failing write should return an error")
	}

	// The previous durable snapshot is still the latest file.
	loaded, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.CurrentStage != "blocked" {
		t.Errorf("stage = %s, want the prior snapshot's blocked", loaded.CurrentStage)
	}
}
