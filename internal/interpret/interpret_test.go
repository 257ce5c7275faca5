package interpret

import (
	"testing"
	"time"

	"github.com/arslan70/haytham/internal/ambiguity"
	"github.com/arslan70/haytham/internal/consistency"
	"github.com/arslan70/haytham/internal/state"
	"github.com/arslan70/haytham/internal/story"
)

func init() {
	timeNow = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
}

// fakeLedger is an in-memory state.Reader for interpreter tests.
type fakeLedger struct {
	roles        map[string]string
	entities     map[string]string
	capabilities map[string]bool
	decisions    map[string][]state.Decision
}

func (f *fakeLedger) ResolveRole(name string) (string, error)  { return f.roles[name], nil }
func (f *fakeLedger) EntityExists(name string) (string, error) { return f.entities[name], nil }

func (f *fakeLedger) CapabilityExists(name string) (bool, error) {
	return f.capabilities[name], nil
}

func (f *fakeLedger) DecisionsFor(topic string) ([]state.Decision, error) {
	return f.decisions[topic], nil
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		roles:        map[string]string{"user": "R-001"},
		entities:     map[string]string{"notes": "E-001"},
		capabilities: map[string]bool{"authentication": true, "content indexing": true},
		decisions:    map[string][]state.Decision{},
	}
}

func searchStory() *story.Story {
	return &story.Story{
		ID:        "S-001",
		Title:     "Search notes",
		Narrative: "As a user, I want to search my notes, so that I can find things quickly.",
		AcceptanceCriteria: []string{
			"Given notes exist, when the user searches, then matching notes appear",
		},
		Priority: story.PriorityP1,
		Status:   story.StatusInterpreting,
	}
}

func pendingByID(is *InterpretedStory, id string) *ambiguity.Ambiguity {
	for i := range is.PendingAmbiguities {
		if is.PendingAmbiguities[i].ID == id {
			return &is.PendingAmbiguities[i]
		}
	}
	return nil
}

// --- Full pipeline ---

func TestInterpret_SearchStoryBlocks(t *testing.T) {
	in := New(newFakeLedger())

	is, err := in.Interpret(searchStory(), nil)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}

	if is.Status != StatusBlocked {
		t.Errorf("status = %s, want blocked", is.Status)
	}
	scope := pendingByID(is, "AMB-S-001-scope")
	if scope == nil {
		t.Fatal("search scope question should be pending")
	}
	if scope.Classification != ambiguity.DecisionRequired {
		t.Errorf("scope classification = %s, want decision_required", scope.Classification)
	}

	// The instant-vs-submit UI question auto-resolves.
	var ui *ambiguity.Ambiguity
	for i := range is.ResolvedAmbiguities {
		if is.ResolvedAmbiguities[i].ID == "AMB-S-001-ui" {
			ui = &is.ResolvedAmbiguities[i]
		}
	}
	if ui == nil {
		t.Fatal("ui question should be auto-resolved")
	}
	if ui.ChosenLabel() != "Instant search" {
		t.Errorf("ui resolution = %q, want Instant search", ui.ChosenLabel())
	}

	// The auto-resolution surfaces as an assumption on the artifact.
	wantAssumption := "Search is case-insensitive and results update instantly as the user types."
	var found bool
	for _, a := range is.Assumptions {
		if a == wantAssumption {
			found = true
		}
	}
	if !found {
		t.Errorf("assumptions = %v, want to contain %q", is.Assumptions, wantAssumption)
	}
}

// --- Ready/blocked invariant ---

func TestInterpret_StatusInvariant(t *testing.T) {
	in := New(newFakeLedger())

	is, err := in.Interpret(searchStory(), nil)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}

	// Resolve every pending ambiguity, then reinterpret: the artifact
	// must flip to ready exactly when nothing pending remains.
	for _, a := range is.Ambiguities() {
		if !a.Resolved {
			if err := is.ApplyDecision(a.ID, a.DefaultOption); err != nil {
				t.Fatalf("ApplyDecision(%s): %v", a.ID, err)
			}
		}
	}

	again, err := in.Interpret(searchStory(), is)
	if err != nil {
		t.Fatalf("Interpret (re-entry): %v", err)
	}
	if len(again.PendingAmbiguities) != 0 {
		t.Fatalf("pending ambiguities remain: %d", len(again.PendingAmbiguities))
	}
	if len(again.UnresolvedConflicts()) != 0 {
		t.Fatalf("unresolved conflicts remain: %d", len(again.UnresolvedConflicts()))
	}
	if again.Status != StatusReady {
		t.Errorf("status = %s, want ready", again.Status)
	}
}

// --- Re-entry reuse ---

func TestInterpret_ReentryReusesParseAndClassification(t *testing.T) {
	in := New(newFakeLedger())

	first, err := in.Interpret(searchStory(), nil)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}

	second, err := in.Interpret(searchStory(), first)
	if err != nil {
		t.Fatalf("Interpret (re-entry): %v", err)
	}

	// The ParsedStory pointer is carried over, not recomputed.
	if second.Parsed != first.Parsed {
		t.Error("re-entry should reuse the prior ParsedStory")
	}
	if len(second.Ambiguities()) != len(first.Ambiguities()) {
		t.Errorf("ambiguity count changed on re-entry: %d -> %d",
			len(first.Ambiguities()), len(second.Ambiguities()))
	}
	// Classifications are write-once across re-entries.
	firstByID := make(map[string]ambiguity.Classification)
	for _, a := range first.Ambiguities() {
		firstByID[a.ID] = a.Classification
	}
	for _, a := range second.Ambiguities() {
		if firstByID[a.ID] != a.Classification {
			t.Errorf("ambiguity %s reclassified: %s -> %s", a.ID, firstByID[a.ID], a.Classification)
		}
	}
}

// --- Decisions ---

func TestApplyDecision(t *testing.T) {
	in := New(newFakeLedger())
	is, err := in.Interpret(searchStory(), nil)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}

	if err := is.ApplyDecision("AMB-S-001-scope", "b"); err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}
	scope := pendingByID(is, "AMB-S-001-scope")
	if scope == nil {
		t.Fatal("applied ambiguity should still be listed until reinterpretation")
	}
	if !scope.Resolved || scope.Resolution.ResolvedBy != ambiguity.ResolvedByUser {
		t.Error("ApplyDecision should record a user resolution")
	}

	// After reinterpretation the ambiguity moves to the resolved list.
	again, err := in.Interpret(searchStory(), is)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if pendingByID(again, "AMB-S-001-scope") != nil {
		t.Error("resolved ambiguity should leave the pending list")
	}
}

func TestApplyDecision_UnknownAmbiguity(t *testing.T) {
	in := New(newFakeLedger())
	is, err := in.Interpret(searchStory(), nil)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if err := is.ApplyDecision("AMB-S-001-bogus", "a"); err == nil {
		t.Error("unknown ambiguity id should be rejected")
	}
}

// --- Conflicts ---

func TestInterpret_ConflictBlocksUntilRuled(t *testing.T) {
	ledger := newFakeLedger()
	topic := "scope: what should the search match against?"
	ledger.decisions[topic] = []state.Decision{
		{ID: "D-001", Topic: topic, Choice: "Title only", ResolvedBy: "user", StoryID: "S-000"},
	}
	in := New(ledger)

	is, err := in.Interpret(searchStory(), nil)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}

	// Resolve the scope question against the recorded decision.
	if err := is.ApplyDecision("AMB-S-001-scope", "b"); err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}
	for _, a := range is.Ambiguities() {
		if !a.Resolved {
			if err := is.ApplyDecision(a.ID, a.DefaultOption); err != nil {
				t.Fatalf("ApplyDecision(%s): %v", a.ID, err)
			}
		}
	}

	again, err := in.Interpret(searchStory(), is)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	conflicts := again.UnresolvedConflicts()
	if len(conflicts) != 1 {
		t.Fatalf("got %d unresolved conflicts, want 1", len(conflicts))
	}
	if again.Status != StatusBlocked {
		t.Errorf("status = %s, want blocked while a conflict is unresolved", again.Status)
	}

	if err := again.ResolveConflict(conflicts[0].ID, "adopt the new ruling"); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}

	final, err := in.Interpret(searchStory(), again)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	// The ruling carries over by topic to the recomputed conflict.
	if len(final.UnresolvedConflicts()) != 0 {
		t.Error("ruled conflict should stay resolved across reinterpretation")
	}
	if final.Status != StatusReady {
		t.Errorf("status = %s, want ready", final.Status)
	}
}

func TestResolveConflict_RejectsReResolution(t *testing.T) {
	is := &InterpretedStory{
		StoryID: "S-001",
		Conflicts: []consistency.Conflict{
			{ID: "CON-S-001-1", Topic: "scope: x", Detail: "d"},
		},
	}
	if err := is.ResolveConflict("CON-S-001-1", "keep recorded"); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if err := is.ResolveConflict("CON-S-001-1", "adopt new"); err == nil {
		t.Error("re-resolving a conflict should be rejected")
	}
	if is.Conflicts[0].Resolution != "keep recorded" {
		t.Errorf("resolution changed to %q", is.Conflicts[0].Resolution)
	}
}
