package prereq

import (
	"testing"

	"github.com/arslan70/haytham/internal/parser"
	"github.com/arslan70/haytham/internal/state"
)

// fakeLedger is an in-memory state.Reader for prerequisite tests.
type fakeLedger struct {
	entities     map[string]string
	capabilities map[string]bool
}

func (f *fakeLedger) ResolveRole(name string) (string, error) { return "", nil }

func (f *fakeLedger) EntityExists(name string) (string, error) {
	return f.entities[name], nil
}

func (f *fakeLedger) CapabilityExists(name string) (bool, error) {
	return f.capabilities[name], nil
}

func (f *fakeLedger) DecisionsFor(topic string) ([]state.Decision, error) {
	return nil, nil
}

func emptyLedger() *fakeLedger {
	return &fakeLedger{
		entities:     map[string]string{},
		capabilities: map[string]bool{},
	}
}

func findPrereq(res *Result, kind Kind, name string) *Prerequisite {
	for i := range res.Prerequisites {
		pr := &res.Prerequisites[i]
		if pr.Kind == kind && pr.Name == name {
			return pr
		}
	}
	return nil
}

// --- Pattern rules ---

func TestDetect_ShareRequiresUserLookup(t *testing.T) {
	d := New(emptyLedger())
	p := &parser.ParsedStory{
		StoryID:     "S-001",
		ActorRole:   "user",
		ActionVerb:  "share",
		ActionClass: parser.ActionDistribution,
		Object:      "note",
	}

	res, err := d.Detect("As a user, I want to share a note with specific users.", p)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	pr := findPrereq(res, KindCapability, "user lookup")
	if pr == nil {
		t.Fatal("share story should require a user lookup capability")
	}
	if pr.Status != StatusNotExists {
		t.Errorf("status = %s, want not_exists", pr.Status)
	}
	if pr.Action != ActionGenerateStory {
		t.Errorf("action = %s, want generate_prerequisite_story", pr.Action)
	}
}

func TestDetect_SearchRequiresIndexing(t *testing.T) {
	d := New(emptyLedger())
	p := &parser.ParsedStory{
		StoryID:     "S-001",
		ActorRole:   "user",
		ActionVerb:  "search",
		ActionClass: parser.ActionRead,
		Object:      "notes",
	}

	res, err := d.Detect("As a user, I want to search my notes.", p)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	pr := findPrereq(res, KindCapability, "content indexing")
	if pr == nil {
		t.Fatal("search story should require content indexing")
	}
	// Indexing is infrastructure for this story, not a separate story.
	if pr.Action != ActionIncludeInStory {
		t.Errorf("action = %s, want include_in_story", pr.Action)
	}
}

func TestDetect_ExistingCapabilityIsImplemented(t *testing.T) {
	ledger := emptyLedger()
	ledger.capabilities["content indexing"] = true
	d := New(ledger)
	p := &parser.ParsedStory{StoryID: "S-001", ActorRole: "user", ActionClass: parser.ActionRead}

	res, err := d.Detect("As a user, I want to search my notes.", p)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	pr := findPrereq(res, KindCapability, "content indexing")
	if pr == nil {
		t.Fatal("prerequisite should still be reported when implemented")
	}
	if pr.Status != StatusImplemented {
		t.Errorf("status = %s, want implemented", pr.Status)
	}
	if pr.Action != "" {
		t.Errorf("implemented prerequisite should carry no action, got %s", pr.Action)
	}
}

// --- Implicit rules ---

func TestDetect_ActorImpliesAuthentication(t *testing.T) {
	d := New(emptyLedger())
	p := &parser.ParsedStory{StoryID: "S-001", ActorRole: "user"}

	res, err := d.Detect("As a user, I want to view my profile.", p)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	pr := findPrereq(res, KindCapability, "authentication")
	if pr == nil {
		t.Fatal("user-facing story should require authentication")
	}
	if pr.Action != ActionGenerateStory {
		t.Errorf("action = %s, want generate_prerequisite_story", pr.Action)
	}
}

func TestDetect_ExistingAuthBecomesAssumption(t *testing.T) {
	ledger := emptyLedger()
	ledger.capabilities["authentication"] = true
	d := New(ledger)
	p := &parser.ParsedStory{StoryID: "S-001", ActorRole: "user"}

	res, err := d.Detect("As a user, I want to view my profile.", p)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if findPrereq(res, KindCapability, "authentication") != nil {
		t.Error("existing authentication should not be a prerequisite")
	}
	if len(res.Assumptions) == 0 {
		t.Error("existing authentication should surface as an assumption")
	}
}

func TestDetect_PersistenceImpliesBackingEntity(t *testing.T) {
	d := New(emptyLedger())
	p := &parser.ParsedStory{
		StoryID:     "S-001",
		ActorRole:   "user",
		ActionVerb:  "create",
		ActionClass: parser.ActionCreate,
		Object:      "note",
	}

	res, err := d.Detect("As a user, I want to create a note.", p)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	pr := findPrereq(res, KindEntity, "note")
	if pr == nil {
		t.Fatal("create story should require a backing entity")
	}
	if pr.Action != ActionIncludeInStory {
		t.Errorf("action = %s, want include_in_story", pr.Action)
	}
}

func TestDetect_ExistingEntityBecomesAssumption(t *testing.T) {
	d := New(emptyLedger())
	p := &parser.ParsedStory{
		StoryID:        "S-001",
		ActorRole:      "user",
		ActionVerb:     "edit",
		ActionClass:    parser.ActionUpdate,
		Object:         "note",
		ObjectEntityID: "E-001",
	}

	res, err := d.Detect("As a user, I want to edit a note.", p)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if findPrereq(res, KindEntity, "note") != nil {
		t.Error("existing entity should not be a prerequisite")
	}
	if len(res.Assumptions) == 0 {
		t.Error("existing entity should surface as an assumption")
	}
}

// --- Deduplication ---

func TestDetect_DedupesByKindAndName(t *testing.T) {
	d := New(emptyLedger())
	p := &parser.ParsedStory{StoryID: "S-001", ActorRole: "user", ActionClass: parser.ActionRead}

	// "search" and "find" both map to content indexing.
	res, err := d.Detect("As a user, I want to search and find my notes.", p)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	count := 0
	for _, pr := range res.Prerequisites {
		if pr.Kind == KindCapability && pr.Name == "content indexing" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("content indexing reported %d times, want 1", count)
	}
}
