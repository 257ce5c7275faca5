package orchestrator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/arslan70/haytham/internal/gate"
	"github.com/arslan70/haytham/internal/interpret"
	"github.com/arslan70/haytham/internal/snapshot"
	"github.com/arslan70/haytham/internal/story"
)

const searchBacklog = `
stories:
  - title: Search notes
    narrative: As a user, I want to search my notes, so that I can find things quickly.
    priority: p1
    acceptance_criteria:
      - Given notes exist, when the user searches, then matching notes appear
`

func openWorkspace(t *testing.T, workspace string) *Orchestrator {
	t.Helper()
	o, err := Open(workspace)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o
}

func ingestSearch(t *testing.T, o *Orchestrator) {
	t.Helper()
	if _, err := o.Ingest([]byte(searchBacklog), []string{"user"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
}

// answerEverything answers the pending request with each item's
// recommended option, overridden by the given choices.
func answerEverything(t *testing.T, o *Orchestrator, overrides map[string]string) {
	t.Helper()
	req := o.PendingRequest()
	if req == nil {
		t.Fatal("no pending request to answer")
	}
	resp := make(gate.Response)
	for _, item := range req.Items {
		resp[item.ID] = item.Recommended
	}
	for id, opt := range overrides {
		resp[id] = opt
	}
	if err := o.SubmitResponse(req.ID, resp); err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}
}

// --- Ingest ---

func TestIngest_RejectsSecondIngest(t *testing.T) {
	o := openWorkspace(t, t.TempDir())
	ingestSearch(t, o)
	if _, err := o.Ingest([]byte(searchBacklog), nil); err == nil {
		t.Error("second ingest should be rejected")
	}
}

func TestRun_WithoutBacklog(t *testing.T) {
	o := openWorkspace(t, t.TempDir())
	if _, err := o.Run(); !errors.Is(err, ErrNoBacklog) {
		t.Errorf("Run without backlog = %v, want ErrNoBacklog", err)
	}
}

// --- Blocking on a human decision ---

func TestRun_BlocksOnDecisionRequired(t *testing.T) {
	o := openWorkspace(t, t.TempDir())
	ingestSearch(t, o)

	stage, err := o.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stage != StageBlocked {
		t.Fatalf("stage = %s, want blocked", stage)
	}
	if o.Backlog().Get("S-001").Status != story.StatusBlocked {
		t.Error("story status should be blocked")
	}

	req := o.PendingRequest()
	if req == nil {
		t.Fatal("blocked session should expose a pending request")
	}
	if req.StoryID != "S-001" {
		t.Errorf("request story = %s, want S-001", req.StoryID)
	}

	scope := req.ItemByID("AMB-S-001-scope")
	if scope == nil {
		t.Fatal("scope question should be in the request")
	}
	if scope.Recommended != "b" {
		t.Errorf("recommended = %s, want b", scope.Recommended)
	}
	if got := len(scope.Options); got != 3 {
		t.Errorf("scope options = %d, want 3", got)
	}

	// The missing authentication capability spawned a prerequisite story
	// that needs confirmation in the same request.
	spawned := o.Backlog().Get("S-002")
	if spawned == nil {
		t.Fatal("prerequisite story should be spawned as S-002")
	}
	if spawned.Origin != story.OriginPrerequisite || spawned.ParentID != "S-001" {
		t.Errorf("spawned story = %+v", spawned)
	}
	if req.ItemByID("S-002") == nil {
		t.Error("spawned story confirmation should be in the request")
	}
}

func TestRun_RepeatWhileBlockedIsStable(t *testing.T) {
	o := openWorkspace(t, t.TempDir())
	ingestSearch(t, o)
	if _, err := o.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	first := o.PendingRequest().ID
	stage, err := o.Run()
	if err != nil {
		t.Fatalf("Run while blocked: %v", err)
	}
	if stage != StageBlocked {
		t.Errorf("stage = %s, want blocked", stage)
	}
	if o.PendingRequest().ID != first {
		t.Error("re-running while blocked must not mint a new request")
	}
}

// --- Gate responses ---

func TestSubmitResponse_RejectionsLeaveStateUntouched(t *testing.T) {
	o := openWorkspace(t, t.TempDir())
	ingestSearch(t, o)
	if _, err := o.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	req := o.PendingRequest()

	full := make(gate.Response)
	for _, item := range req.Items {
		full[item.ID] = item.Recommended
	}

	if err := o.SubmitResponse("stale-id", full); !errors.Is(err, gate.ErrRequestMismatch) {
		t.Errorf("stale id = %v, want ErrRequestMismatch", err)
	}

	partial := gate.Response{"AMB-S-001-scope": "b"}
	if err := o.SubmitResponse(req.ID, partial); !errors.Is(err, gate.ErrIncomplete) {
		t.Errorf("partial = %v, want ErrIncomplete", err)
	}

	bad := make(gate.Response)
	for id := range full {
		bad[id] = full[id]
	}
	bad["AMB-S-001-scope"] = "z"
	if err := o.SubmitResponse(req.ID, bad); !errors.Is(err, gate.ErrInvalidOption) {
		t.Errorf("bad option = %v, want ErrInvalidOption", err)
	}

	// The blocked state is fully retained after rejections.
	if o.Stage() != StageBlocked {
		t.Errorf("stage = %s, want blocked", o.Stage())
	}
	if o.PendingRequest().ID != req.ID {
		t.Error("pending request should be unchanged after rejections")
	}
}

func TestSubmitResponse_AdvancesToReady(t *testing.T) {
	o := openWorkspace(t, t.TempDir())
	ingestSearch(t, o)
	if _, err := o.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	answerEverything(t, o, map[string]string{"AMB-S-001-scope": "b"})
	if o.PendingRequest() != nil {
		t.Error("gate should be cleared after a valid response")
	}

	stage, err := o.Run()
	if err != nil {
		t.Fatalf("Run after decisions: %v", err)
	}
	if stage != StageReadyForDownstream {
		t.Fatalf("stage = %s, want ready_for_downstream", stage)
	}

	is := o.Interpretation("S-001")
	if is.Status != interpret.StatusReady {
		t.Errorf("artifact status = %s, want ready", is.Status)
	}
	if len(is.PendingAmbiguities) != 0 {
		t.Errorf("pending ambiguities remain: %d", len(is.PendingAmbiguities))
	}
}

// --- Downstream handoff ---

func runToReady(t *testing.T, o *Orchestrator) {
	t.Helper()
	ingestSearch(t, o)
	if _, err := o.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	answerEverything(t, o, map[string]string{"AMB-S-001-scope": "b"})
	stage, err := o.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stage != StageReadyForDownstream {
		t.Fatalf("stage = %s, want ready_for_downstream", stage)
	}
}

func TestReadyStory_HandsOffAndCompletes(t *testing.T) {
	o := openWorkspace(t, t.TempDir())
	runToReady(t, o)

	is, err := o.ReadyStory()
	if err != nil {
		t.Fatalf("ReadyStory: %v", err)
	}
	if is.StoryID != "S-001" {
		t.Errorf("handed story = %s, want S-001", is.StoryID)
	}
	if o.Stage() != StageProcessingDownstream {
		t.Errorf("stage = %s, want processing_downstream", o.Stage())
	}

	// Fetching again is not allowed mid-processing.
	if _, err := o.ReadyStory(); !errors.Is(err, ErrNotReady) {
		t.Errorf("second ReadyStory = %v, want ErrNotReady", err)
	}

	if err := o.MarkDownstreamComplete("S-001"); err != nil {
		t.Fatalf("MarkDownstreamComplete: %v", err)
	}
	if o.Backlog().Get("S-001").Status != story.StatusCompleted {
		t.Error("completed story should be marked completed")
	}

	// The search decision is now in the ledger.
	decisions, err := o.Ledger().DecisionsFor("scope: what should the search match against?")
	if err != nil {
		t.Fatalf("DecisionsFor: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Choice != "Title and content" {
		t.Errorf("ledger decisions = %+v", decisions)
	}
}

func TestMarkDownstreamComplete_WrongStory(t *testing.T) {
	o := openWorkspace(t, t.TempDir())
	runToReady(t, o)
	if _, err := o.ReadyStory(); err != nil {
		t.Fatalf("ReadyStory: %v", err)
	}
	if err := o.MarkDownstreamComplete("S-999"); !errors.Is(err, ErrNotProcessing) {
		t.Errorf("wrong story = %v, want ErrNotProcessing", err)
	}
}

// --- Full session ---

func TestSession_RunsToAllDone(t *testing.T) {
	o := openWorkspace(t, t.TempDir())
	runToReady(t, o)

	// Complete the backlog story.
	if _, err := o.ReadyStory(); err != nil {
		t.Fatalf("ReadyStory: %v", err)
	}
	if err := o.MarkDownstreamComplete("S-001"); err != nil {
		t.Fatalf("MarkDownstreamComplete: %v", err)
	}

	// The spawned prerequisite story is next; it carries no open
	// decisions, so it goes straight to ready.
	stage, err := o.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stage != StageReadyForDownstream {
		t.Fatalf("stage = %s, want ready_for_downstream for S-002", stage)
	}
	is, err := o.ReadyStory()
	if err != nil {
		t.Fatalf("ReadyStory: %v", err)
	}
	if is.StoryID != "S-002" {
		t.Errorf("second handoff = %s, want S-002", is.StoryID)
	}
	if err := o.MarkDownstreamComplete("S-002"); err != nil {
		t.Fatalf("MarkDownstreamComplete: %v", err)
	}

	// Completing the prerequisite story registers the capability it
	// provides, so the chain terminates.
	ok, err := o.Ledger().CapabilityExists("authentication")
	if err != nil {
		t.Fatalf("CapabilityExists: %v", err)
	}
	if !ok {
		t.Error("authentication capability should exist after S-002 completes")
	}

	stage, err = o.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stage != StageAllDone {
		t.Errorf("stage = %s, want all_done", stage)
	}
	completed, total := o.Backlog().Counts()
	if completed != total || total != 2 {
		t.Errorf("counts = (%d, %d), want (2, 2)", completed, total)
	}
}

// --- Resume from snapshot ---

func TestOpen_FreshWorkspace(t *testing.T) {
	o := openWorkspace(t, t.TempDir())
	if o.Stage() != StageIdle {
		t.Errorf("stage = %s, want idle", o.Stage())
	}
	if o.Backlog() != nil {
		t.Error("fresh workspace should have no backlog")
	}
}

func TestOpen_ResumesBlockedSession(t *testing.T) {
	dir := t.TempDir()

	o1 := openWorkspace(t, dir)
	ingestSearch(t, o1)
	if _, err := o1.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	reqID := o1.PendingRequest().ID
	o1.Close()

	// A new process resumes the blocked state, including the exact
	// pending request and the parsed interpretation.
	o2 := openWorkspace(t, dir)
	if o2.Stage() != StageBlocked {
		t.Fatalf("resumed stage = %s, want blocked", o2.Stage())
	}
	if o2.PendingRequest() == nil || o2.PendingRequest().ID != reqID {
		t.Fatal("resumed session should carry the same pending request")
	}
	is := o2.Interpretation("S-001")
	if is == nil || is.Parsed == nil {
		t.Fatal("resumed session should carry the interpretation and its parse")
	}
	if o2.Backlog().Get("S-001").Status != story.StatusBlocked {
		t.Error("resumed story status should be blocked")
	}

	// The resumed session accepts the answer and proceeds.
	answerEverything(t, o2, map[string]string{"AMB-S-001-scope": "b"})
	stage, err := o2.Run()
	if err != nil {
		t.Fatalf("Run after resume: %v", err)
	}
	if stage != StageReadyForDownstream {
		t.Errorf("stage = %s, want ready_for_downstream", stage)
	}
}

func TestOpen_ResumesReadyStage(t *testing.T) {
	dir := t.TempDir()

	o1 := openWorkspace(t, dir)
	runToReady(t, o1)
	o1.Close()

	o2 := openWorkspace(t, dir)
	if o2.Stage() != StageReadyForDownstream {
		t.Fatalf("resumed stage = %s, want ready_for_downstream", o2.Stage())
	}
	is, err := o2.ReadyStory()
	if err != nil {
		t.Fatalf("ReadyStory after resume: %v", err)
	}
	if is.StoryID != "S-001" {
		t.Errorf("handed story = %s, want S-001", is.StoryID)
	}
}

// --- Scheduling order ---

func TestRun_PriorityOrder(t *testing.T) {
	backlog := `
stories:
  - title: Low priority wish
    narrative: As a user, I want to search my notes, so that I can find things.
    priority: p2
  - title: Urgent need
    narrative: As a user, I want to search my archive, so that nothing is lost.
    priority: p0
`
	o := openWorkspace(t, t.TempDir())
	if _, err := o.Ingest([]byte(backlog), []string{"user"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if _, err := o.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The p0 story (S-002) is selected first despite appearing second.
	if o.PendingRequest().StoryID != "S-002" {
		t.Errorf("first story = %s, want S-002 (p0)", o.PendingRequest().StoryID)
	}
}

func TestGeneratedStory_RunsBeforeLaterBacklogStory(t *testing.T) {
	backlog := `
stories:
  - title: Search notes
    narrative: As a user, I want to search my notes, so that I can find things quickly.
    priority: p1
  - title: Update profile
    narrative: As a user, I want to update my profile, so that it stays accurate.
    priority: p1
`
	o := openWorkspace(t, t.TempDir())
	if _, err := o.Ingest([]byte(backlog), []string{"user"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := o.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	answerEverything(t, o, map[string]string{"AMB-S-001-scope": "b"})
	if _, err := o.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := o.ReadyStory(); err != nil {
		t.Fatalf("ReadyStory: %v", err)
	}
	if err := o.MarkDownstreamComplete("S-001"); err != nil {
		t.Fatalf("MarkDownstreamComplete: %v", err)
	}

	// The generated provider (S-003) is scheduled at its parent's slot,
	// so it is handed off before the later backlog story S-002.
	stage, err := o.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stage != StageReadyForDownstream {
		t.Fatalf("stage = %s, want ready_for_downstream", stage)
	}
	is, err := o.ReadyStory()
	if err != nil {
		t.Fatalf("ReadyStory: %v", err)
	}
	if is.StoryID != "S-003" {
		t.Fatalf("second handoff = %s, want the generated S-003", is.StoryID)
	}
	if err := o.MarkDownstreamComplete("S-003"); err != nil {
		t.Fatalf("MarkDownstreamComplete: %v", err)
	}

	// S-002 now finds the capability in the ledger: no second provider
	// story is spawned for it.
	if _, err := o.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	providers := 0
	for _, s := range o.Backlog().Stories {
		if s.ProvidesName == "authentication" {
			providers++
		}
	}
	if providers != 1 {
		t.Errorf("provider stories = %d, want exactly 1", providers)
	}
}

// --- Persistence failure ---

func TestRun_SnapshotFailureHaltsSession(t *testing.T) {
	dir := t.TempDir()
	o := openWorkspace(t, dir)
	ingestSearch(t, o)

	// Occupy the snapshot path with a non-empty directory so the atomic
	// rename cannot land.
	path := filepath.Join(dir, story.DataDir, snapshot.SessionFile)
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove snapshot: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(path, "occupied"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if _, err := o.Run(); !errors.Is(err, ErrHalted) {
		t.Fatalf("Run = %v, want ErrHalted", err)
	}

	// A halted session refuses every operation until restart.
	if _, err := o.Run(); !errors.Is(err, ErrHalted) {
		t.Errorf("second Run = %v, want ErrHalted", err)
	}
	if _, err := o.ReadyStory(); !errors.Is(err, ErrHalted) {
		t.Errorf("ReadyStory = %v, want ErrHalted", err)
	}
	if err := o.SubmitResponse("REQ-1", nil); !errors.Is(err, ErrHalted) {
		t.Errorf("SubmitResponse = %v, want ErrHalted", err)
	}
	if err := o.MarkDownstreamComplete("S-001"); !errors.Is(err, ErrHalted) {
		t.Errorf("MarkDownstreamComplete = %v, want ErrHalted", err)
	}

	// The failed transition was never durably taken: once the snapshot
	// path is writable again, a restart resumes from the last committed
	// state with the story still pending.
	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("clear snapshot path: %v", err)
	}
	o2 := openWorkspace(t, dir)
	if o2.Stage() != StageIdle {
		t.Errorf("resumed stage = %s, want idle", o2.Stage())
	}
	if got := o2.Backlog().Get("S-001").Status; got != story.StatusPending {
		t.Errorf("resumed story status = %s, want pending", got)
	}
}

func TestOpen_ResumesMidInterpreting(t *testing.T) {
	dir := t.TempDir()
	o1 := openWorkspace(t, dir)
	ingestSearch(t, o1)
	if _, err := o1.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	o1.Close()

	// Rewind the durable state to what a process killed right after the
	// interpretation checkpoint leaves behind: stage interpreting, the
	// interpreted artifact persisted, no gate minted yet.
	snapStore := snapshot.NewStore(dir)
	snap, err := snapStore.Load()
	if err != nil || snap == nil {
		t.Fatalf("Load snapshot: %v", err)
	}
	snap.CurrentStage = string(StageInterpreting)
	snap.PendingGate = nil
	for i := range snap.Stories {
		if snap.Stories[i].ID == "S-001" {
			snap.Stories[i].Status = story.StatusInterpreting
		}
	}
	if err := snapStore.Save(snap); err != nil {
		t.Fatalf("Save snapshot: %v", err)
	}

	o2 := openWorkspace(t, dir)
	if o2.Stage() != StageInterpreting {
		t.Fatalf("resumed stage = %s, want interpreting", o2.Stage())
	}
	is := o2.Interpretation("S-001")
	if is == nil || is.Parsed == nil {
		t.Fatal("persisted interpretation should be loaded on resume")
	}
	parsed := is.Parsed

	stage, err := o2.Run()
	if err != nil {
		t.Fatalf("Run after resume: %v", err)
	}
	if stage != StageBlocked {
		t.Fatalf("stage = %s, want blocked", stage)
	}
	// The resumed run picks up the persisted parse instead of redoing it.
	if o2.Interpretation("S-001").Parsed != parsed {
		t.Error("resume should reuse the persisted parse")
	}
}
