// Package orchestrator implements the sequential workflow state machine.
//
// Exactly one story is processed at a time, in (priority, id) order. Every
// state transition commits a session snapshot before it is observable —
// a transition whose snapshot write fails is not taken, and the run stops
// rather than proceed with unpersisted state. Suspension happens at one
// point only: the blocked state awaiting a human gate response, which is
// unbounded by design.
package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arslan70/haytham/internal/gate"
	"github.com/arslan70/haytham/internal/interpret"
	"github.com/arslan70/haytham/internal/prereq"
	"github.com/arslan70/haytham/internal/snapshot"
	"github.com/arslan70/haytham/internal/state"
	"github.com/arslan70/haytham/internal/story"
)

// --- Stage enum ---

// Stage is the orchestrator's position in the session state machine.
type Stage string

const (
	StageIdle                 Stage = "idle"
	StageSelectingStory       Stage = "selecting_story"
	StageInterpreting         Stage = "interpreting"
	StageBlocked              Stage = "blocked"
	StageReadyForDownstream   Stage = "ready_for_downstream"
	StageProcessingDownstream Stage = "processing_downstream"
	StageStoryCompleted       Stage = "story_completed"
	StageAllDone              Stage = "all_done"
)

// transitions is the allowed successor set for each stage.
var transitions = map[Stage][]Stage{
	StageIdle:                 {StageSelectingStory},
	StageSelectingStory:       {StageInterpreting, StageAllDone},
	StageInterpreting:         {StageInterpreting, StageBlocked, StageReadyForDownstream},
	StageBlocked:              {StageInterpreting, StageProcessingDownstream, StageStoryCompleted},
	StageReadyForDownstream:   {StageProcessingDownstream},
	StageProcessingDownstream: {StageStoryCompleted, StageBlocked},
	StageStoryCompleted:       {StageSelectingStory},
	StageAllDone:              {},
}

// canTransition reports whether moving from → to is legal.
func canTransition(from, to Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Errors surfaced to callers.
var (
	ErrNoBacklog     = errors.New("no backlog ingested in this workspace")
	ErrNotReady      = errors.New("no story is ready for downstream")
	ErrNotProcessing = errors.New("story is not processing downstream")
	ErrHalted        = errors.New("session halted on an unpersisted transition; restart to resume from the last snapshot")
)

// --- Orchestrator ---

// Orchestrator drives stories through interpretation, the human gate, and
// downstream handoff, persisting a snapshot at every transition boundary.
type Orchestrator struct {
	backlogStore *story.BacklogStore
	snapStore    *snapshot.Store
	ledger       *state.Store
	interp       *interpret.Interpreter

	backlog         *story.Backlog
	stage           Stage
	current         string
	interpretations map[string]*interpret.InterpretedStory
	pendingGate     *gate.Request

	// halted is set when a snapshot write fails: the in-memory state may
	// be ahead of the durable state, so every operation refuses to
	// proceed until the process restarts from the last good snapshot.
	halted bool
}

// Open loads (or initializes) a session rooted at a workspace directory.
// If a snapshot exists, the session resumes at the recorded stage.
func Open(workspace string) (*Orchestrator, error) {
	ledger, err := state.New(state.DefaultConfig(workspace))
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		backlogStore:    story.NewBacklogStore(workspace),
		snapStore:       snapshot.NewStore(workspace),
		ledger:          ledger,
		interp:          interpret.New(ledger),
		stage:           StageIdle,
		interpretations: make(map[string]*interpret.InterpretedStory),
	}

	o.backlog, err = o.backlogStore.Load()
	if err != nil {
		ledger.Close()
		return nil, err
	}

	snap, err := o.snapStore.Load()
	if err != nil {
		ledger.Close()
		return nil, err
	}
	if snap != nil {
		o.stage = Stage(snap.CurrentStage)
		o.current = snap.CurrentStory
		o.pendingGate = snap.PendingGate
		if snap.Interpretations != nil {
			o.interpretations = snap.Interpretations
		}
		// Snapshot statuses are authoritative over the backlog file.
		if o.backlog != nil {
			for _, ss := range snap.Stories {
				if s := o.backlog.Get(ss.ID); s != nil {
					s.Status = ss.Status
				}
			}
		}
	}
	return o, nil
}

// Close releases the ledger database.
func (o *Orchestrator) Close() error {
	return o.ledger.Close()
}

// Ledger exposes the System State store for read-only consumers
// (status output, resources).
func (o *Orchestrator) Ledger() *state.Store {
	return o.ledger
}

// Stage returns the current stage.
func (o *Orchestrator) Stage() Stage {
	return o.stage
}

// Backlog returns the current backlog, or nil before ingest.
func (o *Orchestrator) Backlog() *story.Backlog {
	return o.backlog
}

// Interpretation returns the interpreted artifact for a story, or nil.
func (o *Orchestrator) Interpretation(storyID string) *interpret.InterpretedStory {
	return o.interpretations[storyID]
}

// --- Snapshot commit ---

// commit makes the current in-memory state durable: backlog first, then
// the snapshot, which is the transition's commit point. On failure the
// orchestrator halts — resuming from the stale snapshot is the only safe
// path, and that requires a restart.
func (o *Orchestrator) commit() error {
	if o.backlog != nil {
		if err := o.backlogStore.Save(o.backlog); err != nil {
			o.halted = true
			return fmt.Errorf("%w: %v", ErrHalted, err)
		}
	}

	snap := &snapshot.Snapshot{
		CurrentStory:    o.current,
		CurrentStage:    string(o.stage),
		Interpretations: o.interpretations,
		PendingGate:     o.pendingGate,
	}
	if o.backlog != nil {
		for i := range o.backlog.Stories {
			s := &o.backlog.Stories[i]
			snap.Stories = append(snap.Stories, snapshot.StoryStatus{ID: s.ID, Status: s.Status})
		}
		snap.StoriesCompleted, snap.StoriesTotal = o.backlog.Counts()
	}

	if err := o.snapStore.Save(snap); err != nil {
		o.halted = true
		return fmt.Errorf("%w: %v", ErrHalted, err)
	}
	return nil
}

// enter validates and commits a stage transition.
func (o *Orchestrator) enter(next Stage) error {
	if !canTransition(o.stage, next) {
		return fmt.Errorf("illegal transition %s → %s", o.stage, next)
	}
	o.stage = next
	return o.commit()
}

// --- Ingest ---

// Ingest parses a backlog document, seeds the session, and commits the
// initial snapshot. Ingesting over an existing session is rejected.
func (o *Orchestrator) Ingest(data []byte, seedRoles []string) (*story.Backlog, error) {
	if o.halted {
		return nil, ErrHalted
	}
	if o.backlog != nil {
		return nil, fmt.Errorf("workspace already has a backlog of %d stories", len(o.backlog.Stories))
	}

	b, err := story.ParseBacklog(data)
	if err != nil {
		return nil, err
	}
	if err := o.ledger.SeedRoles(seedRoles...); err != nil {
		return nil, err
	}

	o.backlog = b
	o.stage = StageIdle
	if err := o.commit(); err != nil {
		return nil, err
	}
	return b, nil
}

// --- Run loop ---

// Run advances the state machine until it suspends (blocked or awaiting
// downstream) or the backlog is exhausted. It returns the stage it
// stopped at.
func (o *Orchestrator) Run() (Stage, error) {
	if o.halted {
		return o.stage, ErrHalted
	}
	if o.backlog == nil {
		return o.stage, ErrNoBacklog
	}

	for {
		switch o.stage {
		case StageIdle, StageStoryCompleted:
			if err := o.enter(StageSelectingStory); err != nil {
				return o.stage, err
			}

		case StageSelectingStory:
			next := o.backlog.NextPending()
			if next == nil {
				o.current = ""
				if err := o.enter(StageAllDone); err != nil {
					return o.stage, err
				}
				return o.stage, nil
			}
			o.current = next.ID
			if err := o.backlog.SetStatus(next.ID, story.StatusInterpreting); err != nil {
				return o.stage, err
			}
			if err := o.enter(StageInterpreting); err != nil {
				return o.stage, err
			}

		case StageInterpreting:
			if err := o.interpretCurrent(); err != nil {
				return o.stage, err
			}
			if o.stage == StageBlocked {
				return o.stage, nil
			}

		case StageReadyForDownstream, StageBlocked, StageProcessingDownstream:
			// Suspension points: blocked awaits a human, the downstream
			// stages await an external collaborator.
			return o.stage, nil

		case StageAllDone:
			return o.stage, nil

		default:
			return o.stage, fmt.Errorf("unknown stage %q", o.stage)
		}
	}
}

// interpretCurrent runs the interpretation pipeline for the current story
// and takes the blocked / ready_for_downstream transition.
func (o *Orchestrator) interpretCurrent() error {
	s := o.backlog.Get(o.current)
	if s == nil {
		return fmt.Errorf("current story %q not in backlog", o.current)
	}

	prior := o.interpretations[o.current]
	is, err := o.interp.Interpret(s, prior)
	if err != nil {
		return err
	}
	o.interpretations[o.current] = is

	// Checkpoint: the computed artifact (including the ParsedStory) is
	// durable before any further transition, so an interruption here
	// resumes with the same interpretation rather than re-parsing.
	if err := o.commit(); err != nil {
		return err
	}

	unconfirmed, err := o.spawnPrerequisiteStories(is)
	if err != nil {
		return err
	}

	if req := gate.NewRequest(is, unconfirmed); req != nil {
		o.pendingGate = req
		if err := o.backlog.SetStatus(s.ID, story.StatusBlocked); err != nil {
			return err
		}
		return o.enter(StageBlocked)
	}

	if err := o.backlog.SetStatus(s.ID, story.StatusReadyForDownstream); err != nil {
		return err
	}
	return o.enter(StageReadyForDownstream)
}

// spawnPrerequisiteStories inserts a backlog story for every prerequisite
// whose resolution action is generate_prerequisite_story. Stories already
// spawned for this parent are not duplicated across re-entries. Returns
// the spawned stories still awaiting human confirmation.
func (o *Orchestrator) spawnPrerequisiteStories(is *interpret.InterpretedStory) ([]story.Story, error) {
	var unconfirmed []story.Story
	parent := o.backlog.Get(is.StoryID)

	for _, p := range is.Prerequisites {
		if p.Action != prereq.ActionGenerateStory || p.Status != prereq.StatusNotExists {
			continue
		}
		// A generated story never spawns a child for the very item it
		// provides; completion registers it and ends the chain.
		if parent != nil && parent.ProvidesName != "" &&
			strings.EqualFold(parent.ProvidesName, p.Name) &&
			parent.ProvidesKind == string(p.Kind) {
			continue
		}

		// One live provider story per (kind, name), no matter which story
		// detected the gap first.
		if existing := o.findProvider(p.Kind, p.Name); existing != nil {
			if existing.NeedsConfirmation {
				unconfirmed = append(unconfirmed, *existing)
			}
			continue
		}

		title := fmt.Sprintf("Provide %s %s", p.Name, p.Kind)
		actor := is.Parsed.ActorRole
		if actor == "" {
			actor = "user"
		}
		gen := story.Story{
			Title: title,
			Narrative: fmt.Sprintf("As a %s, I want to provide %s, so that %s.",
				actor, p.Name, p.Reason),
			AcceptanceCriteria: []string{
				fmt.Sprintf("When the %s %s is in place, then %s is satisfied for %s.",
					p.Name, p.Kind, p.Reason, is.StoryID),
			},
			Origin:            story.OriginPrerequisite,
			ParentID:          is.StoryID,
			NeedsConfirmation: true,
			ProvidesKind:      string(p.Kind),
			ProvidesName:      p.Name,
		}
		if err := o.backlog.InsertBefore(is.StoryID, gen); err != nil {
			return nil, fmt.Errorf("spawning prerequisite story: %w", err)
		}
		unconfirmed = append(unconfirmed, *o.findProvider(p.Kind, p.Name))
	}
	return unconfirmed, nil
}

// findProvider locates a generated story that will provide the item and is
// not yet completed. A skipped or completed provider is not a match: the
// first registers nothing, the second already appended the item, and in
// both cases a fresh detection must be judged on the ledger alone.
func (o *Orchestrator) findProvider(kind prereq.Kind, name string) *story.Story {
	for i := range o.backlog.Stories {
		s := &o.backlog.Stories[i]
		if s.Status == story.StatusCompleted || s.ProvidesName == "" {
			continue
		}
		if s.ProvidesKind == string(kind) && strings.EqualFold(s.ProvidesName, name) {
			return s
		}
	}
	return nil
}
