package orchestrator

import (
	"fmt"

	"github.com/arslan70/haytham/internal/consistency"
	"github.com/arslan70/haytham/internal/gate"
	"github.com/arslan70/haytham/internal/interpret"
	"github.com/arslan70/haytham/internal/parser"
	"github.com/arslan70/haytham/internal/prereq"
	"github.com/arslan70/haytham/internal/state"
	"github.com/arslan70/haytham/internal/story"
)

// --- Downstream handoff interface ---
//
// Design and task generation are external collaborators: the orchestrator
// hands them the ready artifact, tracks their completion signal, and
// treats their internals as opaque.

// ReadyStory hands the current ready story to a downstream collaborator
// and transitions to processing_downstream. Returns ErrNotReady when no
// story is awaiting downstream pickup.
func (o *Orchestrator) ReadyStory() (*interpret.InterpretedStory, error) {
	if o.halted {
		return nil, ErrHalted
	}
	if o.stage != StageReadyForDownstream || o.current == "" {
		return nil, ErrNotReady
	}

	is := o.interpretations[o.current]
	if is == nil {
		return nil, fmt.Errorf("ready story %q has no interpretation", o.current)
	}
	if err := o.backlog.SetStatus(o.current, story.StatusProcessingDownstream); err != nil {
		return nil, err
	}
	if err := o.enter(StageProcessingDownstream); err != nil {
		return nil, err
	}
	return is, nil
}

// MarkDownstreamComplete records the downstream completion signal for the
// current story: the story's resulting entities, capabilities, and
// decisions are appended to System State (idempotently), the story is
// marked completed, and the machine loops back to story selection.
func (o *Orchestrator) MarkDownstreamComplete(storyID string) error {
	if o.halted {
		return ErrHalted
	}
	if o.stage != StageProcessingDownstream || o.current != storyID {
		return fmt.Errorf("%w: %s", ErrNotProcessing, storyID)
	}

	is := o.interpretations[storyID]
	if is == nil {
		return fmt.Errorf("story %q has no interpretation", storyID)
	}

	results := storyResults(is)
	if s := o.backlog.Get(storyID); s != nil && s.ProvidesName != "" {
		// A completed prerequisite story registers the item it was
		// spawned to provide.
		switch prereq.Kind(s.ProvidesKind) {
		case prereq.KindEntity:
			results.Entities = append(results.Entities, s.ProvidesName)
		case prereq.KindCapability:
			results.Capabilities = append(results.Capabilities, s.ProvidesName)
		}
	}

	// Ledger append is idempotent on (kind, name), so a retry after a
	// crash between the append and the snapshot does not duplicate rows.
	if err := o.ledger.AppendStoryResults(results); err != nil {
		return err
	}

	delete(o.interpretations, storyID)
	if err := o.backlog.SetStatus(storyID, story.StatusCompleted); err != nil {
		return err
	}
	if err := o.enter(StageStoryCompleted); err != nil {
		return err
	}
	o.current = ""
	return o.enter(StageSelectingStory)
}

// ReportDownstreamFailure surfaces a downstream collaborator failure as a
// technical discovery: the session blocks and the human chooses the path
// forward. The orchestrator does not retry and does not infer a
// resolution.
func (o *Orchestrator) ReportDownstreamFailure(storyID, detail string) error {
	if o.halted {
		return ErrHalted
	}
	if o.stage != StageProcessingDownstream || o.current != storyID {
		return fmt.Errorf("%w: %s", ErrNotProcessing, storyID)
	}

	o.pendingGate = gate.NewDiscoveryRequest(storyID, detail)
	if err := o.backlog.SetStatus(storyID, story.StatusBlocked); err != nil {
		return err
	}
	return o.enter(StageBlocked)
}

// storyResults collects what a completed story contributes to the ledger.
func storyResults(is *interpret.InterpretedStory) state.StoryResults {
	r := state.StoryResults{StoryID: is.StoryID}

	// An unresolved actor role is introduced by the story itself.
	if is.Parsed != nil && is.Parsed.ActorRole != "" && is.Parsed.RoleID == parser.RoleUnresolved {
		r.Roles = append(r.Roles, is.Parsed.ActorRole)
	}

	// Entities the story referenced but had to create.
	if is.Parsed != nil {
		for _, ref := range is.Parsed.Entities {
			if !ref.Exists {
				r.Entities = append(r.Entities, ref.Name)
			}
		}
	}

	// Prerequisites folded into the story's own scope now exist.
	for _, p := range is.Prerequisites {
		if p.Action != prereq.ActionIncludeInStory {
			continue
		}
		switch p.Kind {
		case prereq.KindEntity:
			r.Entities = append(r.Entities, p.Name)
		case prereq.KindCapability:
			r.Capabilities = append(r.Capabilities, p.Name)
		}
	}

	// Every resolved ambiguity is a recorded decision.
	for i := range is.ResolvedAmbiguities {
		a := &is.ResolvedAmbiguities[i]
		if !a.Resolved || a.Resolution == nil {
			continue
		}
		r.Decisions = append(r.Decisions, state.Decision{
			Topic:      consistency.DecisionTopic(a),
			Choice:     a.ChosenLabel(),
			ResolvedBy: string(a.Resolution.ResolvedBy),
		})
	}

	return r
}
