package orchestrator

import (
	"fmt"

	"github.com/arslan70/haytham/internal/gate"
	"github.com/arslan70/haytham/internal/story"
)

// --- Human gate operations ---

// PendingRequest returns the active human gate request, or nil when the
// session is not blocked.
func (o *Orchestrator) PendingRequest() *gate.Request {
	return o.pendingGate
}

// SubmitResponse validates and applies a human response to the pending
// gate request. Validation is all-or-nothing: an invalid response is
// rejected synchronously, the blocked state is retained, and no state
// mutates. A valid response resolves every item, clears the gate, and
// re-enters interpreting so dependent state is recomputed.
func (o *Orchestrator) SubmitResponse(requestID string, resp gate.Response) error {
	if o.halted {
		return ErrHalted
	}
	if err := gate.Validate(o.pendingGate, requestID, resp); err != nil {
		return err
	}

	req := o.pendingGate
	is := o.interpretations[req.StoryID]

	for _, item := range req.Items {
		optionID := resp[item.ID]
		switch item.Kind {
		case gate.ItemAmbiguity:
			if err := is.ApplyDecision(item.ID, optionID); err != nil {
				return err
			}

		case gate.ItemConflict:
			ruling := "keep recorded decision"
			if optionID == gate.ConflictAdoptNew {
				ruling = "adopt this story's resolution"
			}
			if err := is.ResolveConflict(item.ID, ruling); err != nil {
				return err
			}

		case gate.ItemConfirmation:
			if err := o.applyConfirmation(item.ID, optionID); err != nil {
				return err
			}

		case gate.ItemDiscovery:
			return o.applyDiscovery(req.StoryID, optionID)

		default:
			return fmt.Errorf("unknown gate item kind %q", item.Kind)
		}
	}

	o.pendingGate = nil
	if err := o.backlog.SetStatus(req.StoryID, story.StatusInterpreting); err != nil {
		return err
	}
	return o.enter(StageInterpreting)
}

// applyConfirmation records the human's ruling on a generated
// prerequisite story: schedule it, or mark it skipped.
func (o *Orchestrator) applyConfirmation(storyID, optionID string) error {
	s := o.backlog.Get(storyID)
	if s == nil {
		return fmt.Errorf("generated story %q not in backlog", storyID)
	}
	switch optionID {
	case gate.ConfirmAccept:
		s.NeedsConfirmation = false
	case gate.ConfirmSkip:
		// A skipped prerequisite story is closed without interpretation;
		// it stays in the backlog as history.
		s.NeedsConfirmation = false
		if err := o.backlog.SetStatus(storyID, story.StatusCompleted); err != nil {
			return err
		}
	}
	return nil
}

// applyDiscovery routes a technical-discovery ruling. The discovery gate
// interrupts downstream processing, so the successor stage depends on the
// chosen path rather than re-entering interpretation unconditionally.
func (o *Orchestrator) applyDiscovery(storyID, optionID string) error {
	o.pendingGate = nil
	switch optionID {
	case gate.DiscoveryAddTask:
		// The human adds a task downstream; processing resumes.
		if err := o.backlog.SetStatus(storyID, story.StatusProcessingDownstream); err != nil {
			return err
		}
		return o.enter(StageProcessingDownstream)

	case gate.DiscoveryChangeApproach:
		// Reinterpret from scratch: the prior artifact is discarded so
		// parsing and detection rerun against the revised understanding.
		delete(o.interpretations, storyID)
		if err := o.backlog.SetStatus(storyID, story.StatusInterpreting); err != nil {
			return err
		}
		return o.enter(StageInterpreting)

	case gate.DiscoverySkip:
		// Closed without appending to system state.
		delete(o.interpretations, storyID)
		if err := o.backlog.SetStatus(storyID, story.StatusCompleted); err != nil {
			return err
		}
		o.current = ""
		return o.enter(StageStoryCompleted)
	}
	return fmt.Errorf("unknown discovery option %q", optionID)
}
