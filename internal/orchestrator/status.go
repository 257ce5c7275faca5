package orchestrator

import (
	"github.com/arslan70/haytham/internal/gate"
	"github.com/arslan70/haytham/internal/story"
)

// StoryOverview is one backlog row in a session status report.
type StoryOverview struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Priority story.Priority `json:"priority"`
	Status   story.Status   `json:"status"`
	Origin   story.Origin   `json:"origin,omitempty"`
	Pending  int            `json:"pending_ambiguities,omitempty"`
	Resolved int            `json:"resolved_ambiguities,omitempty"`
}

// SessionStatus is the session overview handed to presentation layers.
type SessionStatus struct {
	Stage            Stage           `json:"stage"`
	CurrentStory     string          `json:"current_story,omitempty"`
	StoriesCompleted int             `json:"stories_completed"`
	StoriesTotal     int             `json:"stories_total"`
	Stories          []StoryOverview `json:"stories"`
	PendingGate      *gate.Request   `json:"pending_gate,omitempty"`
}

// Status reports the current session state. Safe to call at any stage,
// including before ingest.
func (o *Orchestrator) Status() *SessionStatus {
	st := &SessionStatus{
		Stage:        o.stage,
		CurrentStory: o.current,
		PendingGate:  o.pendingGate,
	}
	if o.backlog == nil {
		return st
	}

	st.StoriesCompleted, st.StoriesTotal = o.backlog.Counts()
	for _, s := range o.backlog.Sorted() {
		row := StoryOverview{
			ID:       s.ID,
			Title:    s.Title,
			Priority: s.Priority,
			Status:   s.Status,
			Origin:   s.Origin,
		}
		if is := o.interpretations[s.ID]; is != nil {
			row.Pending = len(is.PendingAmbiguities)
			row.Resolved = len(is.ResolvedAmbiguities)
		}
		st.Stories = append(st.Stories, row)
	}
	return st
}
