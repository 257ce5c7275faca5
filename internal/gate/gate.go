// Package gate implements the Human Gate Protocol: the suspend/resume
// contract used whenever a blocking question needs a human answer.
//
// A request is a durable record (persisted inside the session snapshot),
// never auto-expired — the blocked state is a valid long-lived state, not
// an error. Only one request may be active per story; every pending item
// for that story is aggregated into a single presentation rather than
// re-queried one by one.
package gate

import (
	"errors"
	"fmt"

	"github.com/arslan70/haytham/internal/ambiguity"
	"github.com/arslan70/haytham/internal/interpret"
	"github.com/arslan70/haytham/internal/story"
	"github.com/google/uuid"
)

// Protocol rejection sentinels. These reject a response without mutating
// any state; the blocked state is retained.
var (
	ErrNoPending       = errors.New("no pending human gate request")
	ErrRequestMismatch = errors.New("request id does not match the pending request")
	ErrUnknownItem     = errors.New("response references an item not in the request")
	ErrInvalidOption   = errors.New("response option is not in the enumerated option set")
	ErrIncomplete      = errors.New("response does not answer every item in the request")
)

// --- Item kinds ---

// ItemKind distinguishes what a gate item is asking about.
type ItemKind string

const (
	// ItemAmbiguity asks the human to resolve a decision_required ambiguity.
	ItemAmbiguity ItemKind = "ambiguity"
	// ItemConflict asks the human to rule on a decision conflict.
	ItemConflict ItemKind = "conflict"
	// ItemConfirmation asks the human to confirm a generated
	// prerequisite story before it is scheduled.
	ItemConfirmation ItemKind = "confirmation"
	// ItemDiscovery reports a downstream collaborator failure and asks
	// how to proceed.
	ItemDiscovery ItemKind = "technical_discovery"
)

// Option ids used for conflict rulings.
const (
	ConflictKeepRecorded = "a"
	ConflictAdoptNew     = "b"
)

// Option ids used for prerequisite confirmations.
const (
	ConfirmAccept = "a"
	ConfirmSkip   = "b"
)

// Option ids used for technical discoveries.
const (
	DiscoveryAddTask        = "a"
	DiscoveryChangeApproach = "b"
	DiscoverySkip           = "c"
)

// Item is one pending decision inside a request.
type Item struct {
	ID          string             `json:"id"` // ambiguity/conflict/story id
	Kind        ItemKind           `json:"kind"`
	Question    string             `json:"question"`
	Options     []ambiguity.Option `json:"options"`
	Recommended string             `json:"recommended,omitempty"`
}

// Request is the durable human gate record. It terminates only when a
// valid response is recorded; the orchestrator will not advance past it
// under any other condition.
type Request struct {
	ID        string `json:"id"`
	StoryID   string `json:"story_id"`
	Items     []Item `json:"items"`
	CreatedAt string `json:"created_at"`
}

// Response maps item id → chosen option id. Every item must be answered.
type Response map[string]string

// ItemByID returns the item with the given id, or nil.
func (r *Request) ItemByID(id string) *Item {
	for i := range r.Items {
		if r.Items[i].ID == id {
			return &r.Items[i]
		}
	}
	return nil
}

// --- Request construction ---

// NewRequest aggregates every pending decision on an interpreted story —
// pending ambiguities, unresolved conflicts, and unconfirmed prerequisite
// stories — into a single request. Returns nil when nothing blocks.
func NewRequest(is *interpret.InterpretedStory, unconfirmed []story.Story) *Request {
	var items []Item

	for _, a := range is.PendingAmbiguities {
		items = append(items, Item{
			ID:          a.ID,
			Kind:        ItemAmbiguity,
			Question:    a.Question,
			Options:     a.Options,
			Recommended: a.DefaultOption,
		})
	}

	for _, c := range is.UnresolvedConflicts() {
		items = append(items, Item{
			ID:       c.ID,
			Kind:     ItemConflict,
			Question: fmt.Sprintf("Conflicting decision on %s: %s. How should this be resolved?", c.Topic, c.Detail),
			Options: []ambiguity.Option{
				{ID: ConflictKeepRecorded, Label: "Keep the previously recorded decision"},
				{ID: ConflictAdoptNew, Label: "Adopt this story's resolution"},
			},
			Recommended: ConflictKeepRecorded,
		})
	}

	for _, s := range unconfirmed {
		items = append(items, Item{
			ID:       s.ID,
			Kind:     ItemConfirmation,
			Question: fmt.Sprintf("Generated prerequisite story %s (%q). Schedule it as drafted?", s.ID, s.Title),
			Options: []ambiguity.Option{
				{ID: ConfirmAccept, Label: "Schedule the story as drafted"},
				{ID: ConfirmSkip, Label: "Skip it — the prerequisite is handled elsewhere"},
			},
			Recommended: ConfirmAccept,
		})
	}

	if len(items) == 0 {
		return nil
	}
	return &Request{
		ID:        uuid.NewString(),
		StoryID:   is.StoryID,
		Items:     items,
		CreatedAt: timeNow().UTC().Format(timeLayout),
	}
}

// NewDiscoveryRequest builds the request for a downstream collaborator
// failure: pause, present, and let the human choose the path forward.
func NewDiscoveryRequest(storyID, detail string) *Request {
	return &Request{
		ID:      uuid.NewString(),
		StoryID: storyID,
		Items: []Item{{
			ID:       "DISC-" + storyID,
			Kind:     ItemDiscovery,
			Question: fmt.Sprintf("Downstream processing of %s failed: %s. How should this proceed?", storyID, detail),
			Options: []ambiguity.Option{
				{ID: DiscoveryAddTask, Label: "Add a task addressing the discovery"},
				{ID: DiscoveryChangeApproach, Label: "Change the approach and reinterpret"},
				{ID: DiscoverySkip, Label: "Skip this story for now"},
			},
			Recommended: DiscoveryAddTask,
		}},
		CreatedAt: timeNow().UTC().Format(timeLayout),
	}
}

// --- Response validation ---

// Validate checks a response against the pending request. Validation is
// all-or-nothing: any unknown item, out-of-range option, or missing answer
// rejects the whole response, and the caller must not mutate state.
func Validate(pending *Request, requestID string, resp Response) error {
	if pending == nil {
		return ErrNoPending
	}
	if requestID != pending.ID {
		return fmt.Errorf("%w: got %q, pending %q", ErrRequestMismatch, requestID, pending.ID)
	}

	for itemID, optionID := range resp {
		item := pending.ItemByID(itemID)
		if item == nil {
			return fmt.Errorf("%w: %q", ErrUnknownItem, itemID)
		}
		found := false
		for _, opt := range item.Options {
			if opt.ID == optionID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: item %q has no option %q", ErrInvalidOption, itemID, optionID)
		}
	}

	for _, item := range pending.Items {
		if _, ok := resp[item.ID]; !ok {
			return fmt.Errorf("%w: item %q unanswered", ErrIncomplete, item.ID)
		}
	}
	return nil
}
