// Package story defines backlog stories and the durable backlog container.
//
// A Story is the atomic unit the orchestrator works on: a narrative plus
// acceptance criteria, a priority tier, and a lifecycle status. Stories are
// never deleted during a run — prerequisite stories generated mid-run are
// inserted ahead of their parent, and completed stories stay in the backlog
// as history.
//
// This package follows the same design principles as the rest of the engine:
// - SRP: types, backlog ordering, and persistence in separate files
// - Closed enums: status and priority are validated string types, not free text
package story

import (
	"fmt"
	"strings"
)

// --- Priority enum ---

// Priority is the backlog priority tier. Lower tiers are processed first.
type Priority string

const (
	PriorityP0 Priority = "p0"
	PriorityP1 Priority = "p1"
	PriorityP2 Priority = "p2"
	PriorityP3 Priority = "p3"
)

// priorityRank orders tiers for scheduling. Unknown tiers sort last.
var priorityRank = map[Priority]int{
	PriorityP0: 0,
	PriorityP1: 1,
	PriorityP2: 2,
	PriorityP3: 3,
}

// ValidatePriority returns an error if the tier is not recognized.
func ValidatePriority(p Priority) error {
	if _, ok := priorityRank[p]; !ok {
		return fmt.Errorf("invalid priority %q: must be one of: p0, p1, p2, p3", p)
	}
	return nil
}

// Rank returns the scheduling rank of a priority tier (lower runs first).
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// --- Status enum ---

// Status tracks where a story is in the orchestrator's lifecycle.
type Status string

const (
	StatusPending              Status = "pending"
	StatusInterpreting         Status = "interpreting"
	StatusBlocked              Status = "blocked"
	StatusReadyForDownstream   Status = "ready_for_downstream"
	StatusProcessingDownstream Status = "processing_downstream"
	StatusCompleted            Status = "completed"
)

var validStatuses = map[Status]bool{
	StatusPending:              true,
	StatusInterpreting:         true,
	StatusBlocked:              true,
	StatusReadyForDownstream:   true,
	StatusProcessingDownstream: true,
	StatusCompleted:            true,
}

// ValidateStatus returns an error if the status is not recognized.
func ValidateStatus(s Status) error {
	if !validStatuses[s] {
		return fmt.Errorf("invalid story status %q", s)
	}
	return nil
}

// --- Origin enum ---

// Origin records how a story entered the backlog.
type Origin string

const (
	// OriginBacklog marks stories supplied by the product authority at ingest.
	OriginBacklog Origin = "backlog"
	// OriginPrerequisite marks stories spawned by the prerequisite detector.
	// These require human confirmation of their content before implementation.
	OriginPrerequisite Origin = "prerequisite"
)

// --- Story ---

// Story is an atomic backlog item describing a user-facing capability.
type Story struct {
	ID                 string   `json:"id" yaml:"id"`
	Title              string   `json:"title" yaml:"title"`
	Narrative          string   `json:"narrative" yaml:"narrative"`
	AcceptanceCriteria []string `json:"acceptance_criteria" yaml:"acceptance_criteria"`
	Priority           Priority `json:"priority" yaml:"priority"`
	Status             Status   `json:"status" yaml:"status"`
	Origin             Origin   `json:"origin,omitempty" yaml:"origin,omitempty"`
	// ParentID links a prerequisite story to the story that spawned it.
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	// NeedsConfirmation is true for generated prerequisite stories whose
	// content has not yet been confirmed by a human.
	NeedsConfirmation bool `json:"needs_confirmation,omitempty" yaml:"needs_confirmation,omitempty"`
	// ProvidesKind and ProvidesName record what a generated prerequisite
	// story delivers ("capability"/"entity" + name). Completing the story
	// registers that item in system state, which is what terminates the
	// prerequisite chain.
	ProvidesKind string `json:"provides_kind,omitempty" yaml:"provides_kind,omitempty"`
	ProvidesName string `json:"provides_name,omitempty" yaml:"provides_name,omitempty"`
	CreatedAt    string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Validate checks the structural requirements on an ingested story.
func (s *Story) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("story %q: title is required", s.ID)
	}
	if strings.TrimSpace(s.Narrative) == "" {
		return fmt.Errorf("story %q: narrative is required", s.ID)
	}
	if err := ValidatePriority(s.Priority); err != nil {
		return fmt.Errorf("story %q: %w", s.ID, err)
	}
	if s.ID != "" {
		if err := ValidateID(s.ID); err != nil {
			return err
		}
	}
	return nil
}

// --- ID minting ---

// IDPrefix is the prefix for story identifiers.
const IDPrefix = "S-"

// FormatID renders a story sequence number as a zero-padded identifier.
// Example: 7 → "S-007".
func FormatID(seq int) string {
	return fmt.Sprintf("%s%03d", IDPrefix, seq)
}

// ValidateID checks that an identifier matches the S-NNN contract.
func ValidateID(id string) error {
	rest, ok := strings.CutPrefix(id, IDPrefix)
	if !ok || rest == "" {
		return fmt.Errorf("invalid story id %q: must match S-NNN", id)
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return fmt.Errorf("invalid story id %q: must match S-NNN", id)
		}
	}
	return nil
}

// ParseSeq extracts the numeric sequence from a story identifier.
// Returns 0 for identifiers that don't match the contract.
func ParseSeq(id string) int {
	rest, ok := strings.CutPrefix(id, IDPrefix)
	if !ok {
		return 0
	}
	seq := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0
		}
		seq = seq*10 + int(r-'0')
	}
	return seq
}
