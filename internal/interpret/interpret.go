// Package interpret aggregates the interpretation stages into the
// InterpretedStory artifact and derives its status.
//
// The pipeline here is strictly sequential: parse → detect → classify →
// consistency → prerequisites → build. Each stage is a separate package;
// this package owns the ordering and the aggregation, nothing else.
package interpret

import (
	"fmt"

	"github.com/arslan70/haytham/internal/ambiguity"
	"github.com/arslan70/haytham/internal/consistency"
	"github.com/arslan70/haytham/internal/parser"
	"github.com/arslan70/haytham/internal/prereq"
	"github.com/arslan70/haytham/internal/state"
	"github.com/arslan70/haytham/internal/story"
)

// --- Status enum ---

// Status is the derived status of an interpreted story.
type Status string

const (
	// StatusReady means no pending ambiguities and no unresolved
	// conflicts remain — the story can be handed downstream.
	StatusReady Status = "ready"
	// StatusBlocked means at least one human decision is outstanding.
	StatusBlocked Status = "blocked"
)

// --- InterpretedStory ---

// InterpretedStory is the consistency-checked interpretation artifact.
//
// Invariant: Status == StatusReady if and only if PendingAmbiguities is
// empty and no unresolved conflicts exist.
type InterpretedStory struct {
	StoryID             string                    `json:"story_id"`
	Title               string                    `json:"title"`
	Parsed              *parser.ParsedStory       `json:"parsed"`
	ResolvedAmbiguities []ambiguity.Ambiguity     `json:"resolved_ambiguities,omitempty"`
	PendingAmbiguities  []ambiguity.Ambiguity     `json:"pending_ambiguities,omitempty"`
	Checks              []consistency.CheckResult `json:"checks"`
	Conflicts           []consistency.Conflict    `json:"conflicts,omitempty"`
	Prerequisites       []prereq.Prerequisite     `json:"prerequisites,omitempty"`
	Assumptions         []string                  `json:"assumptions,omitempty"`
	Status              Status                    `json:"status"`
	InterpretedAt       string                    `json:"interpreted_at"`
}

// Ambiguities returns resolved and pending ambiguities as one list,
// resolved first (their detection order is preserved within each group).
func (is *InterpretedStory) Ambiguities() []ambiguity.Ambiguity {
	out := make([]ambiguity.Ambiguity, 0, len(is.ResolvedAmbiguities)+len(is.PendingAmbiguities))
	out = append(out, is.ResolvedAmbiguities...)
	out = append(out, is.PendingAmbiguities...)
	return out
}

// UnresolvedConflicts returns conflicts still awaiting a human decision.
func (is *InterpretedStory) UnresolvedConflicts() []consistency.Conflict {
	var out []consistency.Conflict
	for _, c := range is.Conflicts {
		if !c.Resolved {
			out = append(out, c)
		}
	}
	return out
}

// deriveStatus computes the ready/blocked invariant.
func deriveStatus(is *InterpretedStory) Status {
	if len(is.PendingAmbiguities) == 0 && len(is.UnresolvedConflicts()) == 0 {
		return StatusReady
	}
	return StatusBlocked
}

// --- Interpreter ---

// Interpreter drives the interpretation stages for one story at a time.
type Interpreter struct {
	parser     *parser.Parser
	detector   *ambiguity.Detector
	classifier *ambiguity.Classifier
	checker    *consistency.Checker
	prereqs    *prereq.Detector
}

// New wires the interpretation stages against a System State reader.
func New(ledger state.Reader) *Interpreter {
	detector := ambiguity.NewDetector(ambiguity.DefaultRules())
	return &Interpreter{
		parser:     parser.New(ledger),
		detector:   detector,
		classifier: ambiguity.NewClassifier(detector),
		checker:    consistency.New(ledger),
		prereqs:    prereq.New(ledger),
	}
}

// Interpret runs the full pipeline for a story.
//
// When prior is non-nil (re-entry after a human decision, or resume after
// an interruption), the prior ParsedStory and ambiguity list are reused —
// parsing and detection are not redone — while consistency checks and
// prerequisites are recomputed, because applied decisions can change them.
// Conflict resolutions recorded on the prior artifact are re-applied by
// topic so a human never answers the same conflict twice.
func (in *Interpreter) Interpret(s *story.Story, prior *InterpretedStory) (*InterpretedStory, error) {
	var parsed *parser.ParsedStory
	var ambiguities []ambiguity.Ambiguity

	if prior != nil && prior.Parsed != nil {
		parsed = prior.Parsed
		ambiguities = prior.Ambiguities()
	} else {
		var err error
		parsed, err = in.parser.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parsing story %s: %w", s.ID, err)
		}
		ambiguities = in.detector.Detect(s, parsed)
	}

	// Classification is write-once; on re-entry this is a no-op for
	// everything already labeled.
	in.classifier.Classify(ambiguities)

	is := &InterpretedStory{
		StoryID:       s.ID,
		Title:         s.Title,
		Parsed:        parsed,
		InterpretedAt: timeNow().UTC().Format(timeLayout),
	}

	for _, a := range ambiguities {
		if a.Resolved {
			is.ResolvedAmbiguities = append(is.ResolvedAmbiguities, a)
		} else {
			is.PendingAmbiguities = append(is.PendingAmbiguities, a)
		}
	}

	chk, err := in.checker.Run(parsed, is.ResolvedAmbiguities)
	if err != nil {
		return nil, fmt.Errorf("consistency check for %s: %w", s.ID, err)
	}
	is.Checks = chk.Checks
	is.Conflicts = chk.Conflicts
	if prior != nil {
		carryConflictResolutions(is.Conflicts, prior.Conflicts)
	}

	prq, err := in.prereqs.Detect(s.Narrative, parsed)
	if err != nil {
		return nil, fmt.Errorf("prerequisite detection for %s: %w", s.ID, err)
	}
	is.Prerequisites = mergePrerequisites(chk.Prerequisites, prq.Prerequisites)

	// Assumptions: one per auto-resolved ambiguity, one per implicit
	// prerequisite check that passed.
	for i := range is.ResolvedAmbiguities {
		if assumption := in.classifier.AssumptionFor(&is.ResolvedAmbiguities[i]); assumption != "" {
			is.Assumptions = append(is.Assumptions, assumption)
		}
	}
	is.Assumptions = append(is.Assumptions, prq.Assumptions...)

	is.Status = deriveStatus(is)
	return is, nil
}

// ApplyDecision resolves a pending ambiguity on the artifact. The caller
// re-runs Interpret afterwards to recompute dependent state.
func (is *InterpretedStory) ApplyDecision(ambiguityID, optionID string) error {
	for i := range is.PendingAmbiguities {
		a := &is.PendingAmbiguities[i]
		if a.ID != ambiguityID {
			continue
		}
		return a.Resolve(optionID, ambiguity.ResolvedByUser)
	}
	return fmt.Errorf("story %s has no pending ambiguity %q", is.StoryID, ambiguityID)
}

// ResolveConflict marks a conflict resolved with the human's ruling.
func (is *InterpretedStory) ResolveConflict(conflictID, resolution string) error {
	for i := range is.Conflicts {
		c := &is.Conflicts[i]
		if c.ID != conflictID {
			continue
		}
		if c.Resolved {
			return fmt.Errorf("conflict %s is already resolved", conflictID)
		}
		c.Resolved = true
		c.Resolution = resolution
		return nil
	}
	return fmt.Errorf("story %s has no conflict %q", is.StoryID, conflictID)
}

// carryConflictResolutions re-applies resolutions from a prior artifact to
// recomputed conflicts, matched by topic.
func carryConflictResolutions(current, prior []consistency.Conflict) {
	for i := range current {
		if current[i].Resolved {
			continue
		}
		for _, p := range prior {
			if p.Resolved && p.Topic == current[i].Topic {
				current[i].Resolved = true
				current[i].Resolution = p.Resolution
				break
			}
		}
	}
}

// mergePrerequisites combines consistency-derived and rule-derived
// prerequisites, deduplicated by (kind, name). Consistency results come
// first so entity misses keep their original reason.
func mergePrerequisites(a, b []prereq.Prerequisite) []prereq.Prerequisite {
	var out []prereq.Prerequisite
	seen := make(map[string]bool)
	for _, list := range [][]prereq.Prerequisite{a, b} {
		for _, p := range list {
			key := string(p.Kind) + "|" + normalizeName(p.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, p)
		}
	}
	return out
}

func normalizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}
