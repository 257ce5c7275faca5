// Package consistency validates a parsed story against accumulated system
// state.
//
// Checks run independently and never short-circuit: all of them execute
// and all failures are reported together, so the human sees the full
// picture in one pass. A failed existence check becomes a prerequisite; a
// conflicting decision becomes a Conflict requiring explicit human
// resolution — the checker performs no automatic reconciliation.
package consistency

import (
	"fmt"
	"strings"

	"github.com/arslan70/haytham/internal/ambiguity"
	"github.com/arslan70/haytham/internal/parser"
	"github.com/arslan70/haytham/internal/prereq"
	"github.com/arslan70/haytham/internal/state"
)

// --- Enums ---

// Check names one consistency check.
type Check string

const (
	CheckEntityExistence      Check = "entity_existence"
	CheckCapabilityExistence  Check = "capability_existence"
	CheckDecisionConflicts    Check = "decision_conflicts"
	CheckRolePermission       Check = "role_permission"
	CheckConstraintCompliance Check = "constraint_compliance"
)

// Outcome is the per-check result.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
)

// CheckResult is one check's outcome with supporting detail.
type CheckResult struct {
	Check   Check   `json:"check"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
}

// Conflict is a decision-level contradiction that only a human may
// resolve.
type Conflict struct {
	ID         string `json:"id"`
	Topic      string `json:"topic"`
	Detail     string `json:"detail"`
	Resolved   bool   `json:"resolved"`
	Resolution string `json:"resolution,omitempty"`
}

// Result aggregates every check outcome. Failures surface as
// prerequisites or conflicts — never as silent drops.
type Result struct {
	Checks        []CheckResult         `json:"checks"`
	Conflicts     []Conflict            `json:"conflicts,omitempty"`
	Prerequisites []prereq.Prerequisite `json:"prerequisites,omitempty"`
}

// Passed reports whether every check passed.
func (r *Result) Passed() bool {
	for _, c := range r.Checks {
		if c.Outcome == OutcomeFail {
			return false
		}
	}
	return true
}

// UnresolvedConflicts returns the conflicts still awaiting a human.
func (r *Result) UnresolvedConflicts() []Conflict {
	var out []Conflict
	for _, c := range r.Conflicts {
		if !c.Resolved {
			out = append(out, c)
		}
	}
	return out
}

// --- Checker ---

// Checker runs the consistency checks against the System State ledger.
type Checker struct {
	ledger state.Reader
}

// New creates a Checker.
func New(ledger state.Reader) *Checker {
	return &Checker{ledger: ledger}
}

// Run executes all five checks. Resolved ambiguities participate in the
// decision-conflict check: a fresh resolution that contradicts a prior
// recorded decision on the same topic is a Conflict.
func (c *Checker) Run(p *parser.ParsedStory, resolved []ambiguity.Ambiguity) (*Result, error) {
	res := &Result{}

	if err := c.checkEntities(res, p); err != nil {
		return nil, err
	}
	if err := c.checkCapabilities(res, p); err != nil {
		return nil, err
	}
	if err := c.checkDecisions(res, p.StoryID, resolved); err != nil {
		return nil, err
	}
	c.checkRole(res, p)
	c.checkConstraints(res, p)

	return res, nil
}

// checkEntities verifies every referenced entity exists; misses become
// entity prerequisites.
func (c *Checker) checkEntities(res *Result, p *parser.ParsedStory) error {
	var missing []string
	for _, ref := range p.Entities {
		if ref.Exists {
			continue
		}
		missing = append(missing, ref.Name)
		res.Prerequisites = append(res.Prerequisites, prereq.Prerequisite{
			Kind:   prereq.KindEntity,
			Name:   ref.Name,
			Reason: fmt.Sprintf("story references entity %q which does not exist yet", ref.Name),
			Status: prereq.StatusNotExists,
			Action: prereq.ActionIncludeInStory,
		})
	}

	if len(missing) == 0 {
		res.Checks = append(res.Checks, CheckResult{
			Check:   CheckEntityExistence,
			Outcome: OutcomePass,
			Detail:  entityPassDetail(p),
		})
		return nil
	}
	res.Checks = append(res.Checks, CheckResult{
		Check:   CheckEntityExistence,
		Outcome: OutcomeFail,
		Detail:  "missing entities: " + strings.Join(missing, ", "),
	})
	return nil
}

func entityPassDetail(p *parser.ParsedStory) string {
	var known []string
	for _, ref := range p.Entities {
		if ref.Exists {
			known = append(known, fmt.Sprintf("%s=%s", ref.Name, ref.EntityID))
		}
	}
	if len(known) == 0 {
		return "no entity references"
	}
	return "resolved: " + strings.Join(known, ", ")
}

// checkCapabilities verifies the action's backing capability when the
// action class names one; a miss becomes a capability prerequisite.
func (c *Checker) checkCapabilities(res *Result, p *parser.ParsedStory) error {
	capName := capabilityForAction(p.ActionClass)
	if capName == "" {
		res.Checks = append(res.Checks, CheckResult{
			Check:   CheckCapabilityExistence,
			Outcome: OutcomePass,
			Detail:  "action requires no named capability",
		})
		return nil
	}

	exists, err := c.ledger.CapabilityExists(capName)
	if err != nil {
		return fmt.Errorf("checking capability %q: %w", capName, err)
	}
	if exists {
		res.Checks = append(res.Checks, CheckResult{
			Check:   CheckCapabilityExistence,
			Outcome: OutcomePass,
			Detail:  fmt.Sprintf("capability %q exists", capName),
		})
		return nil
	}

	res.Checks = append(res.Checks, CheckResult{
		Check:   CheckCapabilityExistence,
		Outcome: OutcomeFail,
		Detail:  fmt.Sprintf("capability %q does not exist", capName),
	})
	res.Prerequisites = append(res.Prerequisites, prereq.Prerequisite{
		Kind:   prereq.KindCapability,
		Name:   capName,
		Reason: fmt.Sprintf("the %s action depends on it", p.ActionClass),
		Status: prereq.StatusNotExists,
		Action: prereq.ActionGenerateStory,
	})
	return nil
}

// capabilityForAction names the capability an action class depends on.
// Plain CRUD needs none beyond its backing entity.
func capabilityForAction(class parser.ActionClass) string {
	switch class {
	case parser.ActionDistribution:
		return "sharing"
	case parser.ActionCommunication:
		return "notification delivery"
	}
	return ""
}

// checkDecisions compares each fresh resolution against recorded
// decisions on the same topic. Contradictions are Conflicts — no
// automatic reconciliation.
func (c *Checker) checkDecisions(res *Result, storyID string, resolved []ambiguity.Ambiguity) error {
	var conflicts []Conflict
	for _, a := range resolved {
		if !a.Resolved {
			continue
		}
		topic := decisionTopic(a.Category, a.Question)
		prior, err := c.ledger.DecisionsFor(topic)
		if err != nil {
			return fmt.Errorf("checking decisions for %q: %w", topic, err)
		}
		choice := a.ChosenLabel()
		for _, d := range prior {
			if !strings.EqualFold(d.Choice, choice) {
				conflicts = append(conflicts, Conflict{
					ID:     fmt.Sprintf("CON-%s-%d", storyID, len(conflicts)+1),
					Topic:  topic,
					Detail: fmt.Sprintf("story resolves %q as %q, but %s recorded %q", topic, choice, d.ID, d.Choice),
				})
				break
			}
		}
	}

	if len(conflicts) == 0 {
		res.Checks = append(res.Checks, CheckResult{
			Check:   CheckDecisionConflicts,
			Outcome: OutcomePass,
			Detail:  "no conflicting decisions",
		})
		return nil
	}
	res.Checks = append(res.Checks, CheckResult{
		Check:   CheckDecisionConflicts,
		Outcome: OutcomeFail,
		Detail:  fmt.Sprintf("%d conflicting decision(s)", len(conflicts)),
	})
	res.Conflicts = append(res.Conflicts, conflicts...)
	return nil
}

// DecisionTopic derives the stable decision-ledger topic for an ambiguity.
func DecisionTopic(a *ambiguity.Ambiguity) string {
	return decisionTopic(a.Category, a.Question)
}

func decisionTopic(cat ambiguity.Category, question string) string {
	return string(cat) + ": " + strings.ToLower(strings.TrimSpace(question))
}

// checkRole flags unresolved actor roles. A miss is not a prerequisite —
// the story itself introduces the role when it completes — but the human
// should see it.
func (c *Checker) checkRole(res *Result, p *parser.ParsedStory) {
	if p.ActorRole == "" || p.RoleID != parser.RoleUnresolved {
		res.Checks = append(res.Checks, CheckResult{
			Check:   CheckRolePermission,
			Outcome: OutcomePass,
			Detail:  roleDetail(p),
		})
		return
	}
	res.Checks = append(res.Checks, CheckResult{
		Check:   CheckRolePermission,
		Outcome: OutcomeFail,
		Detail:  fmt.Sprintf("actor role %q is not a known role", p.ActorRole),
	})
}

func roleDetail(p *parser.ParsedStory) string {
	if p.ActorRole == "" {
		return "no actor role to validate"
	}
	return fmt.Sprintf("role %q resolved to %s", p.ActorRole, p.RoleID)
}

// checkConstraints verifies acceptance criteria don't contradict recorded
// constraint decisions (same topic namespace as the constraint category).
func (c *Checker) checkConstraints(res *Result, p *parser.ParsedStory) {
	// Constraint compliance is structural for now: a criterion with an
	// empty postcondition is unverifiable.
	for i, tr := range p.Criteria {
		if strings.TrimSpace(tr.Postcondition) == "" {
			res.Checks = append(res.Checks, CheckResult{
				Check:   CheckConstraintCompliance,
				Outcome: OutcomeFail,
				Detail:  fmt.Sprintf("criterion[%d] has no verifiable postcondition", i),
			})
			return
		}
	}
	res.Checks = append(res.Checks, CheckResult{
		Check:   CheckConstraintCompliance,
		Outcome: OutcomePass,
		Detail:  "all criteria carry verifiable postconditions",
	})
}
