// Package prereq derives the entities and capabilities that must exist
// before a story can be implemented.
//
// Two rule families apply: pattern rules keyed on story language ("share
// with specific users" implies a user-lookup capability) and implicit
// rules that hold for whole action classes (any user action implies
// authentication; any persistence implies a backing entity). Both are
// data-described tables evaluated uniformly.
package prereq

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/arslan70/haytham/internal/parser"
	"github.com/arslan70/haytham/internal/state"
)

// --- Enums ---

// Kind distinguishes entity prerequisites from capability prerequisites.
type Kind string

const (
	KindEntity     Kind = "entity"
	KindCapability Kind = "capability"
)

// Status reports whether the prerequisite already exists in system state.
type Status string

const (
	StatusNotExists   Status = "not_exists"
	StatusImplemented Status = "implemented"
)

// Action is how a missing prerequisite gets satisfied.
type Action string

const (
	// ActionIncludeInStory folds the prerequisite into the current
	// story's scope.
	ActionIncludeInStory Action = "include_in_story"
	// ActionGenerateStory spawns a new prerequisite story ahead of the
	// current one. Generated stories need human confirmation before
	// they are implemented.
	ActionGenerateStory Action = "generate_prerequisite_story"
)

// Prerequisite is a capability or entity the story depends on.
type Prerequisite struct {
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Status Status `json:"status"`
	Action Action `json:"action,omitempty"` // empty when already implemented
}

// --- Rule tables ---

// patternRule maps story language to a required capability.
type patternRule struct {
	name    string
	trigger *regexp.Regexp
	kind    Kind
	target  string
	reason  string
	action  Action
}

var patternRules = []patternRule{
	{
		name:    "share-user-lookup",
		trigger: regexp.MustCompile(`(?i)\bshare\b`),
		kind:    KindCapability,
		target:  "user lookup",
		reason:  "sharing with specific users requires looking users up",
		action:  ActionGenerateStory,
	},
	{
		name:    "notify-notifications",
		trigger: regexp.MustCompile(`(?i)\b(notify|remind|alert)\b`),
		kind:    KindCapability,
		target:  "notification delivery",
		reason:  "notifying users requires a notification delivery capability",
		action:  ActionGenerateStory,
	},
	{
		name:    "search-index",
		trigger: regexp.MustCompile(`(?i)\b(search|find|filter)\b`),
		kind:    KindCapability,
		target:  "content indexing",
		reason:  "searching requires the content to be queryable",
		action:  ActionIncludeInStory,
	},
	{
		name:    "export-serialization",
		trigger: regexp.MustCompile(`(?i)\b(export|backup)\b`),
		kind:    KindCapability,
		target:  "data export",
		reason:  "exporting requires a serialization capability",
		action:  ActionIncludeInStory,
	},
}

// --- Detector ---

// Detector derives prerequisites for a parsed story against system state.
type Detector struct {
	ledger state.Reader
}

// New creates a Detector reading existing capabilities/entities from the
// given ledger.
func New(ledger state.Reader) *Detector {
	return &Detector{ledger: ledger}
}

// Result holds detected prerequisites plus the assumptions contributed by
// implicit checks that passed.
type Result struct {
	Prerequisites []Prerequisite `json:"prerequisites,omitempty"`
	Assumptions   []string       `json:"assumptions,omitempty"`
}

// Detect evaluates pattern and implicit rules. Duplicate prerequisites in
// a single pass are deduplicated by (kind, name); the first reason wins.
func (d *Detector) Detect(narrative string, p *parser.ParsedStory) (*Result, error) {
	res := &Result{}
	seen := make(map[string]bool)

	add := func(pr Prerequisite) {
		key := string(pr.Kind) + "|" + strings.ToLower(pr.Name)
		if seen[key] {
			return
		}
		seen[key] = true
		res.Prerequisites = append(res.Prerequisites, pr)
	}

	// Pattern rules against the narrative.
	for _, rule := range patternRules {
		if !rule.trigger.MatchString(narrative) {
			continue
		}
		pr := Prerequisite{Kind: rule.kind, Name: rule.target, Reason: rule.reason}
		status, err := d.status(pr.Kind, pr.Name)
		if err != nil {
			return nil, err
		}
		pr.Status = status
		if status == StatusNotExists {
			pr.Action = rule.action
		}
		add(pr)
	}

	// Implicit rule: any user action implies authentication.
	if p.ActorRole != "" {
		exists, err := d.ledger.CapabilityExists("authentication")
		if err != nil {
			return nil, fmt.Errorf("checking authentication capability: %w", err)
		}
		if exists {
			res.Assumptions = append(res.Assumptions,
				"Existing authentication capability covers this story's actor.")
		} else {
			add(Prerequisite{
				Kind:   KindCapability,
				Name:   "authentication",
				Reason: "a user-facing action requires the actor to be authenticated",
				Status: StatusNotExists,
				Action: ActionGenerateStory,
			})
		}
	}

	// Implicit rule: persistence verbs imply a backing entity.
	if persistent(p.ActionClass) && p.Object != "" {
		if p.ObjectEntityID != "" {
			res.Assumptions = append(res.Assumptions, fmt.Sprintf(
				"Entity %q already exists (%s) and backs this story.",
				p.Object, p.ObjectEntityID))
		} else {
			add(Prerequisite{
				Kind:   KindEntity,
				Name:   p.Object,
				Reason: fmt.Sprintf("the story persists %q, which has no backing entity yet", p.Object),
				Status: StatusNotExists,
				Action: ActionIncludeInStory,
			})
		}
	}

	return res, nil
}

// status checks whether the prerequisite already exists in system state.
func (d *Detector) status(kind Kind, name string) (Status, error) {
	switch kind {
	case KindCapability:
		exists, err := d.ledger.CapabilityExists(name)
		if err != nil {
			return "", fmt.Errorf("checking capability %q: %w", name, err)
		}
		if exists {
			return StatusImplemented, nil
		}
	case KindEntity:
		id, err := d.ledger.EntityExists(name)
		if err != nil {
			return "", fmt.Errorf("checking entity %q: %w", name, err)
		}
		if id != "" {
			return StatusImplemented, nil
		}
	}
	return StatusNotExists, nil
}

// persistent reports whether an action class creates or mutates stored data.
func persistent(c parser.ActionClass) bool {
	switch c {
	case parser.ActionCreate, parser.ActionUpdate, parser.ActionDelete:
		return true
	}
	return false
}
