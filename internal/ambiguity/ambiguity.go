// Package ambiguity detects points of underspecification in parsed stories
// and classifies each as human-decision-required or auto-resolvable.
//
// Detection is rule-driven: each rule is a data-described trigger with a
// question template and enumerated options, evaluated uniformly over the
// story text. Adding a rule never touches control flow. Detection is
// intentionally over-inclusive; the classifier filters, the detector never
// drops.
package ambiguity

import (
	"fmt"
)

// --- Category enum ---

// Category names the axis of underspecification a question targets.
type Category string

const (
	CategoryScope      Category = "scope"
	CategoryTarget     Category = "target"
	CategoryMechanism  Category = "mechanism"
	CategoryPermission Category = "permission"
	CategoryLifecycle  Category = "lifecycle"
	CategoryEdgeCase   Category = "edge_case"
	CategoryConstraint Category = "constraint"
	CategoryUI         Category = "ui"
)

var validCategories = map[Category]bool{
	CategoryScope:      true,
	CategoryTarget:     true,
	CategoryMechanism:  true,
	CategoryPermission: true,
	CategoryLifecycle:  true,
	CategoryEdgeCase:   true,
	CategoryConstraint: true,
	CategoryUI:         true,
}

// ValidateCategory returns an error if the category is not recognized.
func ValidateCategory(c Category) error {
	if !validCategories[c] {
		return fmt.Errorf("invalid ambiguity category %q", c)
	}
	return nil
}

// --- Classification enum ---

// Classification is the binary label assigned to an ambiguity.
// The empty string means "not yet classified".
type Classification string

const (
	DecisionRequired Classification = "decision_required"
	AutoResolvable   Classification = "auto_resolvable"
)

// --- Resolution ---

// Resolver identifies who resolved an ambiguity.
type Resolver string

const (
	ResolvedBySystem Resolver = "system"
	ResolvedByUser   Resolver = "user"
)

// Option is one enumerated answer to an ambiguity question.
type Option struct {
	ID    string `json:"id"` // "a", "b", "c", ...
	Label string `json:"label"`
}

// Resolution records the chosen option and who chose it.
type Resolution struct {
	OptionID   string   `json:"option_id"`
	ResolvedBy Resolver `json:"resolved_by"`
}

// --- Ambiguity ---

// Ambiguity is a detected point of underspecification with enumerated
// resolution options.
//
// Invariant: Classification is set exactly once (by Classify) and never
// changes afterwards; a resolved ambiguity is immutable.
type Ambiguity struct {
	ID             string         `json:"id"`
	Category       Category       `json:"category"`
	Location       string         `json:"location"` // source span, e.g. "narrative" or "criterion[0]"
	Question       string         `json:"question"`
	Options        []Option       `json:"options"`
	DefaultOption  string         `json:"default_option"`
	Classification Classification `json:"classification,omitempty"`
	Resolution     *Resolution    `json:"resolution,omitempty"`
	Resolved       bool           `json:"resolved"`
}

// OptionByID returns the option with the given id, or nil if out of range.
func (a *Ambiguity) OptionByID(id string) *Option {
	for i := range a.Options {
		if a.Options[i].ID == id {
			return &a.Options[i]
		}
	}
	return nil
}

// DefaultLabel returns the label of the default option.
func (a *Ambiguity) DefaultLabel() string {
	if opt := a.OptionByID(a.DefaultOption); opt != nil {
		return opt.Label
	}
	return ""
}

// ChosenLabel returns the label of the resolved option, or "" if unresolved.
func (a *Ambiguity) ChosenLabel() string {
	if !a.Resolved || a.Resolution == nil {
		return ""
	}
	if opt := a.OptionByID(a.Resolution.OptionID); opt != nil {
		return opt.Label
	}
	return ""
}

// Resolve records a resolution. It rejects out-of-range options and
// re-resolution — resolved ambiguities are immutable.
func (a *Ambiguity) Resolve(optionID string, by Resolver) error {
	if a.Resolved {
		return fmt.Errorf("ambiguity %s is already resolved", a.ID)
	}
	if a.OptionByID(optionID) == nil {
		return fmt.Errorf("ambiguity %s has no option %q", a.ID, optionID)
	}
	a.Resolution = &Resolution{OptionID: optionID, ResolvedBy: by}
	a.Resolved = true
	return nil
}
