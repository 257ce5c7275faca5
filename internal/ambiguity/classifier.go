package ambiguity

import "log"

// Classifier assigns the binary classification to detected ambiguities.
//
// The bias is conservative: any decision signal forces decision_required;
// auto_resolvable requires every auto signal; a rule carrying neither set
// is a tie and defaults to decision_required (logged, not an error).
type Classifier struct {
	detector *Detector
}

// NewClassifier creates a Classifier that recovers signals from the
// detector's rule table.
func NewClassifier(detector *Detector) *Classifier {
	return &Classifier{detector: detector}
}

// Classify assigns a classification to each ambiguity in place and applies
// the default resolution to auto-resolvable items.
//
// Classification is write-once: already classified ambiguities are left
// untouched, so re-running the classifier after a resume or a human
// decision never changes an assigned label.
func (c *Classifier) Classify(ambiguities []Ambiguity) {
	for i := range ambiguities {
		a := &ambiguities[i]
		if a.Classification != "" {
			continue
		}

		rule := c.detector.RuleFor(a)
		a.Classification = classify(rule)

		if a.Classification == AutoResolvable {
			// Auto-resolution picks the recommended default; the
			// resulting assumption surfaces in the final artifact.
			_ = a.Resolve(a.DefaultOption, ResolvedBySystem)
		}
	}
}

// classify maps a rule's signals to the binary label.
func classify(rule *Rule) Classification {
	if rule == nil {
		// No originating rule (e.g. forced incompleteness question):
		// always a human decision.
		return DecisionRequired
	}

	s := rule.Signals
	if s.AffectsCoreUX || s.MultipleApproaches || s.HardToChange ||
		s.CostImplications || s.SecuritySensitive {
		return DecisionRequired
	}
	if s.HasConvention && s.CheapToChange && s.LowUserImpact && s.ImplementationDetail {
		return AutoResolvable
	}

	// Tie: when signal is ambiguous, ask rather than assume.
	log.Printf("ambiguity: rule %q has no decisive signals, defaulting to decision_required", rule.Name)
	return DecisionRequired
}

// AssumptionFor returns the system-generated assumption string for an
// auto-resolved ambiguity, falling back to a generic sentence when the
// rule declares none.
func (c *Classifier) AssumptionFor(a *Ambiguity) string {
	if !a.Resolved || a.Resolution == nil || a.Resolution.ResolvedBy != ResolvedBySystem {
		return ""
	}
	if rule := c.detector.RuleFor(a); rule != nil && rule.Assumption != "" {
		return rule.Assumption
	}
	return "Assumed: " + a.ChosenLabel() + " (" + a.Question + ")"
}
