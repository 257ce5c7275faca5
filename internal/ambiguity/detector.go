package ambiguity

import (
	"fmt"

	"github.com/arslan70/haytham/internal/parser"
	"github.com/arslan70/haytham/internal/story"
)

// Detector applies the rule table to a parsed story and its source text.
type Detector struct {
	rules []Rule
}

// NewDetector creates a Detector with the given rule set. Pass
// DefaultRules() for the built-in table.
func NewDetector(rules []Rule) *Detector {
	return &Detector{rules: rules}
}

// Detect produces the ordered ambiguity candidate list for a story.
// No classification is assigned here — that is the Classifier's job.
//
// Rules are evaluated in table order against the narrative and then each
// acceptance criterion; duplicate questions about the same span are
// deduplicated by (category, location). Identical input yields an
// identical candidate list.
func (d *Detector) Detect(s *story.Story, p *parser.ParsedStory) []Ambiguity {
	type span struct {
		location string
		text     string
	}
	spans := []span{{location: "narrative", text: s.Narrative}}
	for i, ac := range s.AcceptanceCriteria {
		spans = append(spans, span{location: fmt.Sprintf("criterion[%d]", i), text: ac})
	}

	var out []Ambiguity
	seen := make(map[string]bool) // (category, location) dedupe key
	counts := make(map[Category]int)

	for _, rule := range d.rules {
		if rule.Applies != nil && !rule.Applies(p) {
			continue
		}
		for _, sp := range spans {
			if rule.Trigger != nil && !rule.Trigger.MatchString(sp.text) {
				continue
			}
			key := string(rule.Category) + "|" + sp.location
			if seen[key] {
				continue
			}
			seen[key] = true

			counts[rule.Category]++
			out = append(out, Ambiguity{
				ID:            ambiguityID(s.ID, rule.Category, counts[rule.Category]),
				Category:      rule.Category,
				Location:      sp.location,
				Question:      rule.Question,
				Options:       rule.Options,
				DefaultOption: rule.Default,
			})
		}
	}

	if p.Incomplete {
		// Parse incompleteness is never fatal: it becomes a forced
		// human decision about what the story actually means.
		counts[CategoryScope]++
		out = append(out, Ambiguity{
			ID:       ambiguityID(s.ID, CategoryScope, counts[CategoryScope]),
			Category: CategoryScope,
			Location: "narrative",
			Question: "The story could not be decomposed into actor + action. What is intended?",
			Options: []Option{
				{ID: "a", Label: "Rewrite the story in 'As a ..., I want ...' form"},
				{ID: "b", Label: "Treat it as a technical task with no end-user actor"},
			},
			DefaultOption: "a",
		})
	}

	return out
}

// ambiguityID mints a stable identifier: AMB-<story>-<category>[-n].
// The first ambiguity in a category omits the ordinal so common cases
// read as AMB-S-001-scope.
func ambiguityID(storyID string, c Category, n int) string {
	if n <= 1 {
		return fmt.Sprintf("AMB-%s-%s", storyID, c)
	}
	return fmt.Sprintf("AMB-%s-%s-%d", storyID, c, n)
}

// RuleFor returns the rule that produced an ambiguity, matched by
// (category, question). Used by the classifier to recover signals.
func (d *Detector) RuleFor(a *Ambiguity) *Rule {
	for i := range d.rules {
		r := &d.rules[i]
		if r.Category == a.Category && r.Question == a.Question {
			return r
		}
	}
	return nil
}
