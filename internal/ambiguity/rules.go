package ambiguity

import (
	"regexp"

	"github.com/arslan70/haytham/internal/parser"
)

// Signals are the classification inputs a rule carries. They are static
// per rule, which keeps classification deterministic for identical input.
//
// An ambiguity is decision_required if ANY of the first five hold; it is
// auto_resolvable only if ALL of the last four hold. Ties default to
// decision_required.
type Signals struct {
	AffectsCoreUX      bool
	MultipleApproaches bool
	HardToChange       bool
	CostImplications   bool
	SecuritySensitive  bool

	HasConvention        bool
	CheapToChange        bool
	LowUserImpact        bool
	ImplementationDetail bool
}

// Rule is one declarative detection rule: a linguistic trigger plus a
// parameterized question with enumerated options and a default.
type Rule struct {
	Name     string
	Category Category
	// Trigger fires the rule when it matches the story narrative or an
	// acceptance criterion. Nil triggers rely solely on Applies.
	Trigger *regexp.Regexp
	// Applies optionally gates the rule on the parsed structure.
	Applies  func(p *parser.ParsedStory) bool
	Question string
	Options  []Option
	Default  string
	// Assumption is the system-generated assumption recorded when this
	// rule's ambiguity is auto-resolved to its default.
	Assumption string
	Signals    Signals
}

// DefaultRules returns the built-in detection rule set, in evaluation
// order. The order is part of detector determinism.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "search-scope",
			Category: CategoryScope,
			Trigger:  regexp.MustCompile(`(?i)\b(search|find|look up)\b`),
			Question: "What should the search match against?",
			Options: []Option{
				{ID: "a", Label: "Title only"},
				{ID: "b", Label: "Title and content"},
				{ID: "c", Label: "Full-text search"},
			},
			Default: "b",
			Signals: Signals{AffectsCoreUX: true, MultipleApproaches: true},
		},
		{
			Name:     "possessive-scope",
			Category: CategoryScope,
			Trigger:  regexp.MustCompile(`(?i)\b(?:my|our)\s+\w+s\b`),
			Applies: func(p *parser.ParsedStory) bool {
				// Only meaningful when the story acts on a collection.
				return p.Object != ""
			},
			Question: "Does this cover all of the user's items, or only a subset?",
			Options: []Option{
				{ID: "a", Label: "All items owned by the user"},
				{ID: "b", Label: "Only items the user created in this session"},
				{ID: "c", Label: "Items matching an explicit filter"},
			},
			Default: "a",
			Signals: Signals{MultipleApproaches: true},
		},
		{
			Name:     "vague-recipient",
			Category: CategoryTarget,
			Trigger:  regexp.MustCompile(`(?i)\b(share|send|notify)\b.*\b(someone|anyone|others|people|users)\b`),
			Question: "Who exactly should receive this?",
			Options: []Option{
				{ID: "a", Label: "Specific users chosen each time"},
				{ID: "b", Label: "A fixed group or team"},
				{ID: "c", Label: "Anyone with a link"},
			},
			Default: "a",
			Signals: Signals{AffectsCoreUX: true, SecuritySensitive: true},
		},
		{
			Name:     "unnamed-mechanism",
			Category: CategoryMechanism,
			Trigger:  regexp.MustCompile(`(?i)\b(sync|export|import|backup|integrate)\b`),
			Question: "Through what mechanism or format should this happen?",
			Options: []Option{
				{ID: "a", Label: "Standard file format (JSON/CSV)"},
				{ID: "b", Label: "Third-party service integration"},
				{ID: "c", Label: "Built-in custom mechanism"},
			},
			Default: "a",
			Signals: Signals{MultipleApproaches: true, CostImplications: true},
		},
		{
			Name:     "notification-channel",
			Category: CategoryMechanism,
			Trigger:  regexp.MustCompile(`(?i)\b(notify|remind|alert)\b`),
			Question: "Which channel should deliver the notification?",
			Options: []Option{
				{ID: "a", Label: "In-app notification"},
				{ID: "b", Label: "Email"},
				{ID: "c", Label: "Push notification"},
			},
			Default: "a",
			Signals: Signals{MultipleApproaches: true, CostImplications: true},
		},
		{
			Name:     "permission-boundary",
			Category: CategoryPermission,
			Trigger:  regexp.MustCompile(`(?i)\b(private|only|admin|restricted|permission)\b`),
			Question: "Who is allowed to perform this action?",
			Options: []Option{
				{ID: "a", Label: "Only the owner"},
				{ID: "b", Label: "Owner and explicitly granted users"},
				{ID: "c", Label: "Any authenticated user"},
			},
			Default: "a",
			Signals: Signals{SecuritySensitive: true, HardToChange: true},
		},
		{
			Name:     "delete-lifecycle",
			Category: CategoryLifecycle,
			Trigger:  regexp.MustCompile(`(?i)\b(delete|remove|archive)\b`),
			Question: "Should deletion be reversible?",
			Options: []Option{
				{ID: "a", Label: "Soft delete with restore"},
				{ID: "b", Label: "Permanent delete with confirmation"},
				{ID: "c", Label: "Archive only, never delete"},
			},
			Default: "a",
			Signals: Signals{HardToChange: true, AffectsCoreUX: true},
		},
		{
			Name:     "empty-result",
			Category: CategoryEdgeCase,
			Trigger:  regexp.MustCompile(`(?i)\b(search|find|list|filter|browse)\b`),
			Question: "What should the user see when there are no results?",
			Options: []Option{
				{ID: "a", Label: "An empty-state message"},
				{ID: "b", Label: "Suggested alternatives"},
			},
			Default:    "a",
			Assumption: "An empty result set shows a standard empty-state message.",
			Signals: Signals{
				HasConvention: true, CheapToChange: true,
				LowUserImpact: true, ImplementationDetail: true,
			},
		},
		{
			Name:     "duplicate-handling",
			Category: CategoryEdgeCase,
			Trigger:  regexp.MustCompile(`(?i)\b(create|add|register|upload)\b`),
			Question: "How should duplicates be handled?",
			Options: []Option{
				{ID: "a", Label: "Allow duplicates"},
				{ID: "b", Label: "Reject with an error"},
				{ID: "c", Label: "Merge silently"},
			},
			Default: "a",
			Signals: Signals{MultipleApproaches: true},
		},
		{
			Name:     "vague-constraint",
			Category: CategoryConstraint,
			Trigger:  regexp.MustCompile(`(?i)\b(fast|quick|quickly|instant|secure|scalable|reliable)\b`),
			Question: "This quality constraint is unquantified — what is the acceptable bound?",
			Options: []Option{
				{ID: "a", Label: "Interactive (< 1 second)"},
				{ID: "b", Label: "Near-real-time (< 10 seconds)"},
				{ID: "c", Label: "Batch (minutes acceptable)"},
			},
			Default:    "a",
			Assumption: "Unquantified quality terms are read as interactive-grade (< 1 second).",
			Signals: Signals{
				HasConvention: true, CheapToChange: true,
				LowUserImpact: true, ImplementationDetail: true,
			},
		},
		{
			Name:     "search-interaction",
			Category: CategoryUI,
			Trigger:  regexp.MustCompile(`(?i)\b(search|filter|find)\b`),
			Question: "Should results update instantly as the user types, or after an explicit submit?",
			Options: []Option{
				{ID: "a", Label: "Instant search"},
				{ID: "b", Label: "Explicit submit"},
			},
			Default:    "a",
			Assumption: "Search is case-insensitive and results update instantly as the user types.",
			Signals: Signals{
				HasConvention: true, CheapToChange: true,
				LowUserImpact: true, ImplementationDetail: true,
			},
		},
	}
}
