// Package parser decomposes raw story text into structured components.
//
// The grammar is fixed: Actor + Action + Object + [Condition] + Outcome.
// Stories in the canonical "As a X, I want to Y, so that Z" form map
// directly; imperative stories ("Search my notes") fall back to verb-first
// extraction with no actor. A story that cannot produce an actor and an
// action is tagged incomplete — the pipeline converts that into a forced
// decision, never a fatal error.
//
// Parsing is deterministic: identical input text against identical system
// state always yields an identical ParsedStory.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/arslan70/haytham/internal/state"
	"github.com/arslan70/haytham/internal/story"
)

// --- Action classification ---

// ActionClass buckets an action verb by its system effect.
type ActionClass string

const (
	ActionCreate        ActionClass = "create"
	ActionRead          ActionClass = "read"
	ActionUpdate        ActionClass = "update"
	ActionDelete        ActionClass = "delete"
	ActionDistribution  ActionClass = "distribution"
	ActionCommunication ActionClass = "communication"
)

// verbLexicon maps action verbs to their classification. The table is the
// extension point: adding a verb never touches control flow.
var verbLexicon = map[string]ActionClass{
	"create":   ActionCreate,
	"add":      ActionCreate,
	"write":    ActionCreate,
	"record":   ActionCreate,
	"register": ActionCreate,
	"save":     ActionCreate,
	"upload":   ActionCreate,

	"read":   ActionRead,
	"view":   ActionRead,
	"see":    ActionRead,
	"search": ActionRead,
	"find":   ActionRead,
	"browse": ActionRead,
	"list":   ActionRead,
	"filter": ActionRead,

	"update": ActionUpdate,
	"edit":   ActionUpdate,
	"change": ActionUpdate,
	"rename": ActionUpdate,
	"tag":    ActionUpdate,
	"sort":   ActionUpdate,
	"move":   ActionUpdate,

	"delete":  ActionDelete,
	"remove":  ActionDelete,
	"archive": ActionDelete,
	"clear":   ActionDelete,

	"share":   ActionDistribution,
	"export":  ActionDistribution,
	"publish": ActionDistribution,
	"sync":    ActionDistribution,
	"send":    ActionDistribution,

	"notify":  ActionCommunication,
	"email":   ActionCommunication,
	"message": ActionCommunication,
	"remind":  ActionCommunication,
	"alert":   ActionCommunication,
}

// ClassifyVerb returns the action class for a verb, defaulting to update
// for verbs outside the lexicon (a mutation is the conservative guess).
func ClassifyVerb(verb string) ActionClass {
	if c, ok := verbLexicon[strings.ToLower(verb)]; ok {
		return c
	}
	return ActionUpdate
}

// --- Parsed output types ---

// RoleUnresolved is the sentinel role id when no known role matches.
const RoleUnresolved = "unresolved"

// EntityRef is a noun the story references, with its existence status
// against the System State ledger.
type EntityRef struct {
	Name     string `json:"name"`
	EntityID string `json:"entity_id,omitempty"` // empty = needs creation
	Exists   bool   `json:"exists"`
}

// CriterionTriple is one acceptance criterion split into
// precondition / trigger / postcondition.
type CriterionTriple struct {
	Precondition  string `json:"precondition,omitempty"`
	Trigger       string `json:"trigger,omitempty"`
	Postcondition string `json:"postcondition"`
}

// ParsedStory is the structured decomposition of one story. It is owned by
// the story it was derived from and recomputed, never patched.
type ParsedStory struct {
	StoryID     string      `json:"story_id"`
	ActorRole   string      `json:"actor_role,omitempty"`
	RoleID      string      `json:"role_id"` // resolved id or "unresolved"
	ActionVerb  string      `json:"action_verb,omitempty"`
	ActionClass ActionClass `json:"action_class,omitempty"`
	Object      string      `json:"object,omitempty"`
	// ObjectEntityID is the existing entity id, or empty when the object
	// needs creation.
	ObjectEntityID string            `json:"object_entity_id,omitempty"`
	Condition      string            `json:"condition,omitempty"`
	Outcome        string            `json:"outcome,omitempty"`
	Entities       []EntityRef       `json:"entities,omitempty"`
	Criteria       []CriterionTriple `json:"criteria,omitempty"`
	// Incomplete marks stories missing an actor or action. The pipeline
	// converts this into a forced decision_required ambiguity.
	Incomplete bool `json:"incomplete,omitempty"`
}

// --- Parser ---

// Parser decomposes stories against the current System State.
type Parser struct {
	ledger state.Reader
}

// New creates a Parser reading roles and entities from the given ledger.
func New(ledger state.Reader) *Parser {
	return &Parser{ledger: ledger}
}

var (
	// "As a user, I want to search my notes(, so that I can find things)"
	asAPattern = regexp.MustCompile(`(?is)^\s*as\s+an?\s+([^,]+),\s*I\s+(?:want|need|would like)\s+(?:to\s+|be able to\s+)?(.+?)(?:[,.]?\s*so that\s+(.+?))?\s*\.?\s*$`)
	// "When X happens, Y" condition split for imperative narratives.
	whenPattern = regexp.MustCompile(`(?is)^\s*when\s+(.+?),\s*(.+)$`)
	// Given / When / Then acceptance criterion.
	gwtPattern = regexp.MustCompile(`(?is)^\s*(?:given\s+(.+?)[,.]?\s*)?when\s+(.+?)[,.]?\s*then\s+(.+?)\s*\.?\s*$`)
)

// articles and qualifiers stripped when extracting the object noun.
var objectStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "my": true, "our": true,
	"all": true, "any": true, "some": true,
}

// Parse decomposes a story into its grammar components and resolves the
// actor role and referenced entities against the ledger.
func (p *Parser) Parse(s *story.Story) (*ParsedStory, error) {
	parsed := &ParsedStory{StoryID: s.ID, RoleID: RoleUnresolved}

	text := strings.TrimSpace(s.Narrative)
	if m := asAPattern.FindStringSubmatch(text); m != nil {
		parsed.ActorRole = strings.TrimSpace(m[1])
		parsed.Outcome = strings.TrimSpace(m[3])
		p.parseActionClause(parsed, strings.TrimSpace(m[2]))
	} else {
		// Imperative fallback: "(When X,) verb object ...". No actor.
		clause := text
		if m := whenPattern.FindStringSubmatch(text); m != nil {
			parsed.Condition = strings.TrimSpace(m[1])
			clause = strings.TrimSpace(m[2])
		}
		p.parseActionClause(parsed, clause)
	}

	if parsed.ActorRole == "" || parsed.ActionVerb == "" {
		parsed.Incomplete = true
	}

	if parsed.ActorRole != "" {
		roleID, err := p.ledger.ResolveRole(parsed.ActorRole)
		if err != nil {
			return nil, fmt.Errorf("resolving role %q: %w", parsed.ActorRole, err)
		}
		if roleID != "" {
			parsed.RoleID = roleID
		}
	}

	if err := p.resolveEntities(parsed); err != nil {
		return nil, err
	}

	for _, ac := range s.AcceptanceCriteria {
		parsed.Criteria = append(parsed.Criteria, splitCriterion(ac))
	}

	return parsed, nil
}

// parseActionClause extracts verb, object, and an optional trailing
// condition from an action clause like "search my notes when offline".
func (p *Parser) parseActionClause(parsed *ParsedStory, clause string) {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return
	}

	// A trailing "when ..." is a condition on the action.
	if idx := indexWordI(clause, "when"); idx > 0 && parsed.Condition == "" {
		parsed.Condition = strings.TrimSpace(clause[idx+len("when"):])
		clause = strings.TrimSpace(clause[:idx])
	}

	words := strings.Fields(clause)
	if len(words) == 0 {
		return
	}

	verb := strings.ToLower(strings.Trim(words[0], ".,!?"))
	if _, ok := verbLexicon[verb]; !ok && len(words) == 1 {
		// Single unknown word is not an action.
		return
	}
	parsed.ActionVerb = verb
	parsed.ActionClass = ClassifyVerb(verb)
	parsed.Object = extractObject(words[1:])
}

// extractObject returns the object noun phrase with articles and
// possessives stripped, stopping at a preposition.
func extractObject(words []string) string {
	var kept []string
	for _, w := range words {
		lw := strings.ToLower(strings.Trim(w, ".,!?"))
		if objectStopWords[lw] {
			continue
		}
		switch lw {
		case "with", "to", "from", "by", "in", "on", "for", "so", "and":
			// Preposition ends the object phrase.
			if len(kept) > 0 {
				return strings.Join(kept, " ")
			}
			continue
		}
		kept = append(kept, strings.Trim(w, ".,!?"))
	}
	return strings.Join(kept, " ")
}

// resolveEntities looks up the object noun (and its head word) against the
// ledger and records existence status.
func (p *Parser) resolveEntities(parsed *ParsedStory) error {
	if parsed.Object == "" {
		return nil
	}

	names := []string{parsed.Object}
	// Also try the head noun of a multi-word object ("note tags" → "tags").
	if fields := strings.Fields(parsed.Object); len(fields) > 1 {
		names = append(names, fields[len(fields)-1])
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		id, err := p.ledger.EntityExists(name)
		if err != nil {
			return fmt.Errorf("checking entity %q: %w", name, err)
		}
		ref := EntityRef{Name: name, EntityID: id, Exists: id != ""}
		parsed.Entities = append(parsed.Entities, ref)
		if name == parsed.Object && id != "" {
			parsed.ObjectEntityID = id
		}
	}
	return nil
}

// splitCriterion decomposes one acceptance criterion into a
// precondition/trigger/postcondition triple. Criteria not in
// Given/When/Then form become postcondition-only triples.
func splitCriterion(criterion string) CriterionTriple {
	if m := gwtPattern.FindStringSubmatch(criterion); m != nil {
		return CriterionTriple{
			Precondition:  strings.TrimSpace(m[1]),
			Trigger:       strings.TrimSpace(m[2]),
			Postcondition: strings.TrimSpace(m[3]),
		}
	}
	return CriterionTriple{Postcondition: strings.TrimSpace(criterion)}
}

// indexWordI finds a whole lowercase word in s, case-insensitively.
// Returns -1 if absent.
func indexWordI(s, word string) int {
	ls := strings.ToLower(s)
	idx := 0
	for {
		i := strings.Index(ls[idx:], word)
		if i < 0 {
			return -1
		}
		i += idx
		beforeOK := i == 0 || ls[i-1] == ' '
		after := i + len(word)
		afterOK := after == len(ls) || ls[after] == ' ' || ls[after] == ','
		if beforeOK && afterOK {
			return i
		}
		idx = i + len(word)
	}
}
