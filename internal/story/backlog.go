package story

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Backlog is the ordered collection of stories for one session.
//
// Scheduling order is (priority rank, numeric id) — a later story never
// starts before an earlier one. The slice itself preserves insertion order;
// ordering is applied at selection time so insertions stay cheap.
type Backlog struct {
	Stories []Story `json:"stories" yaml:"stories"`
}

// ParseBacklog decodes a backlog input document. YAML is a superset of
// JSON, so a single decoder handles both input contracts.
//
// Missing IDs are minted in input order, continuing from the highest
// sequence already present. Duplicate explicit IDs are rejected.
func ParseBacklog(data []byte) (*Backlog, error) {
	var b Backlog
	if err := yaml.Unmarshal(data, &b); err != nil {
		// A bare top-level list is accepted as well as the
		// {stories: [...]} wrapper; the struct decode rejects it.
		var list []Story
		if yaml.Unmarshal(data, &list) != nil {
			return nil, fmt.Errorf("parsing backlog: %w", err)
		}
		b.Stories = list
	}
	if len(b.Stories) == 0 {
		return nil, fmt.Errorf("parsing backlog: no stories found")
	}

	now := timeNow().UTC().Format(timeLayout)
	seen := make(map[string]bool, len(b.Stories))
	maxSeq := 0
	for i := range b.Stories {
		s := &b.Stories[i]
		if s.ID != "" {
			if err := ValidateID(s.ID); err != nil {
				return nil, err
			}
			if seen[s.ID] {
				return nil, fmt.Errorf("duplicate story id %q", s.ID)
			}
			seen[s.ID] = true
			if seq := ParseSeq(s.ID); seq > maxSeq {
				maxSeq = seq
			}
		}
	}
	for i := range b.Stories {
		s := &b.Stories[i]
		if s.ID == "" {
			maxSeq++
			s.ID = FormatID(maxSeq)
		}
		if s.Status == "" {
			s.Status = StatusPending
		}
		if s.Origin == "" {
			s.Origin = OriginBacklog
		}
		if s.CreatedAt == "" {
			s.CreatedAt = now
		}
		s.UpdatedAt = now
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

// Get returns the story with the given id, or nil if absent.
func (b *Backlog) Get(id string) *Story {
	for i := range b.Stories {
		if b.Stories[i].ID == id {
			return &b.Stories[i]
		}
	}
	return nil
}

// NextPending returns the pending story with the lowest (priority, id)
// scheduling rank, or nil when no pending stories remain. Generated
// prerequisite stories rank at their parent's slot, not at their own
// minted id, so they run before later backlog stories of the same tier.
func (b *Backlog) NextPending() *Story {
	var next *Story
	for i := range b.Stories {
		s := &b.Stories[i]
		if s.Status != StatusPending {
			continue
		}
		if next == nil || b.before(s, next) {
			next = s
		}
	}
	return next
}

// schedSeq returns the sequence a story is scheduled at: its own, or for a
// generated prerequisite story, the sequence of the backlog story it was
// ultimately spawned under.
func (b *Backlog) schedSeq(s *Story) int {
	for s.Origin == OriginPrerequisite && s.ParentID != "" {
		parent := b.Get(s.ParentID)
		if parent == nil {
			break
		}
		s = parent
	}
	return ParseSeq(s.ID)
}

// before reports whether x should be scheduled ahead of y.
func (b *Backlog) before(x, y *Story) bool {
	if x.Priority.Rank() != y.Priority.Rank() {
		return x.Priority.Rank() < y.Priority.Rank()
	}
	xs, ys := b.schedSeq(x), b.schedSeq(y)
	if xs != ys {
		return xs < ys
	}
	// Same slot: a prerequisite story precedes the story that needs it.
	if (x.Origin == OriginPrerequisite) != (y.Origin == OriginPrerequisite) {
		return x.Origin == OriginPrerequisite
	}
	return ParseSeq(x.ID) < ParseSeq(y.ID)
}

// NextID mints the next unused story identifier.
func (b *Backlog) NextID() string {
	maxSeq := 0
	for i := range b.Stories {
		if seq := ParseSeq(b.Stories[i].ID); seq > maxSeq {
			maxSeq = seq
		}
	}
	return FormatID(maxSeq + 1)
}

// InsertBefore adds a generated story so that it is scheduled ahead of the
// story identified by beforeID: it inherits that story's priority tier and
// is placed immediately before it in the slice. Selection honors the slot
// through schedSeq, which ranks a prerequisite story at its parent's
// sequence rather than its own minted id.
func (b *Backlog) InsertBefore(beforeID string, s Story) error {
	parent := b.Get(beforeID)
	if parent == nil {
		return fmt.Errorf("story %q not found", beforeID)
	}
	s.Priority = parent.Priority
	if s.ID == "" {
		s.ID = b.NextID()
	} else if b.Get(s.ID) != nil {
		return fmt.Errorf("duplicate story id %q", s.ID)
	}
	now := timeNow().UTC().Format(timeLayout)
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = StatusPending
	}
	if err := s.Validate(); err != nil {
		return err
	}

	idx := 0
	for i := range b.Stories {
		if b.Stories[i].ID == beforeID {
			idx = i
			break
		}
	}
	b.Stories = append(b.Stories, Story{})
	copy(b.Stories[idx+1:], b.Stories[idx:])
	b.Stories[idx] = s
	return nil
}

// SetStatus updates a story's status and timestamp.
func (b *Backlog) SetStatus(id string, status Status) error {
	if err := ValidateStatus(status); err != nil {
		return err
	}
	s := b.Get(id)
	if s == nil {
		return fmt.Errorf("story %q not found", id)
	}
	s.Status = status
	s.UpdatedAt = timeNow().UTC().Format(timeLayout)
	return nil
}

// Counts returns (completed, total) story counts.
func (b *Backlog) Counts() (completed, total int) {
	for i := range b.Stories {
		if b.Stories[i].Status == StatusCompleted {
			completed++
		}
	}
	return completed, len(b.Stories)
}

// Sorted returns a copy of the stories in scheduling order.
func (b *Backlog) Sorted() []Story {
	out := make([]Story, len(b.Stories))
	copy(out, b.Stories)
	sort.SliceStable(out, func(i, j int) bool {
		return b.before(&out[i], &out[j])
	})
	return out
}
