// Package state implements the System State Store: the append-only ledger
// of entities, capabilities, roles, and decisions accumulated across all
// completed stories.
//
// It is backed by SQLite (modernc.org/sqlite, pure Go). Interpretation
// stages only read from it; the single writer is the orchestrator's
// story-completed transition. Appends are idempotent on (kind, name) so a
// retried transition never duplicates ledger rows.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// --- Types ---

// Role is a named actor role known to the system.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Entity is a domain entity introduced by a completed story.
type Entity struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	StoryID string `json:"story_id,omitempty"`
}

// Capability is a system capability introduced by a completed story.
type Capability struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	StoryID string `json:"story_id,omitempty"`
}

// Decision records a resolved product decision for later conflict checks.
type Decision struct {
	ID         string `json:"id"`
	Topic      string `json:"topic"`
	Choice     string `json:"choice"`
	ResolvedBy string `json:"resolved_by"` // "system" or "user"
	StoryID    string `json:"story_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// StoryResults is everything a completed story contributes to the ledger.
type StoryResults struct {
	StoryID      string
	Roles        []string
	Entities     []string
	Capabilities []string
	Decisions    []Decision
}

// Reader is the read-only query interface consumed by the interpretation
// stages. The sqlite Store implements it; tests may substitute fakes.
type Reader interface {
	// ResolveRole returns the id of the closest matching known role, or
	// "" when no role matches (the caller flags this as unresolved).
	ResolveRole(name string) (string, error)
	// EntityExists returns the entity id for a name, or "" if none exists.
	EntityExists(name string) (string, error)
	// CapabilityExists reports whether a named capability exists.
	CapabilityExists(name string) (bool, error)
	// DecisionsFor returns all recorded decisions on a topic.
	DecisionsFor(topic string) ([]Decision, error)
}

// --- Config ---

// Config holds ledger store configuration.
type Config struct {
	DataDir string
}

// DefaultConfig returns the ledger configuration for a workspace root.
func DefaultConfig(workspace string) Config {
	return Config{DataDir: filepath.Join(workspace, "haytham")}
}

// --- Store ---

// Store is the SQLite-backed System State ledger.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the ledger database and runs migrations.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "state.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("state: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("state: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("state: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS roles (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT    NOT NULL UNIQUE,
			story_id   TEXT,
			created_at TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS entities (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT    NOT NULL UNIQUE,
			story_id   TEXT,
			created_at TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS capabilities (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT    NOT NULL UNIQUE,
			story_id   TEXT,
			created_at TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS decisions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			topic       TEXT    NOT NULL,
			choice      TEXT    NOT NULL,
			resolved_by TEXT    NOT NULL DEFAULT 'user',
			story_id    TEXT,
			created_at  TEXT    NOT NULL DEFAULT (datetime('now')),
			UNIQUE(story_id, topic)
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_topic ON decisions(topic);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// --- ID formatting ---

func roleID(n int64) string       { return fmt.Sprintf("R-%03d", n) }
func entityID(n int64) string     { return fmt.Sprintf("E-%03d", n) }
func capabilityID(n int64) string { return fmt.Sprintf("C-%03d", n) }
func decisionID(n int64) string   { return fmt.Sprintf("D-%03d", n) }

// normalize canonicalizes names for case-insensitive matching.
func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// --- Reader implementation ---

// ResolveRole finds the closest matching known role by case-insensitive
// name or singular/plural variant. Returns "" when nothing matches.
func (s *Store) ResolveRole(name string) (string, error) {
	candidates := nameVariants(name)
	for _, c := range candidates {
		var id int64
		err := s.db.QueryRow(
			`SELECT id FROM roles WHERE lower(name) = ?`, c,
		).Scan(&id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("state: resolve role: %w", err)
		}
		return roleID(id), nil
	}
	return "", nil
}

// EntityExists returns the entity id for a name (case-insensitive,
// singular/plural tolerant), or "" if no such entity exists.
func (s *Store) EntityExists(name string) (string, error) {
	candidates := nameVariants(name)
	for _, c := range candidates {
		var id int64
		err := s.db.QueryRow(
			`SELECT id FROM entities WHERE lower(name) = ?`, c,
		).Scan(&id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("state: entity exists: %w", err)
		}
		return entityID(id), nil
	}
	return "", nil
}

// CapabilityExists reports whether a named capability exists.
func (s *Store) CapabilityExists(name string) (bool, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM capabilities WHERE lower(name) = ?`, normalize(name),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("state: capability exists: %w", err)
	}
	return true, nil
}

// DecisionsFor returns all recorded decisions on a topic, oldest first.
func (s *Store) DecisionsFor(topic string) ([]Decision, error) {
	rows, err := s.db.Query(
		`SELECT id, topic, choice, resolved_by, COALESCE(story_id, ''), created_at
		 FROM decisions WHERE lower(topic) = ? ORDER BY id`, normalize(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("state: decisions for %q: %w", topic, err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		var id int64
		if err := rows.Scan(&id, &d.Topic, &d.Choice, &d.ResolvedBy, &d.StoryID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("state: scan decision: %w", err)
		}
		d.ID = decisionID(id)
		out = append(out, d)
	}
	return out, rows.Err()
}

// nameVariants returns lowercase lookup candidates for a name: as-is,
// singularized, and pluralized. Good enough for backlog vocabulary.
func nameVariants(name string) []string {
	n := normalize(name)
	variants := []string{n}
	if strings.HasSuffix(n, "s") && len(n) > 1 {
		variants = append(variants, strings.TrimSuffix(n, "s"))
	} else {
		variants = append(variants, n+"s")
	}
	return variants
}

// --- Listing (for status/resources) ---

// Roles returns all known roles.
func (s *Store) Roles() ([]Role, error) {
	rows, err := s.db.Query(`SELECT id, name FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("state: list roles: %w", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var id int64
		var r Role
		if err := rows.Scan(&id, &r.Name); err != nil {
			return nil, fmt.Errorf("state: scan role: %w", err)
		}
		r.ID = roleID(id)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Entities returns all known entities.
func (s *Store) Entities() ([]Entity, error) {
	rows, err := s.db.Query(`SELECT id, name, COALESCE(story_id, '') FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("state: list entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var id int64
		var e Entity
		if err := rows.Scan(&id, &e.Name, &e.StoryID); err != nil {
			return nil, fmt.Errorf("state: scan entity: %w", err)
		}
		e.ID = entityID(id)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Capabilities returns all known capabilities.
func (s *Store) Capabilities() ([]Capability, error) {
	rows, err := s.db.Query(`SELECT id, name, COALESCE(story_id, '') FROM capabilities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("state: list capabilities: %w", err)
	}
	defer rows.Close()

	var out []Capability
	for rows.Next() {
		var id int64
		var c Capability
		if err := rows.Scan(&id, &c.Name, &c.StoryID); err != nil {
			return nil, fmt.Errorf("state: scan capability: %w", err)
		}
		c.ID = capabilityID(id)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Writer (orchestrator only) ---

// SeedRoles inserts the initial role vocabulary. Used at session setup so
// the parser has something to resolve against. Idempotent on name.
func (s *Store) SeedRoles(names ...string) error {
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO roles (name) VALUES (?)`, normalize(n),
		); err != nil {
			return fmt.Errorf("state: seed role %q: %w", n, err)
		}
	}
	return nil
}

// AppendStoryResults appends a completed story's entities, capabilities,
// roles, and decisions in one transaction. All inserts are idempotent, so
// a retried story-completed transition leaves the ledger unchanged.
func (s *Store) AppendStoryResults(r StoryResults) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("state: begin append: %w", err)
	}
	defer tx.Rollback()

	for _, name := range r.Roles {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO roles (name, story_id) VALUES (?, ?)`,
			normalize(name), r.StoryID,
		); err != nil {
			return fmt.Errorf("state: append role %q: %w", name, err)
		}
	}
	for _, name := range r.Entities {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO entities (name, story_id) VALUES (?, ?)`,
			normalize(name), r.StoryID,
		); err != nil {
			return fmt.Errorf("state: append entity %q: %w", name, err)
		}
	}
	for _, name := range r.Capabilities {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO capabilities (name, story_id) VALUES (?, ?)`,
			normalize(name), r.StoryID,
		); err != nil {
			return fmt.Errorf("state: append capability %q: %w", name, err)
		}
	}
	for _, d := range r.Decisions {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO decisions (topic, choice, resolved_by, story_id)
			 VALUES (?, ?, ?, ?)`,
			normalize(d.Topic), d.Choice, d.ResolvedBy, r.StoryID,
		); err != nil {
			return fmt.Errorf("state: append decision %q: %w", d.Topic, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit append: %w", err)
	}
	return nil
}
