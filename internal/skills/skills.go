// Package skills is the registry of agent skills: reusable instruction
// bundles (a SKILL.md body plus supporting files) agents pull in to perform
// specific tasks. Skills are stored in SQL with an embedding per skill so
// they can be found by semantic search.
package skills

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"
)

// Registry errors. Handlers map ErrNotFound to 404, ErrValidation to 400,
// and ErrConnection to 503.
var (
	ErrNotFound   = errors.New("skills: skill not found")
	ErrValidation = errors.New("skills: invalid skill")
	ErrConnection = errors.New("skills: registry operation failed")
)

// Name, description, and compatibility bounds, matching the agentskills
// specification.
const (
	maxNameLen          = 64
	maxDescriptionLen   = 1024
	maxCompatibilityLen = 500
)

var nameRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Skill is one registered skill. Metadata holds free-form tags; AllowedTools
// names the tools an agent may use while the skill is active.
type Skill struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Body          string            `json:"body"`
	License       string            `json:"license,omitempty"`
	Compatibility string            `json:"compatibility,omitempty"`
	Metadata      map[string]string `json:"metadata"`
	AllowedTools  []string          `json:"allowed_tools"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// SkillFile is one file bundled with a skill (scripts, references, assets).
// Content is omitted from listings.
type SkillFile struct {
	ID        int64     `json:"id"`
	SkillID   int64     `json:"skill_id"`
	Path      string    `json:"path"`
	Content   []byte    `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the skill against the agentskills constraints. Violations
// are reported as wrapped ErrValidation.
func (s *Skill) Validate() error {
	if n := utf8.RuneCountInString(s.Name); n < 1 || n > maxNameLen {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrValidation, maxNameLen)
	}
	if !nameRe.MatchString(s.Name) {
		return fmt.Errorf("%w: name must be lowercase alphanumeric with hyphens", ErrValidation)
	}
	if n := utf8.RuneCountInString(s.Description); n < 1 || n > maxDescriptionLen {
		return fmt.Errorf("%w: description must be 1-%d characters", ErrValidation, maxDescriptionLen)
	}
	if utf8.RuneCountInString(s.Compatibility) > maxCompatibilityLen {
		return fmt.Errorf("%w: compatibility must be at most %d characters", ErrValidation, maxCompatibilityLen)
	}
	return nil
}

// Document is the text embedded for semantic search over skills.
func (s *Skill) Document() string {
	return s.Name + " " + s.Description
}

// Store is the skill registry.
type Store interface {
	// Register validates and inserts a skill with its files, assigning
	// the skill's ID and timestamps. A name collision is an ErrValidation.
	Register(ctx context.Context, skill *Skill, files []SkillFile) error

	// Unregister removes a skill, its files, and its embedding.
	Unregister(ctx context.Context, id int64) error

	// Get returns the skill with the given id or ErrNotFound.
	Get(ctx context.Context, id int64) (*Skill, error)

	// GetByName returns the skill with the given unique name or ErrNotFound.
	GetByName(ctx context.Context, name string) (*Skill, error)

	// Files lists a skill's files without their content.
	Files(ctx context.Context, skillID int64) ([]SkillFile, error)

	// FileByPath returns one of a skill's files, content included.
	FileByPath(ctx context.Context, skillID int64, path string) (*SkillFile, error)

	// List returns a page of skills ordered by name plus the total count.
	List(ctx context.Context, offset, limit int) ([]*Skill, int, error)

	// Search returns up to limit skills ranked by relevance to the query.
	Search(ctx context.Context, query string, limit int) ([]*Skill, error)

	// Close releases the backing database handles.
	Close() error
}
