// Package memory scopes long-term agent memory and guards who may write it.
// The storage itself lives in an external memory engine; this package defines
// the manager contract, the request and result shapes, and the ownership rule
// every write path enforces.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Errors surfaced by memory managers. Handlers map ErrPermissionDenied to 403
// and ErrNotFound to 404; everything else is an engine failure.
var (
	ErrPermissionDenied = errors.New("memory: permission denied")
	ErrNotFound         = errors.New("memory: memory not found")
)

// MaxDocumentSize is the largest document accepted for ingestion, in
// characters.
const MaxDocumentSize = 100000

// DocumentFormats maps accepted document file extensions to the format tag
// sent to the engine.
var DocumentFormats = map[string]string{
	".md":  "markdown",
	".txt": "text",
}

// Memory is one stored memory unit. Score is set only on search results.
type Memory struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Score    *float64               `json:"score,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Turn is one utterance of a conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Messages is the content of a new memory: either a plain text note or a
// conversation transcript. Exactly one of Text and Turns is meaningful.
type Messages struct {
	Text  string
	Turns []Turn
}

// ParseMessages decodes the wire form of Messages, which is either a JSON
// string or an array of {role, content} objects.
func ParseMessages(data []byte) (Messages, error) {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return Messages{Text: text}, nil
	}
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err == nil {
		return Messages{Turns: turns}, nil
	}
	return Messages{}, errors.New("messages must be a string or a list of {role, content} turns")
}

// Flatten renders the content as a single text block, one "role: content"
// line per turn.
func (m Messages) Flatten() string {
	if m.Turns == nil {
		return m.Text
	}
	lines := make([]string, len(m.Turns))
	for i, t := range m.Turns {
		lines[i] = t.Role + ": " + t.Content
	}
	return strings.Join(lines, "\n")
}

// AddRequest stores new content in an agent's memory.
type AddRequest struct {
	Messages Messages
	AgentID  string
	Metadata map[string]interface{}
}

// SearchRequest queries an agent's memory.
type SearchRequest struct {
	Query   string
	AgentID string
	Limit   int
}

// IngestRequest queues a whole document for asynchronous extraction into an
// agent's memory.
type IngestRequest struct {
	Content string
	AgentID string
	Format  string
	Source  string
}

// Queued acknowledges a write the engine processes asynchronously.
type Queued struct {
	Message string `json:"message"`
	GroupID string `json:"group_id"`
}

// AddResult is the engine's answer to an add. Engines with a synchronous
// write path return the stored Memory; queueing engines return Queued.
// Exactly one field is set.
type AddResult struct {
	Memory *Memory
	Queued *Queued
}

// IngestAck acknowledges a queued document ingestion.
type IngestAck struct {
	Message string `json:"message"`
	Source  string `json:"source"`
}

// Manager is the memory subsystem contract. Add, Delete, and IngestDocument
// mutate an agent's memory and require the requester to be the agent's owner.
type Manager interface {
	Add(ctx context.Context, req AddRequest, ownerID, requesterID string) (*AddResult, error)
	Search(ctx context.Context, req SearchRequest) ([]Memory, error)
	Update(ctx context.Context, id, content string) (*Memory, error)
	Delete(ctx context.Context, id, ownerID, requesterID string) error
	IngestDocument(ctx context.Context, req IngestRequest, ownerID, requesterID string) (*IngestAck, error)
	Close() error
}

// authorizeWrite enforces the ownership rule shared by every write path.
func authorizeWrite(ownerID, requesterID, action string) error {
	if requesterID != ownerID {
		return fmt.Errorf("%w: only the owner can %s agent memory", ErrPermissionDenied, action)
	}
	return nil
}
