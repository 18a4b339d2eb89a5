// Package registry stores agent records and serves semantic agent search.
package registry

import (
	"context"
	"errors"

	"github.com/lunarr-ai/a4s/internal/agent"
)

// Errors returned by registry implementations. Handlers map ErrNotRegistered
// to 404 and ErrConnection to 503.
var (
	ErrNotRegistered = errors.New("registry: agent not registered")
	ErrConnection    = errors.New("registry: connection failed")
)

// SearchHit is one semantic search result.
type SearchHit struct {
	Agent *agent.Agent `json:"agent"`
	Score float64      `json:"score"`
}

// Registry is the agent record store.
type Registry interface {
	// Register stores an agent record, replacing any existing record with
	// the same id, and indexes it for search.
	Register(ctx context.Context, a *agent.Agent) error

	// Get returns the agent with the given id or ErrNotRegistered.
	Get(ctx context.Context, id string) (*agent.Agent, error)

	// List returns a page of agents ordered by creation time, oldest first,
	// plus the total number of registered agents.
	List(ctx context.Context, offset, limit int) ([]*agent.Agent, int, error)

	// Search returns up to limit agents ranked by semantic similarity to
	// the query, best first.
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)

	// Unregister removes an agent record or returns ErrNotRegistered.
	Unregister(ctx context.Context, id string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing connection.
	Close() error
}
