// Package store persists channel records in SQL.
package store

import (
	"context"
	"errors"

	"github.com/lunarr-ai/a4s/internal/channel"
)

// Store errors. Handlers map ErrNotFound to 404 and ErrConnection to 503.
var (
	ErrNotFound   = errors.New("channel store: channel not found")
	ErrConnection = errors.New("channel store: database operation failed")
)

// Update carries the mutable channel fields for a partial update. Nil fields
// keep their current value.
type Update struct {
	Name        *string
	Description *string
}

// Store is the channel record store.
type Store interface {
	// Create inserts a new channel, stamping created_at and updated_at.
	Create(ctx context.Context, ch *channel.Channel) error

	// Get returns the channel with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*channel.Channel, error)

	// List returns a page of channels ordered by creation time, newest
	// first, plus the total number of channels.
	List(ctx context.Context, offset, limit int) ([]*channel.Channel, int, error)

	// Update applies a partial update and returns the updated channel.
	Update(ctx context.Context, id string, update Update) (*channel.Channel, error)

	// AddAgents appends agent ids to the membership, skipping ids that
	// are already members, and returns the updated channel.
	AddAgents(ctx context.Context, id string, agentIDs []string) (*channel.Channel, error)

	// RemoveAgents drops agent ids from the membership and returns the
	// updated channel. Ids that are not members are ignored.
	RemoveAgents(ctx context.Context, id string, agentIDs []string) (*channel.Channel, error)

	// Delete removes a channel or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Close releases the backing database handles.
	Close() error
}
