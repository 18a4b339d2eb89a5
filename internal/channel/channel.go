// Package channel defines channel records: named groups of agents that
// receive chat messages together.
package channel

import (
	"time"

	"github.com/google/uuid"
)

// Channel groups agents for chat routing, fan-out, and scoped agent search.
// AgentIDs holds the membership in insertion order.
type Channel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	AgentIDs    []string  `json:"agent_ids"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GenerateID returns a fresh channel id.
func GenerateID() string {
	return uuid.New().String()
}

// HasAgent reports whether id is a member of the channel.
func (c *Channel) HasAgent(id string) bool {
	for _, member := range c.AgentIDs {
		if member == id {
			return true
		}
	}
	return false
}

// AddAgents appends the ids that are not already members, preserving both the
// existing order and the order of ids.
func (c *Channel) AddAgents(ids []string) {
	for _, id := range ids {
		if !c.HasAgent(id) {
			c.AgentIDs = append(c.AgentIDs, id)
		}
	}
}

// RemoveAgents drops ids from the membership. Ids that are not members are
// ignored.
func (c *Channel) RemoveAgents(ids []string) {
	if len(ids) == 0 || len(c.AgentIDs) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := make([]string, 0, len(c.AgentIDs))
	for _, member := range c.AgentIDs {
		if _, gone := drop[member]; !gone {
			kept = append(kept, member)
		}
	}
	c.AgentIDs = kept
}
