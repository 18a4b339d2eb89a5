package handlers

import (
	"github.com/lunarr-ai/a4s/internal/agent"
	"github.com/lunarr-ai/a4s/internal/channel"
)

// CreateChannelRequest is the body for POST /channels.
type CreateChannelRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description" binding:"required"`
	AgentIDs    []string `json:"agent_ids"`
	OwnerID     string   `json:"owner_id" binding:"required"`
}

// UpdateChannelRequest carries a partial update; nil fields are untouched.
type UpdateChannelRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// MembersRequest names agents to add to or remove from a channel.
type MembersRequest struct {
	AgentIDs []string `json:"agent_ids" binding:"required"`
}

// ChannelListResponse is a page of channels plus the full count.
type ChannelListResponse struct {
	Channels []*channel.Channel `json:"channels"`
	Total    int                `json:"total"`
}

// ChannelAgentSearchResponse holds the channel members matching a query.
type ChannelAgentSearchResponse struct {
	Agents []*agent.Agent `json:"agents"`
}

// ChatRequest is the body for POST /channels/{id}/chat. A nil AgentIDs asks
// the backbone to pick candidates; a non-nil list (even empty) fans the
// message out to exactly those members.
type ChatRequest struct {
	Message  string   `json:"message" binding:"required"`
	AgentIDs []string `json:"agent_ids"`
}
