package handlers

import (
	"github.com/lunarr-ai/a4s/internal/agent"
)

// RegisterAgentRequest is the body for POST /agents. URL is only supplied for
// external agents; managed agents get a generated in-network URL and must
// carry a spawn_config instead.
type RegisterAgentRequest struct {
	Name        string             `json:"name" binding:"required"`
	Description string             `json:"description" binding:"required"`
	Version     string             `json:"version"`
	URL         string             `json:"url"`
	Port        int                `json:"port"`
	OwnerID     string             `json:"owner_id"`
	Mode        agent.Mode         `json:"mode"`
	SpawnConfig *agent.SpawnConfig `json:"spawn_config"`
}

// AgentListResponse is a page of registered agents. Total counts every
// registered agent, not just the page.
type AgentListResponse struct {
	Agents []*agent.Agent `json:"agents"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
	Total  int            `json:"total"`
}

// AgentSearchResponse echoes the query alongside the ranked matches.
type AgentSearchResponse struct {
	Agents []*agent.Agent `json:"agents"`
	Query  string         `json:"query"`
	Limit  int            `json:"limit"`
}

// AgentStatusResponse reports the runtime status of one agent.
type AgentStatusResponse struct {
	AgentID string       `json:"agent_id"`
	Status  agent.Status `json:"status"`
}
