package handlers

import "encoding/json"

// AddMemoryRequest is the body of POST /memories. Messages is either a plain
// string or a list of {role, content} turns.
type AddMemoryRequest struct {
	Messages json.RawMessage        `json:"messages" binding:"required"`
	AgentID  string                 `json:"agent_id" binding:"required"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SearchMemoriesRequest is the body of POST /memories/search.
type SearchMemoriesRequest struct {
	Query   string `json:"query" binding:"required"`
	AgentID string `json:"agent_id" binding:"required"`
	Limit   int    `json:"limit" binding:"omitempty,gte=1,lte=100"`
}

// UpdateMemoryRequest is the body of PUT /memories/{memory_id}.
type UpdateMemoryRequest struct {
	Content string `json:"content" binding:"required"`
}
