package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/pkg/a2a"
)

const defaultLimit = 10

// agentSummary is the slice of an agent record the tools surface to models.
type agentSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type skillSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type memorySummary struct {
	ID      string   `json:"id"`
	Content string   `json:"content"`
	Score   *float64 `json:"score"`
}

func registerTools(s *server.MCPServer, cfg Config, a2aClient *a2a.Client, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("search_agents",
			mcp.WithDescription("Search for agents by name, description, or capability."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description(`Search query (e.g., "code review").`),
			),
			mcp.WithNumber("limit",
				mcp.Description("Max results (default 10)."),
			),
		),
		searchAgentsHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("send_a2a_message",
			mcp.WithDescription("Send a message to an agent via A2A protocol."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("Agent ID from search_agents."),
			),
			mcp.WithString("message",
				mcp.Required(),
				mcp.Description("Text message to send."),
			),
		),
		sendA2AMessageHandler(cfg, a2aClient, log),
	)

	s.AddTool(
		mcp.NewTool("search_skills",
			mcp.WithDescription("Search for skills by name or description."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description(`Search query (e.g., "create PDF").`),
			),
			mcp.WithNumber("limit",
				mcp.Description("Max results (default 10)."),
			),
		),
		searchSkillsHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("add_memory",
			mcp.WithDescription("Store a memory."),
			mcp.WithString("messages",
				mcp.Required(),
				mcp.Description(`Conversation as a JSON array of {"role", "content"} turns, or plain text.`),
			),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("Agent identifier for scoping (required)."),
			),
		),
		addMemoryHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("search_memories",
			mcp.WithDescription("Search memories for an agent."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description(`Natural language search (e.g., "color preferences").`),
			),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("Agent identifier for scoping (required)."),
			),
			mcp.WithNumber("limit",
				mcp.Description("Max results (default 10)."),
			),
		),
		searchMemoriesHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("update_memory",
			mcp.WithDescription("Update an existing memory's content."),
			mcp.WithString("memory_id",
				mcp.Required(),
				mcp.Description("ID from search_memories."),
			),
			mcp.WithString("content",
				mcp.Required(),
				mcp.Description("New content text."),
			),
		),
		updateMemoryHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("delete_memory",
			mcp.WithDescription("Delete a memory. Only the owner can delete."),
			mcp.WithString("memory_id",
				mcp.Required(),
				mcp.Description("ID from search_memories."),
			),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("Agent identifier owning the memory (required)."),
			),
		),
		deleteMemoryHandler(cfg, log),
	)

	log.Info("registered MCP tools", zap.Int("count", 7))
}

// apiRequest performs a request against the A4S API. The configured requester
// identity rides on every call. The caller owns the response body.
func apiRequest(ctx context.Context, cfg Config, method, path string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.APIBaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.RequesterID != "" {
		req.Header.Set("X-Requester-Id", cfg.RequesterID)
	}

	return http.DefaultClient.Do(req)
}

// apiJSON performs apiRequest and drains the body.
func apiJSON(ctx context.Context, cfg Config, method, path string, payload interface{}) (json.RawMessage, int, error) {
	resp, err := apiRequest(ctx, cfg, method, path, payload)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

func searchAgentsHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}
		limit := req.GetInt("limit", defaultLimit)

		path := fmt.Sprintf("/api/v1/agents/search?query=%s&limit=%d", url.QueryEscape(query), limit)
		raw, status, err := apiJSON(ctx, cfg, http.MethodGet, path, nil)
		if err != nil {
			log.Error("failed to search agents", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to search agents: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(raw))), nil
		}

		var decoded struct {
			Agents []agentSummary `json:"agents"`
		}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
		}
		if decoded.Agents == nil {
			decoded.Agents = []agentSummary{}
		}

		formatted, _ := json.MarshalIndent(map[string]interface{}{
			"agents": decoded.Agents,
			"query":  query,
		}, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func sendA2AMessageHandler(cfg Config, a2aClient *a2a.Client, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcp.NewToolResultError("agent_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError("message is required"), nil
		}

		raw, status, err := apiJSON(ctx, cfg, http.MethodGet, "/api/v1/agents/"+agentID, nil)
		if err != nil {
			log.Error("failed to resolve agent", zap.String("agent_id", agentID), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve agent: %v", err)), nil
		}
		if status == http.StatusNotFound {
			return mcp.NewToolResultError(fmt.Sprintf("Agent '%s' not found. Use search_agents to find agents.", agentID)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(raw))), nil
		}
		var agent struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(raw, &agent); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
		}

		// Serverless agents may be cold; wake them before the direct send.
		ensureRaw, ensureStatus, err := apiJSON(ctx, cfg, http.MethodPost, "/api/v1/agents/"+agentID+"/ensure-running", nil)
		if err != nil {
			log.Error("failed to start agent", zap.String("agent_id", agentID), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to start agent: %v", err)), nil
		}
		if ensureStatus >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", ensureStatus, string(ensureRaw))), nil
		}

		text, err := a2aClient.Send(ctx, agent.URL, message, a2a.SendOptions{})
		if err != nil && !errors.Is(err, a2a.ErrEmptyReply) {
			log.Error("a2a send failed",
				zap.String("agent_id", agentID),
				zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("A2A error: %v", err)), nil
		}

		result := map[string]interface{}{"state": "completed", "text": nil}
		if err == nil {
			result["text"] = text
		}
		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func searchSkillsHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}
		limit := req.GetInt("limit", defaultLimit)

		path := fmt.Sprintf("/api/v1/skills/search?query=%s&limit=%d", url.QueryEscape(query), limit)
		raw, status, err := apiJSON(ctx, cfg, http.MethodGet, path, nil)
		if err != nil {
			log.Error("failed to search skills", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to search skills: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(raw))), nil
		}

		var decoded struct {
			Skills []skillSummary `json:"skills"`
		}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
		}
		if decoded.Skills == nil {
			decoded.Skills = []skillSummary{}
		}

		formatted, _ := json.MarshalIndent(map[string]interface{}{
			"skills": decoded.Skills,
			"query":  query,
			"limit":  limit,
		}, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func addMemoryHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		messages, ok := req.GetArguments()["messages"]
		if !ok || messages == nil {
			return mcp.NewToolResultError("messages is required"), nil
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcp.NewToolResultError("agent_id is required"), nil
		}

		raw, status, err := apiJSON(ctx, cfg, http.MethodPost, "/api/v1/memories", map[string]interface{}{
			"messages": messages,
			"agent_id": agentID,
		})
		if err != nil {
			log.Error("failed to add memory", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to add memory: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(raw))), nil
		}

		var decoded map[string]interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
		}
		message, _ := decoded["message"].(string)
		if message == "" {
			message = "Memory queued"
		}
		groupID, _ := decoded["group_id"].(string)

		formatted, _ := json.MarshalIndent(map[string]interface{}{
			"message":  message,
			"group_id": groupID,
		}, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func searchMemoriesHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcp.NewToolResultError("agent_id is required"), nil
		}
		limit := req.GetInt("limit", defaultLimit)

		raw, status, err := apiJSON(ctx, cfg, http.MethodPost, "/api/v1/memories/search", map[string]interface{}{
			"query":    query,
			"agent_id": agentID,
			"limit":    limit,
		})
		if err != nil {
			log.Error("failed to search memories", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to search memories: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(raw))), nil
		}

		var memories []memorySummary
		if err := json.Unmarshal(raw, &memories); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
		}
		if memories == nil {
			memories = []memorySummary{}
		}

		formatted, _ := json.MarshalIndent(map[string]interface{}{
			"memories": memories,
			"query":    query,
			"count":    len(memories),
		}, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func updateMemoryHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		memoryID, err := req.RequireString("memory_id")
		if err != nil {
			return mcp.NewToolResultError("memory_id is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError("content is required"), nil
		}

		raw, status, err := apiJSON(ctx, cfg, http.MethodPut, "/api/v1/memories/"+memoryID, map[string]interface{}{
			"content": content,
		})
		if err != nil {
			log.Error("failed to update memory", zap.String("memory_id", memoryID), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to update memory: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(raw))), nil
		}

		var decoded struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
		}

		formatted, _ := json.MarshalIndent(map[string]interface{}{
			"id":      decoded.ID,
			"content": decoded.Content,
		}, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func deleteMemoryHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		memoryID, err := req.RequireString("memory_id")
		if err != nil {
			return mcp.NewToolResultError("memory_id is required"), nil
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcp.NewToolResultError("agent_id is required"), nil
		}

		path := fmt.Sprintf("/api/v1/memories/%s?agent_id=%s", memoryID, url.QueryEscape(agentID))
		raw, status, err := apiJSON(ctx, cfg, http.MethodDelete, path, nil)
		if err != nil {
			log.Error("failed to delete memory", zap.String("memory_id", memoryID), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to delete memory: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(raw))), nil
		}

		formatted, _ := json.MarshalIndent(map[string]interface{}{
			"deleted":   true,
			"memory_id": memoryID,
		}, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}
