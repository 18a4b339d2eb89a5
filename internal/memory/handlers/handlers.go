// Package handlers exposes agent memory over REST. Reads are open; every
// write resolves the target agent's owner and requires the caller to identify
// as that owner through the X-Requester-Id header.
package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/agent"
	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/gateway/httpapi"
	"github.com/lunarr-ai/a4s/internal/memory"
)

const (
	requesterHeader        = "X-Requester-Id"
	missingRequesterDetail = "Missing " + requesterHeader + " header"

	defaultSearchLimit = 10
)

// AgentSource resolves agent records, used to find the owner of the agent a
// memory belongs to.
type AgentSource interface {
	Get(ctx context.Context, id string) (*agent.Agent, error)
}

// Handlers serves the memories API.
type Handlers struct {
	memories memory.Manager
	agents   AgentSource
	logger   *logger.Logger
}

// NewHandlers creates the memory handlers.
func NewHandlers(memories memory.Manager, agents AgentSource, log *logger.Logger) *Handlers {
	return &Handlers{
		memories: memories,
		agents:   agents,
		logger:   log.WithFields(zap.String("component", "memory-handlers")),
	}
}

// RegisterRoutes mounts the memories API on the router.
func RegisterRoutes(router *gin.Engine, memories memory.Manager, agents AgentSource, log *logger.Logger) {
	NewHandlers(memories, agents, log).register(router)
}

func (h *Handlers) register(router *gin.Engine) {
	api := router.Group("/api/v1")

	memories := api.Group("/memories")
	memories.POST("", h.httpAddMemory)
	memories.POST("/search", h.httpSearchMemories)
	memories.PUT("/:memory_id", h.httpUpdateMemory)
	memories.DELETE("/:memory_id", h.httpDeleteMemory)
	memories.POST("/ingest-document", h.httpIngestDocument)
}

// httpAddMemory handles POST /api/v1/memories.
func (h *Handlers) httpAddMemory(c *gin.Context) {
	var req AddMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	msgs, err := memory.ParseMessages(req.Messages)
	if err != nil {
		httpapi.Detail(c, http.StatusBadRequest, err.Error())
		return
	}

	ownerID, ok := h.ownerOf(c, req.AgentID)
	if !ok {
		return
	}
	requesterID, ok := h.requesterID(c)
	if !ok {
		return
	}

	result, err := h.memories.Add(c.Request.Context(), memory.AddRequest{
		Messages: msgs,
		AgentID:  req.AgentID,
		Metadata: req.Metadata,
	}, ownerID, requesterID)
	if err != nil {
		h.logger.Error("Failed to add memory",
			zap.String("agent_id", req.AgentID),
			zap.Error(err))
		httpapi.Error(c, err)
		return
	}

	if result.Queued != nil {
		c.JSON(http.StatusCreated, result.Queued)
		return
	}
	c.JSON(http.StatusCreated, result.Memory)
}

// httpSearchMemories handles POST /api/v1/memories/search.
func (h *Handlers) httpSearchMemories(c *gin.Context) {
	var req SearchMemoriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultSearchLimit
	}

	memories, err := h.memories.Search(c.Request.Context(), memory.SearchRequest{
		Query:   req.Query,
		AgentID: req.AgentID,
		Limit:   req.Limit,
	})
	if err != nil {
		h.logger.Error("Memory search failed",
			zap.String("agent_id", req.AgentID),
			zap.Error(err))
		httpapi.Error(c, err)
		return
	}
	if memories == nil {
		memories = []memory.Memory{}
	}
	c.JSON(http.StatusOK, memories)
}

// httpUpdateMemory handles PUT /api/v1/memories/:memory_id.
func (h *Handlers) httpUpdateMemory(c *gin.Context) {
	var req UpdateMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	mem, err := h.memories.Update(c.Request.Context(), c.Param("memory_id"), req.Content)
	if err != nil {
		h.logger.Error("Failed to update memory",
			zap.String("memory_id", c.Param("memory_id")),
			zap.Error(err))
		httpapi.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, mem)
}

// httpDeleteMemory handles DELETE /api/v1/memories/:memory_id?agent_id=...
func (h *Handlers) httpDeleteMemory(c *gin.Context) {
	agentID := c.Query("agent_id")
	if agentID == "" {
		httpapi.Detail(c, http.StatusBadRequest, "agent_id query parameter is required")
		return
	}

	ownerID, ok := h.ownerOf(c, agentID)
	if !ok {
		return
	}
	requesterID, ok := h.requesterID(c)
	if !ok {
		return
	}

	if err := h.memories.Delete(c.Request.Context(), c.Param("memory_id"), ownerID, requesterID); err != nil {
		h.logger.Error("Failed to delete memory",
			zap.String("memory_id", c.Param("memory_id")),
			zap.String("agent_id", agentID),
			zap.Error(err))
		httpapi.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// httpIngestDocument handles POST /api/v1/memories/ingest-document. The body
// is multipart form data with a file part and an agent_id field. The document
// must be markdown or plain text, valid UTF-8, non-blank, and at most
// memory.MaxDocumentSize characters.
func (h *Handlers) httpIngestDocument(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "file is required")
		return
	}
	agentID := c.PostForm("agent_id")
	if agentID == "" {
		httpapi.Detail(c, http.StatusBadRequest, "agent_id is required")
		return
	}

	filename := fileHeader.Filename
	if filename == "" {
		filename = "unknown.txt"
	}
	ext := strings.ToLower(filepath.Ext(filename))
	format, ok := memory.DocumentFormats[ext]
	if !ok {
		httpapi.Detail(c, http.StatusBadRequest,
			fmt.Sprintf("unsupported file format %q, allowed: .md, .txt", ext))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "failed to read file: "+err.Error())
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "failed to read file: "+err.Error())
		return
	}
	if !utf8.Valid(data) {
		httpapi.Detail(c, http.StatusBadRequest, "file must be valid UTF-8 text")
		return
	}
	content := string(data)
	if utf8.RuneCountInString(content) > memory.MaxDocumentSize {
		httpapi.Detail(c, http.StatusBadRequest,
			fmt.Sprintf("document exceeds maximum size of %d characters", memory.MaxDocumentSize))
		return
	}
	if strings.TrimSpace(content) == "" {
		httpapi.Detail(c, http.StatusBadRequest, "document content cannot be empty")
		return
	}

	ownerID, ok := h.ownerOf(c, agentID)
	if !ok {
		return
	}
	requesterID, ok := h.requesterID(c)
	if !ok {
		return
	}

	ack, err := h.memories.IngestDocument(c.Request.Context(), memory.IngestRequest{
		Content: content,
		AgentID: agentID,
		Format:  format,
		Source:  filename,
	}, ownerID, requesterID)
	if err != nil {
		h.logger.Error("Failed to ingest document",
			zap.String("agent_id", agentID),
			zap.String("source", filename),
			zap.Error(err))
		httpapi.Error(c, err)
		return
	}

	h.logger.Info("Document queued for ingestion",
		zap.String("agent_id", agentID),
		zap.String("source", filename),
		zap.Int("chars", utf8.RuneCountInString(content)))
	c.JSON(http.StatusAccepted, ack)
}

// ownerOf resolves the owner of agentID, writing the error response itself
// when the agent cannot be found.
func (h *Handlers) ownerOf(c *gin.Context, agentID string) (string, bool) {
	a, err := h.agents.Get(c.Request.Context(), agentID)
	if err != nil {
		httpapi.Error(c, err)
		return "", false
	}
	return a.OwnerID, true
}

// requesterID reads the requester header, writing the 400 response itself
// when it is missing.
func (h *Handlers) requesterID(c *gin.Context) (string, bool) {
	id := c.GetHeader(requesterHeader)
	if id == "" {
		httpapi.Detail(c, http.StatusBadRequest, missingRequesterDetail)
		return "", false
	}
	return id, true
}
