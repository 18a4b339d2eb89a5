// Package handlers exposes the agent registry and container lifecycle over
// REST, including the transparent per-agent proxy.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/agent"
	"github.com/lunarr-ai/a4s/internal/agent/registry"
	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/events"
	"github.com/lunarr-ai/a4s/internal/events/bus"
	"github.com/lunarr-ai/a4s/internal/gateway/httpapi"
)

const (
	defaultVersion = "1.0.0"
	defaultPort    = 8000

	defaultListLimit   = 50
	defaultSearchLimit = 10
	maxLimit           = 100
)

// Runtime is the container-runtime surface the handlers drive directly.
type Runtime interface {
	Spawn(ctx context.Context, a *agent.Agent) (*agent.Container, error)
	Stop(ctx context.Context, containerName string) error
	Status(ctx context.Context, containerName string) (agent.Status, error)
}

// Scheduler gates serverless agents before traffic reaches them.
type Scheduler interface {
	EnsureRunning(ctx context.Context, id string) (*agent.Agent, *int64, error)
	RecordActivity(id string)
}

type Handlers struct {
	registry   registry.Registry
	runtime    Runtime
	scheduler  Scheduler
	bus        bus.EventBus
	backboneID string
	proxy      *http.Client
	logger     *logger.Logger
}

// NewHandlers creates the agent handlers. The event bus may be nil, in which
// case registration lifecycle events are not published.
func NewHandlers(reg registry.Registry, rt Runtime, sched Scheduler, eventBus bus.EventBus, backboneID string, log *logger.Logger) *Handlers {
	return &Handlers{
		registry:   reg,
		runtime:    rt,
		scheduler:  sched,
		bus:        eventBus,
		backboneID: backboneID,
		proxy:      newProxyClient(),
		logger:     log.WithFields(zap.String("component", "agent-handlers")),
	}
}

func RegisterRoutes(router *gin.Engine, reg registry.Registry, rt Runtime, sched Scheduler, eventBus bus.EventBus, backboneID string, log *logger.Logger) {
	NewHandlers(reg, rt, sched, eventBus, backboneID, log).register(router)
}

func (h *Handlers) register(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.POST("/agents", h.httpRegisterAgent)
	api.GET("/agents", h.httpListAgents)
	api.GET("/agents/search", h.httpSearchAgents)
	api.GET("/agents/:agent_id", h.httpGetAgent)
	api.DELETE("/agents/:agent_id", h.httpUnregisterAgent)
	api.POST("/agents/:agent_id/start", h.httpStartAgent)
	api.POST("/agents/:agent_id/stop", h.httpStopAgent)
	api.GET("/agents/:agent_id/status", h.httpAgentStatus)
	api.GET("/agents/:agent_id/ensure-running", h.httpEnsureRunning)
	api.POST("/agents/:agent_id/ensure-running", h.httpEnsureRunning)
	api.Any("/agents/:agent_id/proxy/*path", h.httpProxy)
}

func (h *Handlers) httpRegisterAgent(c *gin.Context) {
	var req RegisterAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = agent.ModeServerless
	}
	if req.Mode != agent.ModeServerless && req.Mode != agent.ModePermanent {
		httpapi.Detail(c, http.StatusBadRequest, fmt.Sprintf("invalid mode %q", req.Mode))
		return
	}
	if req.URL == "" && req.SpawnConfig == nil {
		httpapi.Detail(c, http.StatusBadRequest, "spawn_config is required for managed agents")
		return
	}
	if req.Version == "" {
		req.Version = defaultVersion
	}
	if req.Port == 0 {
		req.Port = defaultPort
	}

	id := agent.GenerateID(req.Name)
	url := req.URL
	if url == "" {
		url = agent.DefaultURL(id, req.Port)
	}

	a := &agent.Agent{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		URL:         url,
		Port:        req.Port,
		OwnerID:     req.OwnerID,
		Status:      agent.StatusPending,
		Version:     req.Version,
		Mode:        req.Mode,
		SpawnConfig: req.SpawnConfig,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.registry.Register(c.Request.Context(), a); err != nil {
		h.logger.Error("failed to register agent", zap.String("agent_id", id), zap.Error(err))
		httpapi.Error(c, err)
		return
	}

	h.logger.Info("agent registered",
		zap.String("agent_id", id),
		zap.String("mode", string(a.Mode)))
	h.publish(events.AgentRegistered, id, map[string]interface{}{
		"agent_id": id,
		"name":     a.Name,
		"mode":     string(a.Mode),
	})
	c.JSON(http.StatusCreated, a)
}

func (h *Handlers) httpUnregisterAgent(c *gin.Context) {
	id := c.Param("agent_id")
	if err := h.registry.Unregister(c.Request.Context(), id); err != nil {
		httpapi.Error(c, err)
		return
	}
	h.logger.Info("agent unregistered", zap.String("agent_id", id))
	h.publish(events.AgentUnregistered, id, map[string]interface{}{"agent_id": id})
	c.Status(http.StatusNoContent)
}

func (h *Handlers) httpListAgents(c *gin.Context) {
	offset := 0
	if p := c.Query("offset"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	limit := defaultListLimit
	if p := c.Query("limit"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed >= 1 && parsed <= maxLimit {
			limit = parsed
		}
	}

	agents, total, err := h.registry.List(c.Request.Context(), offset, limit)
	if err != nil {
		h.logger.Error("failed to list agents", zap.Error(err))
		httpapi.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, AgentListResponse{
		Agents: agents,
		Offset: offset,
		Limit:  limit,
		Total:  total,
	})
}

func (h *Handlers) httpSearchAgents(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		httpapi.Detail(c, http.StatusBadRequest, "query parameter is required")
		return
	}
	limit := defaultSearchLimit
	if p := c.Query("limit"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed >= 1 && parsed <= maxLimit {
			limit = parsed
		}
	}

	hits, err := h.registry.Search(c.Request.Context(), query, limit)
	if err != nil {
		h.logger.Error("failed to search agents", zap.String("query", query), zap.Error(err))
		httpapi.Error(c, err)
		return
	}

	// The backbone is infrastructure, not a discoverable peer.
	agents := make([]*agent.Agent, 0, len(hits))
	for _, hit := range hits {
		if h.backboneID != "" && hit.Agent.ID == h.backboneID {
			continue
		}
		agents = append(agents, hit.Agent)
	}
	c.JSON(http.StatusOK, AgentSearchResponse{Agents: agents, Query: query, Limit: limit})
}

func (h *Handlers) httpGetAgent(c *gin.Context) {
	a, err := h.registry.Get(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		httpapi.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handlers) httpStartAgent(c *gin.Context) {
	a, err := h.registry.Get(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		httpapi.Error(c, err)
		return
	}
	if a.SpawnConfig == nil {
		httpapi.Detail(c, http.StatusBadRequest, fmt.Sprintf("agent %s has no spawn_config", a.ID))
		return
	}

	if _, err := h.runtime.Spawn(c.Request.Context(), a); err != nil {
		h.logger.Error("failed to start agent", zap.String("agent_id", a.ID), zap.Error(err))
		httpapi.Error(c, err)
		return
	}

	status, err := h.runtime.Status(c.Request.Context(), agent.ContainerName(a.ID))
	if err != nil {
		httpapi.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, AgentStatusResponse{AgentID: a.ID, Status: status})
}

func (h *Handlers) httpStopAgent(c *gin.Context) {
	a, err := h.registry.Get(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		httpapi.Error(c, err)
		return
	}

	if err := h.runtime.Stop(c.Request.Context(), agent.ContainerName(a.ID)); err != nil {
		h.logger.Error("failed to stop agent", zap.String("agent_id", a.ID), zap.Error(err))
		httpapi.Error(c, err)
		return
	}
	h.publish(events.AgentStopped, a.ID, map[string]interface{}{"agent_id": a.ID})
	c.JSON(http.StatusOK, AgentStatusResponse{AgentID: a.ID, Status: agent.StatusStopped})
}

func (h *Handlers) httpAgentStatus(c *gin.Context) {
	a, err := h.registry.Get(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		httpapi.Error(c, err)
		return
	}

	status, err := h.runtime.Status(c.Request.Context(), agent.ContainerName(a.ID))
	if err != nil {
		httpapi.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, AgentStatusResponse{AgentID: a.ID, Status: status})
}

// httpEnsureRunning is the cold-start gate used by edge proxies (an nginx
// auth_request arrives as GET, everything else POSTs). Success is an empty
// 200 regardless of whether a cold start happened.
func (h *Handlers) httpEnsureRunning(c *gin.Context) {
	id := c.Param("agent_id")
	a, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		httpapi.Error(c, err)
		return
	}

	if a.Serverless() {
		if _, _, err := h.scheduler.EnsureRunning(c.Request.Context(), id); err != nil {
			h.logger.Error("failed to ensure agent running", zap.String("agent_id", id), zap.Error(err))
			httpapi.Error(c, err)
			return
		}
		h.scheduler.RecordActivity(id)
	}
	c.Status(http.StatusOK)
}

// publish emits a lifecycle event, tolerating a nil bus. Publishing is
// detached from the request context so a client disconnect cannot drop it.
func (h *Handlers) publish(eventType, agentID string, data map[string]interface{}) {
	if h.bus == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := bus.NewEvent(eventType, "agent-handlers", data)
	if err := h.bus.Publish(ctx, events.BuildAgentSubject(eventType, agentID), event); err != nil {
		h.logger.Warn("failed to publish lifecycle event",
			zap.String("type", eventType),
			zap.Error(err))
	}
}
