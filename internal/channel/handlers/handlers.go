// Package handlers exposes channel CRUD, membership, and chat over REST.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/agent"
	"github.com/lunarr-ai/a4s/internal/agent/registry"
	"github.com/lunarr-ai/a4s/internal/channel"
	"github.com/lunarr-ai/a4s/internal/channel/orchestrator"
	"github.com/lunarr-ai/a4s/internal/channel/store"
	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/events"
	"github.com/lunarr-ai/a4s/internal/events/bus"
	"github.com/lunarr-ai/a4s/internal/gateway/httpapi"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100

	// Member search pulls a wide net from the registry and keeps only
	// channel members, so the pool is larger than the page.
	memberSearchPool         = 50
	defaultMemberSearchLimit = 5
	maxMemberSearchLimit     = 50
)

// AgentSearcher ranks agents for the member search endpoint.
type AgentSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]registry.SearchHit, error)
}

// Chatter routes channel chat messages between the backbone and the members.
type Chatter interface {
	Chat(ctx context.Context, channelID, message string, agentIDs []string) (*orchestrator.ChatResponse, error)
}

type Handlers struct {
	store      store.Store
	agents     AgentSearcher
	chat       Chatter
	bus        bus.EventBus
	backboneID string
	logger     *logger.Logger
}

// NewHandlers creates the channel handlers. The event bus may be nil, in
// which case channel lifecycle events are not published.
func NewHandlers(st store.Store, agents AgentSearcher, chat Chatter, eventBus bus.EventBus, backboneID string, log *logger.Logger) *Handlers {
	return &Handlers{
		store:      st,
		agents:     agents,
		chat:       chat,
		bus:        eventBus,
		backboneID: backboneID,
		logger:     log.WithFields(zap.String("component", "channel-handlers")),
	}
}

func RegisterRoutes(router *gin.Engine, st store.Store, agents AgentSearcher, chat Chatter, eventBus bus.EventBus, backboneID string, log *logger.Logger) {
	NewHandlers(st, agents, chat, eventBus, backboneID, log).register(router)
}

func (h *Handlers) register(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.POST("/channels", h.httpCreateChannel)
	api.GET("/channels", h.httpListChannels)
	api.GET("/channels/:channel_id", h.httpGetChannel)
	api.PUT("/channels/:channel_id", h.httpUpdateChannel)
	api.DELETE("/channels/:channel_id", h.httpDeleteChannel)
	api.POST("/channels/:channel_id/agents", h.httpAddAgents)
	api.DELETE("/channels/:channel_id/agents", h.httpRemoveAgents)
	api.GET("/channels/:channel_id/agents/search", h.httpSearchChannelAgents)
	api.POST("/channels/:channel_id/chat", h.httpChannelChat)
}

func (h *Handlers) httpCreateChannel(c *gin.Context) {
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	ch := &channel.Channel{
		Name:        req.Name,
		Description: req.Description,
		AgentIDs:    req.AgentIDs,
		OwnerID:     req.OwnerID,
	}
	if err := h.store.Create(c.Request.Context(), ch); err != nil {
		h.logger.Error("failed to create channel", zap.Error(err))
		httpapi.Error(c, err)
		return
	}

	h.logger.Info("channel created",
		zap.String("channel_id", ch.ID),
		zap.Int("members", len(ch.AgentIDs)))
	h.publish(events.ChannelCreated, ch.ID, map[string]interface{}{
		"channel_id": ch.ID,
		"name":       ch.Name,
	})
	c.JSON(http.StatusCreated, ch)
}

func (h *Handlers) httpListChannels(c *gin.Context) {
	offset := 0
	if p := c.Query("offset"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	limit := defaultListLimit
	if p := c.Query("limit"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed >= 1 && parsed <= maxListLimit {
			limit = parsed
		}
	}

	channels, total, err := h.store.List(c.Request.Context(), offset, limit)
	if err != nil {
		h.logger.Error("failed to list channels", zap.Error(err))
		httpapi.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, ChannelListResponse{Channels: channels, Total: total})
}

func (h *Handlers) httpGetChannel(c *gin.Context) {
	ch, err := h.store.Get(c.Request.Context(), c.Param("channel_id"))
	if err != nil {
		httpapi.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *Handlers) httpUpdateChannel(c *gin.Context) {
	var req UpdateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	ch, err := h.store.Update(c.Request.Context(), c.Param("channel_id"), store.Update{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		httpapi.Error(c, err)
		return
	}
	h.publish(events.ChannelUpdated, ch.ID, map[string]interface{}{"channel_id": ch.ID})
	c.JSON(http.StatusOK, ch)
}

func (h *Handlers) httpDeleteChannel(c *gin.Context) {
	id := c.Param("channel_id")
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		httpapi.Error(c, err)
		return
	}
	h.logger.Info("channel deleted", zap.String("channel_id", id))
	h.publish(events.ChannelDeleted, id, map[string]interface{}{"channel_id": id})
	c.Status(http.StatusNoContent)
}

func (h *Handlers) httpAddAgents(c *gin.Context) {
	var req MembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	ch, err := h.store.AddAgents(c.Request.Context(), c.Param("channel_id"), req.AgentIDs)
	if err != nil {
		httpapi.Error(c, err)
		return
	}
	h.publish(events.ChannelUpdated, ch.ID, map[string]interface{}{"channel_id": ch.ID})
	c.JSON(http.StatusOK, ch)
}

func (h *Handlers) httpRemoveAgents(c *gin.Context) {
	var req MembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	ch, err := h.store.RemoveAgents(c.Request.Context(), c.Param("channel_id"), req.AgentIDs)
	if err != nil {
		httpapi.Error(c, err)
		return
	}
	h.publish(events.ChannelUpdated, ch.ID, map[string]interface{}{"channel_id": ch.ID})
	c.JSON(http.StatusOK, ch)
}

// httpSearchChannelAgents intersects a semantic search with the channel's
// membership. An empty channel short-circuits without touching the registry.
func (h *Handlers) httpSearchChannelAgents(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		httpapi.Detail(c, http.StatusBadRequest, "query parameter is required")
		return
	}
	limit := defaultMemberSearchLimit
	if p := c.Query("limit"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed >= 1 && parsed <= maxMemberSearchLimit {
			limit = parsed
		}
	}

	ch, err := h.store.Get(c.Request.Context(), c.Param("channel_id"))
	if err != nil {
		httpapi.Error(c, err)
		return
	}
	if len(ch.AgentIDs) == 0 {
		c.JSON(http.StatusOK, ChannelAgentSearchResponse{Agents: []*agent.Agent{}})
		return
	}

	hits, err := h.agents.Search(c.Request.Context(), query, memberSearchPool)
	if err != nil {
		h.logger.Error("failed to search channel agents",
			zap.String("channel_id", ch.ID),
			zap.Error(err))
		httpapi.Error(c, err)
		return
	}

	agents := make([]*agent.Agent, 0, limit)
	for _, hit := range hits {
		if h.backboneID != "" && hit.Agent.ID == h.backboneID {
			continue
		}
		if !ch.HasAgent(hit.Agent.ID) {
			continue
		}
		agents = append(agents, hit.Agent)
		if len(agents) == limit {
			break
		}
	}
	c.JSON(http.StatusOK, ChannelAgentSearchResponse{Agents: agents})
}

// httpChannelChat hands the message to the orchestrator and shapes the
// response by its type so empty candidate and result lists marshal as [].
func (h *Handlers) httpChannelChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	resp, err := h.chat.Chat(c.Request.Context(), c.Param("channel_id"), req.Message, req.AgentIDs)
	if err != nil {
		httpapi.Error(c, err)
		return
	}

	switch resp.Type {
	case orchestrator.TypeCandidates:
		c.JSON(http.StatusOK, gin.H{"type": resp.Type, "candidates": resp.Candidates})
	case orchestrator.TypeDirect:
		c.JSON(http.StatusOK, gin.H{"type": resp.Type, "text": resp.Text})
	default:
		c.JSON(http.StatusOK, gin.H{"type": resp.Type, "results": resp.Results})
	}
}

// publish emits a channel lifecycle event, tolerating a nil bus. Publishing
// is detached from the request context so a client disconnect cannot drop it.
func (h *Handlers) publish(eventType, channelID string, data map[string]interface{}) {
	if h.bus == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := bus.NewEvent(eventType, "channel-handlers", data)
	if err := h.bus.Publish(ctx, events.BuildChannelSubject(eventType, channelID), event); err != nil {
		h.logger.Warn("failed to publish channel event",
			zap.String("type", eventType),
			zap.Error(err))
	}
}
