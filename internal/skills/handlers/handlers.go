// Package handlers exposes the skill registry over REST.
package handlers

import (
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/gateway/httpapi"
	"github.com/lunarr-ai/a4s/internal/skills"
)

const (
	defaultListLimit   = 50
	defaultSearchLimit = 10
	maxLimit           = 100
)

// Handlers serves the skills API.
type Handlers struct {
	store  skills.Store
	logger *logger.Logger
}

// NewHandlers creates the skill handlers.
func NewHandlers(store skills.Store, log *logger.Logger) *Handlers {
	return &Handlers{
		store:  store,
		logger: log.WithFields(zap.String("component", "skill-handlers")),
	}
}

// RegisterRoutes mounts the skills API on the router.
func RegisterRoutes(router *gin.Engine, store skills.Store, log *logger.Logger) {
	NewHandlers(store, log).register(router)
}

func (h *Handlers) register(router *gin.Engine) {
	api := router.Group("/api/v1")

	sk := api.Group("/skills")
	sk.POST("", h.httpRegisterSkill)
	sk.GET("", h.httpListSkills)
	sk.GET("/search", h.httpSearchSkills)
	sk.GET("/by-name/:name", h.httpGetSkillByName)
	sk.GET("/:skill_id", h.httpGetSkill)
	sk.DELETE("/:skill_id", h.httpUnregisterSkill)
	sk.GET("/:skill_id/files", h.httpListSkillFiles)
	sk.GET("/:skill_id/files/*path", h.httpGetSkillFile)
}

// httpRegisterSkill handles POST /api/v1/skills.
func (h *Handlers) httpRegisterSkill(c *gin.Context) {
	var req RegisterSkillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	skill := &skills.Skill{
		Name:          req.Name,
		Description:   req.Description,
		Body:          req.Body,
		License:       req.License,
		Compatibility: req.Compatibility,
		Metadata:      req.Metadata,
		AllowedTools:  req.AllowedTools,
	}
	files := make([]skills.SkillFile, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, skills.SkillFile{Path: f.Path, Content: f.Content})
	}

	if err := h.store.Register(c.Request.Context(), skill, files); err != nil {
		h.logger.Error("Failed to register skill",
			zap.String("name", req.Name),
			zap.Error(err))
		httpapi.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, skill)
}

// httpListSkills handles GET /api/v1/skills.
func (h *Handlers) httpListSkills(c *gin.Context) {
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

	page, total, err := h.store.List(c.Request.Context(), offset, limit)
	if err != nil {
		h.logger.Error("Failed to list skills", zap.Error(err))
		httpapi.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, SkillListResponse{
		Skills: page,
		Offset: offset,
		Limit:  limit,
		Total:  total,
	})
}

// httpSearchSkills handles GET /api/v1/skills/search.
func (h *Handlers) httpSearchSkills(c *gin.Context) {
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

	hits, err := h.store.Search(c.Request.Context(), query, limit)
	if err != nil {
		h.logger.Error("Failed to search skills",
			zap.String("query", query),
			zap.Error(err))
		httpapi.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, SkillSearchResponse{Skills: hits, Query: query, Limit: limit})
}

// httpGetSkill handles GET /api/v1/skills/:skill_id.
func (h *Handlers) httpGetSkill(c *gin.Context) {
	id, ok := h.skillID(c)
	if !ok {
		return
	}
	skill, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		httpapi.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, skill)
}

// httpGetSkillByName handles GET /api/v1/skills/by-name/:name.
func (h *Handlers) httpGetSkillByName(c *gin.Context) {
	skill, err := h.store.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		httpapi.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, skill)
}

// httpUnregisterSkill handles DELETE /api/v1/skills/:skill_id.
func (h *Handlers) httpUnregisterSkill(c *gin.Context) {
	id, ok := h.skillID(c)
	if !ok {
		return
	}
	if err := h.store.Unregister(c.Request.Context(), id); err != nil {
		httpapi.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// httpListSkillFiles handles GET /api/v1/skills/:skill_id/files. Content is
// omitted; fetch a single file to read it.
func (h *Handlers) httpListSkillFiles(c *gin.Context) {
	id, ok := h.skillID(c)
	if !ok {
		return
	}
	files, err := h.store.Files(c.Request.Context(), id)
	if err != nil {
		httpapi.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, files)
}

// httpGetSkillFile handles GET /api/v1/skills/:skill_id/files/*path and
// responds with the raw file bytes.
func (h *Handlers) httpGetSkillFile(c *gin.Context) {
	id, ok := h.skillID(c)
	if !ok {
		return
	}
	path := strings.TrimPrefix(c.Param("path"), "/")

	file, err := h.store.FileByPath(c.Request.Context(), id, path)
	if err != nil {
		httpapi.Error(c, err)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, file.Content)
}

// skillID parses the :skill_id parameter, writing the 400 response itself on
// a non-numeric id.
func (h *Handlers) skillID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("skill_id"), 10, 64)
	if err != nil {
		httpapi.Detail(c, http.StatusBadRequest, "skill_id must be an integer")
		return 0, false
	}
	return id, true
}
