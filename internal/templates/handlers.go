package templates

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListResponse is the body of GET /api/v1/template-agents.
type ListResponse struct {
	Templates []TemplateAgent `json:"templates"`
	Total     int             `json:"total"`
}

// RegisterRoutes mounts the template-agents API on the router.
func RegisterRoutes(router *gin.Engine, catalog *Catalog) {
	router.GET("/api/v1/template-agents", func(c *gin.Context) {
		templates := catalog.List()
		c.JSON(http.StatusOK, ListResponse{Templates: templates, Total: len(templates)})
	})
}
