// Package httpapi holds the error conventions shared by the REST handlers.
// Every failure body has the shape {"detail": "..."} regardless of which
// subsystem produced the error.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lunarr-ai/a4s/internal/agent/docker"
	"github.com/lunarr-ai/a4s/internal/agent/registry"
	channelstore "github.com/lunarr-ai/a4s/internal/channel/store"
	"github.com/lunarr-ai/a4s/internal/memory"
	"github.com/lunarr-ai/a4s/internal/skills"
)

// Detail writes an error body with the given status.
func Detail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"detail": message})
}

// Error writes err with the status resolved by StatusFor.
func Error(c *gin.Context, err error) {
	Detail(c, StatusFor(err), err.Error())
}

// StatusFor maps domain errors onto HTTP statuses: missing records are 404,
// a spawn image that cannot be pulled and an invalid skill are 400, a memory
// write by anyone but the owner is 403, an unreachable registry or store is
// 503, everything else is 500.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotRegistered),
		errors.Is(err, channelstore.ErrNotFound),
		errors.Is(err, docker.ErrContainerNotFound),
		errors.Is(err, memory.ErrNotFound),
		errors.Is(err, skills.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, docker.ErrImageNotFound),
		errors.Is(err, skills.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, memory.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrConnection),
		errors.Is(err, channelstore.ErrConnection),
		errors.Is(err, skills.ErrConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
