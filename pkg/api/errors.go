package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/coordinator"
)

// respondError maps coordinator errors to HTTP responses.
func respondError(c *gin.Context, err error) {
	var validErr *coordinator.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error()})
		return
	}

	switch {
	case errors.Is(err, coordinator.ErrAgentNotFound),
		errors.Is(err, coordinator.ErrOrganizationNotFound),
		errors.Is(err, coordinator.ErrMeetingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, coordinator.ErrMeetingPermission):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})

	case errors.Is(err, coordinator.ErrSessionState),
		errors.Is(err, coordinator.ErrMeetingState),
		errors.Is(err, coordinator.ErrMeetingNotActive),
		errors.Is(err, coordinator.ErrNotYourTurn),
		errors.Is(err, coordinator.ErrLockUnavailable),
		errors.Is(err, coordinator.ErrNoHandlerRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, coordinator.ErrTimeout),
		errors.Is(err, coordinator.ErrHandlerTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})

	default:
		slog.Error("Unexpected coordinator error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
