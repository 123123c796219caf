package handler

import (
	"errors"
	"net/http"

	"gpurelay/internal/service"
	"gpurelay/pkg/logger"

	"github.com/gin-gonic/gin"
)

// respondError maps service errors to status codes
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNoCompatibleWorker):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No available worker for the requested model"})
	case errors.Is(err, service.ErrResultNotReady):
		c.JSON(http.StatusNotFound, gin.H{"error": "Result not found"})
	case errors.Is(err, service.ErrBackendUnavailable):
		logger.ErrorCtx(c.Request.Context(), "backend unavailable: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Queue backend unavailable"})
	default:
		logger.ErrorCtx(c.Request.Context(), "request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
