package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/modelcatalog/internal/api/middleware"
	"github.com/timmy/modelcatalog/internal/service"
)

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrValidationRunning):
		return http.StatusConflict
	case errors.Is(err, service.ErrNoProvider):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes err as a JSON body and records it on the context so
// the request logger can report it.
func abortWithError(c *gin.Context, err error) {
	status := errorStatus(err)
	_ = c.Error(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		middleware.GetLogger(c).WithError(err).Error("Request handler failed")
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":      err.Error(),
		"error_kind": service.ClassifyError(err).Kind,
	})
}

func badRequest(c *gin.Context, err error) {
	middleware.GetLogger(c).WithError(err).Warn("Invalid request")
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
}
