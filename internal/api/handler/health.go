package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/modelcatalog/internal/service"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	catalog *service.CatalogService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(catalog *service.CatalogService) *HealthHandler {
	return &HealthHandler{catalog: catalog}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status":             "ok",
		"records":            len(h.catalog.Records()),
		"validation_running": h.catalog.Validator().Status().Running,
	}
	if q := h.catalog.Queue(); q != nil {
		resp["queue"] = q.Stats()
	}
	c.JSON(http.StatusOK, resp)
}
