package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/timmy/modelcatalog/internal/domain"
	"github.com/timmy/modelcatalog/internal/logger"
	"github.com/timmy/modelcatalog/internal/service"
)

// SnapshotHistory lists exported catalog snapshots.
type SnapshotHistory interface {
	History(ctx context.Context) ([]string, error)
}

// CatalogHandler serves the catalog snapshot and import merges.
type CatalogHandler struct {
	catalog   *service.CatalogService
	snapshots SnapshotHistory
}

// NewCatalogHandler creates a new catalog handler.
// Parameters:
//   - catalog: catalog service instance.
//   - snapshots: exported snapshot listing, may be nil.
// Returns:
//   - *CatalogHandler: initialized handler.
func NewCatalogHandler(catalog *service.CatalogService, snapshots SnapshotHistory) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, snapshots: snapshots}
}

// CatalogResponse is the body of GET /api/v1/catalog.
type CatalogResponse struct {
	Records []domain.Record `json:"records"`
	Total   int             `json:"total"`
}

// MergeRequest is the body of POST /api/v1/catalog/merge.
type MergeRequest struct {
	Records []domain.Record `json:"records" binding:"required,min=1"`
}

// MergeResponse reports how incoming records were folded in.
type MergeResponse struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// ListRecords handles GET /api/v1/catalog.
// Optional query parameters: domain, favorite=true.
func (h *CatalogHandler) ListRecords(c *gin.Context) {
	records := h.catalog.Records()

	domainFilter := strings.TrimSpace(c.Query("domain"))
	favoritesOnly := c.Query("favorite") == "true"
	if domainFilter != "" || favoritesOnly {
		want := domain.ParseDomain(domainFilter)
		filtered := records[:0]
		for _, r := range records {
			if domainFilter != "" && r.Domain != want {
				continue
			}
			if favoritesOnly && !r.IsFavorite {
				continue
			}
			filtered = append(filtered, r)
		}
		records = filtered
	}

	c.JSON(http.StatusOK, CatalogResponse{Records: records, Total: len(records)})
}

// GetRecord handles GET /api/v1/catalog/:id.
func (h *CatalogHandler) GetRecord(c *gin.Context) {
	rec, ok := h.catalog.Record(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// MergeRecords handles POST /api/v1/catalog/merge.
func (h *CatalogHandler) MergeRecords(c *gin.Context) {
	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	res, err := h.catalog.MergeIncoming(ctx, req.Records)
	if err != nil {
		abortWithError(c, err)
		return
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(req.Records),
	}).Info(ctx, "Merge request applied: added=%d, updated=%d", res.Added, res.Updated)

	c.JSON(http.StatusOK, MergeResponse{
		Added:   res.Added,
		Updated: res.Updated,
		Total:   len(res.Records),
	})
}

// ListSnapshots handles GET /api/v1/catalog/snapshots.
func (h *CatalogHandler) ListSnapshots(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot export is disabled"})
		return
	}
	keys, err := h.snapshots.History(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": keys})
}
