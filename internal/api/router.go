package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timmy/modelcatalog/internal/api/handler"
	"github.com/timmy/modelcatalog/internal/api/middleware"
	"github.com/timmy/modelcatalog/internal/config"
	"github.com/timmy/modelcatalog/internal/logger"
	"github.com/timmy/modelcatalog/internal/service"
)

// RouterDeps groups what SetupRouter needs.
type RouterDeps struct {
	Catalog  *service.CatalogService
	Server   *config.ServerConfig
	Gatherer prometheus.Gatherer     // optional, /metrics is not mounted without it
	Snapshot handler.SnapshotHistory // optional
	Logger   *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps *RouterDeps) *gin.Engine {
	switch deps.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(deps.Server.CORS))

	healthHandler := handler.NewHealthHandler(deps.Catalog)
	catalogHandler := handler.NewCatalogHandler(deps.Catalog, deps.Snapshot)
	validationHandler := handler.NewValidationHandler(deps.Catalog)

	r.GET("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		// Catalog
		v1.GET("/catalog", catalogHandler.ListRecords)
		v1.GET("/catalog/snapshots", catalogHandler.ListSnapshots)
		v1.GET("/catalog/:id", catalogHandler.GetRecord)
		v1.POST("/catalog/merge", catalogHandler.MergeRecords)

		// Whole-catalog validation runs
		run := v1.Group("/validation/catalog")
		run.POST("", validationHandler.StartCatalogValidation)
		run.GET("", validationHandler.GetCatalogValidation)
		run.POST("/cancel", validationHandler.CancelCatalogValidation)

		// Per-record job queue
		jobs := v1.Group("/validation/jobs")
		jobs.POST("", validationHandler.AddJobs)
		jobs.GET("", validationHandler.ListJobs)
		jobs.DELETE("", validationHandler.ClearJobs)
		jobs.DELETE("/finished", validationHandler.ClearFinishedJobs)
		jobs.POST("/pause", validationHandler.PauseJobs)
		jobs.POST("/resume", validationHandler.ResumeJobs)
		jobs.POST("/apply", validationHandler.ApplyJobs)
		jobs.GET("/:id", validationHandler.GetJob)
	}

	return r
}
