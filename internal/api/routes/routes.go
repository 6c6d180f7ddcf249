package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rail-service/yield_bridge/internal/api/handlers"
	"github.com/rail-service/yield_bridge/internal/api/middleware"
	"github.com/rail-service/yield_bridge/internal/infrastructure/di"
)

// SetupRoutes configures the operations router. The bridge itself has no
// public HTTP surface; this serves health and metrics only.
func SetupRoutes(container *di.Container, version string) *gin.Engine {
	if container.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))

	health := handlers.NewHealthHandler(container.HealthChecks(), container.ZapLog, version)
	router.GET("/health", health.Liveness)
	router.GET("/health/liveness", health.Liveness)
	router.GET("/health/readiness", health.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
