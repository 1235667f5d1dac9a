package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geomonitor/internal/config"
	"geomonitor/internal/delivery/http/handler"
	"geomonitor/internal/logger"
	"geomonitor/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Location *handler.LocationHandler
	Stream   *handler.StreamHandler
	Health   *handler.HealthHandler
}

func SetupRoutes(cfg *config.Config, h Handlers) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Order: recovery, request ID, metrics, logging, security headers, CORS, request size limit, rate limit
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.CORSMiddleware(&cfg.CORS))
	router.Use(middleware.RequestSizeLimitMiddleware(middleware.DefaultMaxRequestSize))

	router.GET("/health", h.Health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimitMiddleware(cfg.RateLimit.GeneralRPS, cfg.RateLimit.GeneralBurst))
	{
		h.Location.RegisterRoutes(v1)
		h.Stream.RegisterRoutes(v1)
	}

	logger.Info("All routes initialized")
	return router
}
