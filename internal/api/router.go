package api

import (
	"github.com/commercecrafted/nichepipeline/internal/api/handler"
	"github.com/commercecrafted/nichepipeline/internal/api/middleware"
	"github.com/commercecrafted/nichepipeline/internal/config"
	"github.com/commercecrafted/nichepipeline/internal/logger"
	"github.com/commercecrafted/nichepipeline/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps carries everything SetupRouter wires together.
type RouterDeps struct {
	Server      config.ServerConfig
	Logger      *logger.Logger
	Metrics     *metrics.Metrics // nil disables /metrics
	MetricsPath string
	Niches      *handler.NicheHandler
	Health      *handler.HealthHandler
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps RouterDeps) *gin.Engine {
	// Set Gin mode
	switch deps.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.CORS(deps.Server.CORS))

	health := deps.Health
	if health == nil {
		health = handler.NewHealthHandler(nil)
	}

	// Health check
	r.GET("/health", health.Health)

	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		niches := v1.Group("/niches")
		niches.POST("", deps.Niches.Submit)
		niches.GET("", deps.Niches.List)
		niches.GET("/stale", deps.Niches.Stale)
		niches.GET("/:id", deps.Niches.Get)
		niches.GET("/:id/products", deps.Niches.Products)
		niches.GET("/:id/keywords", deps.Niches.Keywords)
		niches.GET("/:id/report.xlsx", deps.Niches.Report)
		niches.POST("/:id/retry-failed", deps.Niches.RetryFailed)
		niches.POST("/:id/rescore", deps.Niches.Rescore)
	}

	return r
}
