package router

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/trihoang/offloadq/internal/api/handler"
)

// SetupRouter configures the gin engine with all API routes.
func SetupRouter(h *handler.Handler, logger *slog.Logger, environment string) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware())
	router.Use(PrincipalMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	router.GET("/metrics", h.Metrics)

	v1 := router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", h.CreateJob)
			jobs.GET("", h.ListJobs)
			jobs.GET("/:id", h.GetJob)
		}

		dlq := v1.Group("/dlq")
		{
			dlq.GET("", h.ListDeadLetters)
			dlq.POST("/:id/retry", h.RetryDeadLetter)
		}

		v1.GET("/stats", h.Stats)
	}

	return router
}
