package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wzdavid/mineru-api/internal/api/handler"
	"github.com/wzdavid/mineru-api/internal/api/middleware"
	"github.com/wzdavid/mineru-api/internal/config"
	"github.com/wzdavid/mineru-api/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(tasks *service.TaskService, cfg *config.ServerConfig) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
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
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	taskHandler := handler.NewTaskHandler(tasks)
	queueHandler := handler.NewQueueHandler(tasks)

	// Service metadata
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "MinerU API Server",
			"version": "1.0.0",
			"endpoints": gin.H{
				"submit": "POST /api/v1/tasks/submit",
				"status": "GET /api/v1/tasks/:id",
				"cancel": "DELETE /api/v1/tasks/:id",
				"stats":  "GET /api/v1/queue/stats",
				"tasks":  "GET /api/v1/queue/tasks",
			},
		})
	})

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Health)

		// Tasks
		v1.POST("/tasks/submit", taskHandler.Submit)
		v1.GET("/tasks/:id", taskHandler.Status)
		v1.DELETE("/tasks/:id", taskHandler.Cancel)

		// Queue introspection
		v1.GET("/queue/stats", queueHandler.Stats)
		v1.GET("/queue/tasks", queueHandler.Tasks)
	}

	return r
}
