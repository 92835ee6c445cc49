package router

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/minhvtq/streamgate/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Range", "Accept", "Origin"},
		// Players need the range headers to drive seeking.
		ExposeHeaders: []string{"Content-Length", "Content-Range", "Accept-Ranges"},
	}))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "stream-service",
		})
	})

	streamHandler := handler.NewStreamHandler(deps)
	jobHandler := handler.NewJobHandler(deps)
	videoHandler := handler.NewVideoHandler(deps)
	wsHandler := handler.NewWSHandler(deps)

	// Fallback copies are served outside the API group so their URLs stay
	// stable for players.
	r.GET("/fallback/:id", streamHandler.Fallback)

	// WebSocket job events
	r.GET("/ws/jobs", wsHandler.Jobs)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/stream - Relay a byte range from an allowed origin
		v1.GET("/stream", streamHandler.Stream)

		// POST /api/v1/videos - Ingest a video file
		v1.POST("/videos", videoHandler.Upload)

		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Enqueue a job
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs/stats - Per-queue job counts
			jobs.GET("/stats", jobHandler.Stats)

			// GET /api/v1/jobs/:job_id - Job snapshot
			jobs.GET("/:job_id", jobHandler.GetJob)
		}
	}

	return r
}
