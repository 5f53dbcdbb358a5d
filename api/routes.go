package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(router *gin.Engine, h *Handlers, gatherer prometheus.Gatherer) {
	// Enable CORS
	router.Use(CORSMiddleware())

	router.GET("/health", h.Health)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API routes
	api := router.Group("/api")
	{
		api.POST("/prompts", h.SubmitPrompt)
		api.GET("/stats", h.Stats)

		tasks := api.Group("/tasks")
		{
			tasks.GET("/recent", h.RecentTasks)
			tasks.GET("/:id", h.GetTask)
			tasks.GET("/:id/wait", h.WaitTask)
		}

		devices := api.Group("/devices")
		{
			devices.GET("", h.GetDevices)
			devices.POST("/scan", h.ScanDevices)
		}

		api.POST("/actions", h.DispatchAction)
		api.GET("/actions/:id", h.GetAction)
		api.GET("/screen/analyze", h.AnalyzeScreen)
	}

	// WebSocket route
	if h.Hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			HandleWebSocket(h.Hub, c)
		})
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
