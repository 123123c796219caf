package router

import (
	"net/http"

	"gpurelay/app/handler"
	"gpurelay/app/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router Router
type Router struct {
	workerHandler    *handler.WorkerHandler
	inferenceHandler *handler.InferenceHandler
}

// NewRouter creates a new Router
func NewRouter(workerHandler *handler.WorkerHandler, inferenceHandler *handler.InferenceHandler) *Router {
	return &Router{
		workerHandler:    workerHandler,
		inferenceHandler: inferenceHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Metrics())
	engine.Use(middleware.Logger())

	// Worker registry
	engine.POST("/register", r.workerHandler.Register)
	engine.GET("/workers", r.workerHandler.List)

	// Client inference interface
	engine.POST("/inference", r.inferenceHandler.Submit)
	engine.GET("/result/:request_id", r.inferenceHandler.GetResult)
	engine.GET("/result/:request_id/watch", r.inferenceHandler.WatchResult)

	SetupOps(engine)
}

// SetupOps registers health and metrics endpoints, shared by the coordinator and worker processes
func SetupOps(engine *gin.Engine) {
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
