package api

import (
	"campusrun/internal/api/handlers"
	"campusrun/internal/api/middleware"

	"github.com/gin-gonic/gin"
)

type Router struct {
	verifier        middleware.TokenVerifier
	pricingHandler  *handlers.PricingHandler
	bundleHandler   *handlers.BundleHandler
	taskHandler     *handlers.TaskHandler
	trackingHandler *handlers.TrackingHandler
	positionHandler *handlers.PositionHandler
}

func NewRouter(
	verifier middleware.TokenVerifier,
	pricingHandler *handlers.PricingHandler,
	bundleHandler *handlers.BundleHandler,
	taskHandler *handlers.TaskHandler,
	trackingHandler *handlers.TrackingHandler,
	positionHandler *handlers.PositionHandler,
) *Router {
	return &Router{
		verifier:        verifier,
		pricingHandler:  pricingHandler,
		bundleHandler:   bundleHandler,
		taskHandler:     taskHandler,
		trackingHandler: trackingHandler,
		positionHandler: positionHandler,
	}
}

func (r *Router) Setup(engine *gin.Engine) {
	// Health check endpoint
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Protected routes. Who may act on a task (creator, performer) is decided
	// by the services, not by route groups.
	api := engine.Group("/")
	api.Use(middleware.Auth(r.verifier))
	{
		api.POST("/pricing/quote", r.pricingHandler.Quote)
		api.POST("/bundles", r.bundleHandler.Bundle)
		api.GET("/bundles/nearby", r.bundleHandler.Nearby)

		api.POST("/tasks", r.taskHandler.CreateTask)
		api.GET("/tasks/:id", r.taskHandler.GetTask)
		api.PATCH("/tasks/:id/accept", r.taskHandler.AcceptTask)
		api.PATCH("/tasks/:id/status", r.taskHandler.UpdateStatus)

		api.POST("/tasks/:id/tracking", r.trackingHandler.StartTracking)
		api.GET("/tasks/:id/tracking", r.trackingHandler.Snapshot)
		api.GET("/tasks/:id/tracking/ws", r.trackingHandler.Watch)
		api.GET("/tasks/:id/tracking/route.geojson", r.trackingHandler.RouteGeoJSON)
		api.DELETE("/tracking/:session_id", r.trackingHandler.StopTracking)

		api.POST("/positions", r.positionHandler.Push)
		api.POST("/positions/errors", r.positionHandler.ReportError)
	}
}
