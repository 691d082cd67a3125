package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/http/handlers"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/http/middleware"
)

type RouterConfig struct {
	UWSHandler     *handlers.UWSHandler
	SyncHandler    *handlers.SyncHandler
	AuthMiddleware *middleware.AuthMiddleware
	PathPrefix     string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	root := router.Group(cfg.PathPrefix)

	// VOSI endpoints are public.
	root.GET("/availability", cfg.UWSHandler.Availability)
	root.GET("/capabilities", cfg.UWSHandler.Capabilities)

	// Every job-scoped route requires the authenticated-user header.
	protected := root.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireUser())

	protected.GET("/sync", cfg.SyncHandler.Sync)
	protected.POST("/sync", cfg.SyncHandler.Sync)

	protected.POST("/jobs", cfg.UWSHandler.CreateJob)
	protected.GET("/jobs", cfg.UWSHandler.ListJobs)
	protected.GET("/jobs/:id", cfg.UWSHandler.GetJob)
	protected.DELETE("/jobs/:id", cfg.UWSHandler.DeleteJob)
	protected.POST("/jobs/:id", cfg.UWSHandler.PostJob)
	protected.GET("/jobs/:id/:attribute", cfg.UWSHandler.GetJobAttribute)
	protected.POST("/jobs/:id/:attribute", cfg.UWSHandler.PostJobAttribute)

	return router
}
