package app

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"mintbind.io/mintbind/internal/api/handlers"
	"mintbind.io/mintbind/internal/api/middleware"
)

func newRouter(server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), cors.Default())

	router.GET("/health/live", server.GetLiveness)
	router.GET("/health/ready", server.GetReadiness)

	// Identifier and prefix path parameters contain slashes, so the
	// routes use wildcards.
	router.POST("/shoulder/*prefix", server.MintIdentifier)
	router.PUT("/id/*identifier", server.CreateIdentifier)
	router.GET("/id/*identifier", server.GetMetadata)
	router.POST("/id/*identifier", server.SetMetadata)

	admin := router.Group("/admin", server.RequireAdmin())
	admin.GET("/status", server.GetStatus)
	admin.POST("/reload", server.ReloadConfig)

	return router
}
