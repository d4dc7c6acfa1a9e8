package server

import (
	"net/http"

	"github.com/abduss/storage-emulator/internal/auth"
	"github.com/abduss/storage-emulator/internal/config"
	"github.com/abduss/storage-emulator/internal/file"
	"github.com/abduss/storage-emulator/internal/logger"
	"github.com/abduss/storage-emulator/internal/metrics"
	"github.com/abduss/storage-emulator/internal/storage"
	"github.com/gin-gonic/gin"
)

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config      config.Config
	FileService *file.Service
	Verifier    *auth.Verifier
	// Checks are run by /health/ready, keyed by component name.
	Checks map[string]storage.Check
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())
	router.Use(metrics.Middleware())
	if limit := deps.Config.Server.MaxBodyBytes; limit > 0 {
		router.Use(limitBody(limit))
	}

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	api := router.Group("/v0")
	if deps.Verifier != nil {
		api.Use(auth.Middleware(deps.Verifier))
	}
	if deps.FileService != nil {
		file.RegisterRoutes(api, deps.FileService)
	}

	return router
}

func limitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
