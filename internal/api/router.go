// Package api assembles the gin router.
package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/fluentbot/internal/handlers"
	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/queue"
	"github.com/jonesrussell/fluentbot/internal/repository"
	"github.com/jonesrussell/fluentbot/internal/storage"
)

// Deps carries everything the router needs.
type Deps struct {
	DB       *sql.DB
	Streams  *queue.StreamsClient
	Producer *queue.Producer

	Bots      *repository.BotRepository
	Sources   *repository.SourceRepository
	Documents *repository.DocumentRepository
	Outbox    *repository.OutboxRepository

	Blobs    storage.Store
	Registry *prometheus.Registry
	Logger   logger.Logger
}

// NewRouter builds the HTTP router.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(deps.Logger))
	router.Use(gin.Recovery())

	router.GET("/health", healthHandler(deps))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	botHandler := handlers.NewBotHandler(deps.Bots, deps.Outbox, deps.Logger)
	sourceHandler := handlers.NewSourceHandler(
		deps.Bots, deps.Sources, deps.Documents, deps.Outbox, deps.Producer, deps.Blobs, deps.Logger,
	)
	documentHandler := handlers.NewDocumentHandler(
		deps.Sources, deps.Documents, deps.Outbox, deps.Producer, deps.Logger,
	)

	v1 := router.Group("/api/v1")
	v1.Use(handlers.RequireUserID())

	bots := v1.Group("/bots")
	bots.POST("", botHandler.Create)
	bots.GET("", botHandler.List)
	bots.GET("/:id", botHandler.GetByID)
	bots.PUT("/:id", botHandler.Update)
	bots.DELETE("/:id", botHandler.Delete)
	bots.POST("/:id/sources", sourceHandler.Create)
	bots.GET("/:id/sources", sourceHandler.ListByBot)

	sources := v1.Group("/sources")
	sources.GET("/:id", sourceHandler.GetByID)
	sources.GET("/:id/status", sourceHandler.Status)
	sources.DELETE("/:id", sourceHandler.Delete)
	sources.POST("/:id/refresh", sourceHandler.Refresh)
	sources.POST("/:id/documents", documentHandler.Add)
	sources.GET("/:id/documents", documentHandler.ListBySource)

	v1.DELETE("/documents/:id", documentHandler.Delete)

	return router
}

func healthHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		checks := gin.H{"database": "ok", "redis": "ok"}

		if err := deps.DB.PingContext(c.Request.Context()); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := deps.Streams.Ping(c.Request.Context()); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}

		body := gin.H{"status": "ok", "checks": checks}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	}
}

func ginLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Info("HTTP request",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("status_code", c.Writer.Status()),
			logger.String("client_ip", c.ClientIP()),
			logger.Duration("duration", time.Since(start)),
		)
	}
}
