package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"halog/internal/api/handlers"
	"halog/internal/database"
	"halog/internal/database/repositories"
	"halog/internal/ingestion"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// Server exposes the query API over HTTP.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	logger *pterm.Logger
}

// Deps carries everything the route handlers need.
type Deps struct {
	SessionRepo    repositories.SessionRepository
	StatsRepo      repositories.StatsRepository
	CleanupService *database.CleanupService
	Coordinator    *ingestion.Coordinator
	DBPath         string
	RetentionDays  int
}

// NewServer builds the router and registers all routes.
func NewServer(listen string, deps Deps, logger *pterm.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	statsHandler := handlers.NewStatsHandler(deps.StatsRepo, logger)
	sessionsHandler := handlers.NewSessionsHandler(deps.SessionRepo, logger)
	systemHandler := handlers.NewSystemHandler(
		deps.StatsRepo,
		deps.SessionRepo,
		deps.CleanupService,
		deps.Coordinator,
		logger,
		deps.DBPath,
		deps.RetentionDays,
	)

	api := engine.Group("/api/v1")
	{
		api.GET("/health", statsHandler.GetHealth)

		api.GET("/sessions", sessionsHandler.List)
		api.GET("/sessions/:id", sessionsHandler.Get)

		stats := api.Group("/stats")
		{
			stats.GET("/summary", statsHandler.GetSummary)
			stats.GET("/timeline", statsHandler.GetTimeline)
			stats.GET("/status-codes", statsHandler.GetStatusCodes)
			stats.GET("/methods", statsHandler.GetMethods)
			stats.GET("/top-paths", statsHandler.GetTopPaths)
			stats.GET("/top-clients", statsHandler.GetTopClients)
			stats.GET("/top-countries", statsHandler.GetTopCountries)
			stats.GET("/backends", statsHandler.GetBackends)
			stats.GET("/servers", statsHandler.GetServers)
			stats.GET("/queues", statsHandler.GetQueues)
			stats.GET("/session-times", statsHandler.GetSessionTimes)
			stats.GET("/slow-sessions", statsHandler.GetSlowSessions)
			stats.GET("/retries", statsHandler.GetRetries)
		}

		system := api.Group("/system")
		{
			system.GET("/stats", systemHandler.GetSystemStats)
			system.GET("/processing", systemHandler.GetProcessingStats)
			system.POST("/cleanup", systemHandler.TriggerCleanup)
			system.POST("/ingestion/pause", systemHandler.PauseIngestion)
			system.POST("/ingestion/resume", systemHandler.ResumeIngestion)
		}
	}

	return &Server{
		engine: engine,
		http: &http.Server{
			Addr:              listen,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving requests and blocks until the listener fails or the
// server is shut down.
func (s *Server) Start() error {
	s.logger.Info("API server listening", s.logger.Args("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.http.Shutdown(ctx)
}

// requestLogger logs each request at trace level with timing information.
func requestLogger(logger *pterm.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Trace("Handled request", logger.Args(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		))
	}
}
