// Package api implements the HTTP surface of the screening server: the
// analysis endpoint, session CRUD, statistics, report retrieval, and the
// recommendation narration endpoint.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/virtual-mirror-server/internal/domain"
	"github.com/virtual-mirror-server/internal/middleware"
	"github.com/virtual-mirror-server/internal/report"
	"github.com/virtual-mirror-server/internal/service"
	"github.com/virtual-mirror-server/pkg/tts"
)

// Server represents the HTTP server
type Server struct {
	config    *domain.Config
	router    *gin.Engine
	server    *http.Server
	log       *logrus.Logger
	screening *service.ScreeningService
	store     domain.SessionStore
	reports   *report.Generator
	tts       *tts.Client
}

// NewServer creates a new HTTP server instance. The TTS client may be
// nil; its endpoint then reports the feature as unavailable.
func NewServer(
	cfg *domain.Config,
	logger *logrus.Logger,
	screening *service.ScreeningService,
	store domain.SessionStore,
	reports *report.Generator,
	ttsClient *tts.Client,
) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	if cfg.Server.RateLimit > 0 {
		router.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if cfg.Server.RequestTimeout > 0 {
		router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))
	}

	server := &Server{
		config:    cfg,
		router:    router,
		log:       logger,
		screening: screening,
		store:     store,
		reports:   reports,
		tts:       ttsClient,
	}

	server.setupRoutes()
	return server
}

// Router exposes the configured handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until the context is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.log.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/analyze", s.handleAnalyze)

		v1.POST("/sessions", s.handleCreateSession)
		v1.GET("/sessions", s.handleListSessions)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.DELETE("/sessions/:id", s.handleDeleteSession)
		v1.GET("/sessions/:id/followups", s.handleFollowupSessions)
		v1.POST("/sessions/:id/tasks", s.handleCreateTask)
		v1.GET("/sessions/:id/tasks", s.handleListTasks)

		v1.POST("/tasks/:id/metrics", s.handleCreateMetrics)
		v1.GET("/tasks/:id/metrics", s.handleListMetrics)

		v1.GET("/statistics", s.handleStatistics)
		v1.GET("/report/:id", s.handleReport)
		v1.POST("/tts", s.handleTTS)
	}
}
