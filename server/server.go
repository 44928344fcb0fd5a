package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"identityserver/database"
	"identityserver/internal/config"
	"identityserver/resolution"
	"identityserver/server/middleware"
)

// Server wires the registry store, the resolution engine and the HTTP
// API together.
type Server struct {
	config *config.Config
	db     *database.RegistryDB

	normalizer *resolution.EntityNormalizer
	matcher    *resolution.Matcher
	applier    *resolution.Applier
	engine     *resolution.Engine
	learner    *resolution.Learner

	logger *slog.Logger

	httpServer  *http.Server
	httpHandler http.Handler
	handlerOnce sync.Once
}

// NewServer builds a fully wired server from configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.NewRegistryDBWithConfig(cfg.RegistryDatabasePath, database.DBConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	table := resolution.DefaultAbbreviationTable()
	if cfg.AbbreviationTablePath != "" {
		table, err = resolution.LoadAbbreviationTable(cfg.AbbreviationTablePath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load abbreviation table: %w", err)
		}
	}
	normalizer := resolution.NewEntityNormalizer(table)

	scorerConfig := resolution.DefaultScorerConfig()
	scorerConfig.HighThreshold = cfg.HighThreshold
	scorerConfig.MediumThreshold = cfg.MediumThreshold
	scorerConfig.LowThreshold = cfg.LowThreshold

	matcher := resolution.NewMatcher(db, normalizer, scorerConfig)
	applier := resolution.NewApplier(db, nil)
	engine := resolution.NewEngine(matcher, applier, resolution.EngineConfig{
		Workers:          cfg.Workers,
		EventsBufferSize: cfg.EventsBufferSize,
		Retry:            resolution.DefaultRetryConfig(),
	})
	learner := resolution.NewLearner(db)

	middleware.InitErrorMetrics()

	return &Server{
		config:     cfg,
		db:         db,
		normalizer: normalizer,
		matcher:    matcher,
		applier:    applier,
		engine:     engine,
		learner:    learner,
		logger:     slog.Default().With("component", "server"),
	}, nil
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	handler, err := s.ensureHTTPHandler()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%s", s.config.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Lot uploads can take minutes on large spreadsheets.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("HTTP server starting", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) ensureHTTPHandler() (http.Handler, error) {
	s.handlerOnce.Do(func() {
		s.httpHandler = s.buildHTTPHandler()
	})
	return s.httpHandler, nil
}

func (s *Server) buildHTTPHandler() http.Handler {
	if ginMode := os.Getenv("GIN_MODE"); ginMode == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.GinRequestIDMiddleware())
	router.Use(middleware.GinCORSMiddleware())
	router.Use(middleware.GinGzipMiddleware())
	router.Use(middleware.GinLoggerMiddleware())
	router.Use(middleware.GinRecoveryMiddleware())

	s.registerRoutes(router)

	return router
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/resolve",
			middleware.GinRateLimitMiddleware(s.config.RateLimitPerSecond, s.config.RateLimitBurst),
			s.handleResolve)
		api.POST("/lots", s.handleLotUpload)

		api.GET("/review", s.handleReviewList)
		api.POST("/review/:id/promote", s.handleReviewPromote)
		api.POST("/review/:id/reject", s.handleReviewReject)

		api.GET("/entities", s.handleEntityList)
		api.POST("/entities", s.handleEntityCreate)

		api.GET("/stats", s.handleStats)
		api.GET("/stats/errors", s.handleErrorStats)
	}
}

// ServeHTTP implements http.Handler for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler, err := s.ensureHTTPHandler()
	if err != nil {
		http.Error(w, "server is not initialized", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}

// Shutdown stops the HTTP server gracefully and closes the registry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Initiating graceful shutdown")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown failed", "error", err)
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close registry database: %w", err)
	}

	s.logger.Info("Shutdown complete")
	return nil
}
