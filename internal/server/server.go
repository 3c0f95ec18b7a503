package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/handler"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/middleware"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/notifier_client"
)

// Deps are the pre-wired components the HTTP surface exposes.
type Deps struct {
	Auth      *handler.AuthHandler
	Ingest    *handler.IngestHandler
	Scan      *handler.ScanHandler
	Finding   *handler.FindingHandler
	Usage     *handler.UsageHandler
	JWTSecret []byte
	Notifier  *notifier_client.Client
}

type Server struct {
	router *gin.Engine
	db     *sqlx.DB
	deps   Deps
	logger *zap.Logger
}

func NewServer(db *sqlx.DB, deps Deps, logger *zap.Logger) *Server {
	router := gin.Default()

	s := &Server{
		router: router,
		db:     db,
		deps:   deps,
		logger: logger,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	// Ping route for liveness
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	// Readiness: datastore plus the notification collaborator
	s.router.GET("/health", s.health)

	// Authentication routes
	authGroup := s.router.Group("/api/auth")
	authGroup.POST("/token", s.deps.Auth.IssueToken)

	// Authenticated routes
	api := s.router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(s.deps.JWTSecret, s.logger))
	{
		api.POST("/messages", s.deps.Ingest.Ingest)
		api.POST("/scans", s.deps.Scan.TriggerScan)
		api.GET("/findings", s.deps.Finding.List)
		api.GET("/findings/:id", s.deps.Finding.Get)
		api.POST("/findings/:id/handled", s.deps.Finding.MarkHandled)
		api.GET("/subjects/:id/decisions", s.deps.Finding.ListDecisions)
		api.GET("/subjects/:id/usage", s.deps.Usage.Get)
	}
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{"database": "ok", "notifier": "ok"}

	if err := s.db.Ping(); err != nil {
		s.logger.Error("Health check: database unreachable", zap.Error(err))
		checks["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	}

	if s.deps.Notifier != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.Notifier.Ping(ctx); err != nil {
			// Notification delivery is best-effort; a down notifier degrades
			// but does not fail readiness.
			s.logger.Warn("Health check: notifier unreachable", zap.Error(err))
			checks["notifier"] = "unreachable"
		}
	}

	c.JSON(status, checks)
}

func (s *Server) Run(addr string) error {
	s.logger.Info("Server starting", zap.String("addr", addr))
	return s.router.Run(addr)
}
