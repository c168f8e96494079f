// Package http provides the local API server plus the metrics server. Both
// bind to loopback in the usual deployment; the API serves the host
// application, support tooling, and tests.
package http

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RouteRegistrar mounts a handler's routes under a router group.
type RouteRegistrar interface {
	RegisterRoutes(group *gin.RouterGroup)
}

// Server represents the local API HTTP server.
type Server struct {
	server *http.Server
	router *gin.Engine
	db     *sql.DB
	logger *slog.Logger
	addr   string
}

// NewServer creates a new HTTP server. The router is built by SetupRouter;
// tests may install a custom router directly.
func NewServer(db *sql.DB, host string, port int, logger *slog.Logger) *Server {
	return &Server{
		db:     db,
		logger: logger,
		addr:   fmt.Sprintf("%s:%d", host, port),
	}
}

// SetupRouter builds the API router: recovery, request IDs, logging, any
// extra middleware (CORS, metrics), health endpoints, and the v1 API.
func (s *Server) SetupRouter(registrar RouteRegistrar, extraMiddleware ...gin.HandlerFunc) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))

	for _, middleware := range extraMiddleware {
		if middleware != nil {
			router.Use(middleware)
		}
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	if registrar != nil {
		registrar.RegisterRoutes(router.Group("/v1"))
	}

	s.router = router
}

// healthHandler reports process liveness.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler reports whether dependencies are reachable. The only
// dependency is the local database.
func (s *Server) readinessHandler(c *gin.Context) {
	components := gin.H{}
	ready := true

	if s.db == nil {
		components["database"] = "error"
		ready = false
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			components["database"] = "error"
			ready = false
		} else {
			components["database"] = "ok"
		}
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "components": components})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "components": components})
}

// Handler returns the configured router, building the default one if
// no routes were set up.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.SetupRouter(nil)
	}
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		s.SetupRouter(nil)
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.logger != nil {
		s.logger.Info("starting http server", slog.String("addr", s.addr))
	}

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info("shutting down http server")
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
