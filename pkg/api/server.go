// Package api provides the HTTP/SSE surface for the orchestrator (§4.6).
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/gtmcore/pkg/checkpoint"
	"github.com/codeready-toolchain/gtmcore/pkg/database"
	"github.com/codeready-toolchain/gtmcore/pkg/events"
	"github.com/codeready-toolchain/gtmcore/pkg/runtimeconfig"
	"github.com/codeready-toolchain/gtmcore/pkg/scheduler"
	"github.com/codeready-toolchain/gtmcore/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        *runtimeconfig.RuntimeConfig
	dbClient   *database.Client
	store      *checkpoint.Store
	bus        *events.Bus
	scheduler  *scheduler.Scheduler
}

// NewServer creates a new API server with Echo v5, wiring the checkpoint
// store, event bus, and scheduler that back every handler (§4.6).
func NewServer(
	cfg *runtimeconfig.RuntimeConfig,
	dbClient *database.Client,
	store *checkpoint.Store,
	bus *events.Bus,
	sched *scheduler.Scheduler,
) *Server {
	e := echo.New()

	s := &Server{
		echo:      e,
		cfg:       cfg,
		dbClient:  dbClient,
		store:     store,
		bus:       bus,
		scheduler: sched,
	}

	s.setupRoutes()
	return s
}

// setupRoutes registers all API routes (§4.6).
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/scenarios/:id/runs", s.startRunHandler)
	v1.POST("/runs/:id/resume", s.resumeRunHandler)
	v1.GET("/runs/:id", s.getRunHandler)
	v1.GET("/runs/:id/stream", s.streamRunHandler)
	v1.POST("/scenarios/:id/decisions/:key/select", s.selectDecisionHandler)
	v1.POST("/scenarios/:id/complete", s.completeScenarioHandler)
}

// Start starts the HTTP server on the given address and blocks until the
// server stops, returning ListenAndServe's error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health: a database reachability check plus
// the scheduler's active run count, reported alongside build version.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := map[string]HealthCheck{}
	status := "healthy"

	if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
		checks["database"] = HealthCheck{Status: "unhealthy", Message: err.Error()}
		status = "unhealthy"
	} else {
		checks["database"] = HealthCheck{Status: "healthy"}
	}

	resp := &HealthResponse{
		Status:     status,
		Version:    version.Full(),
		ActiveRuns: s.scheduler.ActiveRunCount(),
		Checks:     checks,
	}
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}
