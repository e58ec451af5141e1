// Package server exposes the mission API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nstogner/padawan/pkg/controller"
	"github.com/nstogner/padawan/pkg/invoker"
	reportbleve "github.com/nstogner/padawan/pkg/report/bleve"
	"github.com/nstogner/padawan/pkg/store"
	"github.com/nstogner/padawan/pkg/telemetry"
	"github.com/nstogner/padawan/pkg/tools"
)

// Runner drives a mission to completion.
type Runner interface {
	Run(ctx context.Context, req controller.Request)
}

// ReportIndex is the searchable report index behind /api/reports/search.
type ReportIndex interface {
	Search(ctx context.Context, q string, limit int) ([]reportbleve.Hit, error)
	Delete(missionID string) error
}

// Config controls the HTTP listener and mission defaults.
type Config struct {
	Addr            string
	AllowOrigins    []string
	DefaultMaxSteps int
	DefaultModel    string
}

// Server serves the mission API. Missions started through the API run in
// the background until they finish or Close is called.
type Server struct {
	cfg     Config
	store   store.Store
	runner  Runner
	index   ReportIndex
	tools   *tools.Handler
	metrics *telemetry.Metrics
	echo    *echo.Echo

	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup

	mu     sync.Mutex
	active map[string]bool // missions with a loop in this process
}

// Option customizes a Server.
type Option func(*Server)

// WithReportIndex enables report search.
func WithReportIndex(idx ReportIndex) Option {
	return func(s *Server) { s.index = idx }
}

// WithTools serves the built-in workspace tools under /api/tools.
func WithTools(h *tools.Handler) Option {
	return func(s *Server) { s.tools = h }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new Server.
func New(cfg Config, st store.Store, runner Runner, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		store:  st,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.echo = s.routes()
	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = errorHandler

	origins := s.cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, invoker.MissionHeader},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	api := e.Group("/api")
	api.POST("/develop", s.handleDevelop)

	api.GET("/missions", s.handleListMissions)
	api.POST("/missions", s.handleCreateMission)
	api.GET("/missions/:id", s.handleGetMission)
	api.DELETE("/missions/:id", s.handleDeleteMission)
	api.POST("/missions/:id/stop", s.handleStopMission)
	api.GET("/missions/:id/live", s.handleLive)

	api.GET("/tools", s.handleListTools)
	if s.tools != nil {
		s.tools.Register(api.Group("/tools"))
	}

	api.GET("/reports/search", s.handleSearchReports)
	return e
}

func errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	if code >= http.StatusInternalServerError {
		slog.Error("API error", "status", code, "method", req.Method, "path", req.URL.Path, "error", err)
	} else {
		slog.Debug("API error", "status", code, "method", req.Method, "path", req.URL.Path, "error", err)
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]any{"error": msg})
	}
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down and waits for background missions to stop.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting web server", "addr", s.cfg.Addr)
		errCh <- s.echo.Start(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.echo.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close interrupts running missions and waits for them to record their
// terminal status.
func (s *Server) Close() {
	s.cancel()
	s.runs.Wait()
}

// claim reserves missionID for a new run. It reports false when a run for
// the mission is already active.
func (s *Server) claim(missionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[missionID] {
		return false
	}
	s.active[missionID] = true
	return true
}

func (s *Server) release(missionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, missionID)
}

// start runs a claimed mission in the background and releases the claim
// when the run returns.
func (s *Server) start(req controller.Request) {
	if req.MaxSteps <= 0 {
		req.MaxSteps = s.cfg.DefaultMaxSteps
	}
	if req.Model == "" {
		req.Model = s.cfg.DefaultModel
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.release(req.MissionID)
		s.runner.Run(s.ctx, req)
	}()
}
