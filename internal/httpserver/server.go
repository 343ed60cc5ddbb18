package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pcider/printbot/internal/printer"
	"github.com/pcider/printbot/internal/repository"
)

const readinessTimeout = 5 * time.Second

// Fleet is the read side of the printer poller.
type Fleet interface {
	Count() int
	Name(index int) string
	Printer(index int) (printer.Device, bool)
	ReadyStatus(index int) (printer.Status, bool)
}

// SessionLister lists the active print sessions.
type SessionLister interface {
	Sessions() []repository.PrintSession
}

// HealthCheck is one named dependency probed by /health/ready.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Server exposes health probes, Prometheus metrics and a read-only JSON
// view of the fleet for operators.
type Server struct {
	echo      *echo.Echo
	addr      string
	fleet     Fleet
	sessions  SessionLister
	checks    []HealthCheck
	clock     clockwork.Clock
	startTime time.Time
}

func NewServer(addr string, fleet Fleet, sessions SessionLister, clock clockwork.Clock, checks ...HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		addr:      addr,
		fleet:     fleet,
		sessions:  sessions,
		checks:    checks,
		clock:     clock,
		startTime: clock.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.GET("/api/printers", s.handlePrinters)
	s.echo.GET("/api/sessions", s.handleSessions)
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	slog.Info("starting http server", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
