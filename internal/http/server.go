package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weeklytotals/internal/log"
	"weeklytotals/internal/services"
)

// SyncStatus reports whether the device is connected to its replica.
type SyncStatus interface {
	IsListening() bool
}

// Options configures a Server. Ledger is required.
type Options struct {
	Ledger    *services.Ledger
	Sync      SyncStatus
	Gatherer  prometheus.Gatherer
	Logger    *log.Logger
	RateLimit RateLimitConfig
}

// Server is the device-local JSON API over the ledger.
type Server struct {
	echo        *echo.Echo
	ledger      *services.Ledger
	sync        SyncStatus
	logger      *log.Logger
	rateLimiter *rateLimiter
}

// NewServer configures middleware and routes, returning a ready-to-run server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default(log.ComponentHTTP)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = extractClientIP
	e.Validator = NewValidator()
	e.HTTPErrorHandler = errorHandler(opts.Logger)
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 10 * time.Second
	e.Server.IdleTimeout = 60 * time.Second
	e.Server.MaxHeaderBytes = 1 << 16

	s := &Server{
		echo:        e,
		ledger:      opts.Ledger,
		sync:        opts.Sync,
		logger:      opts.Logger,
		rateLimiter: newRateLimiter(opts.RateLimit),
	}

	e.Use(log.RequestLogger(opts.Logger))
	e.Use(middleware.Recover())
	e.Use(securityHeaders(opts.Logger))
	e.Use(middleware.BodyLimit("64K"))
	e.Use(s.rateLimiter.middleware())

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	e.GET("/weeks/current", s.handleCurrentWeek)
	e.GET("/weeks/:week", s.handleWeek)

	e.POST("/transactions", s.handleCreateTransaction)
	e.PUT("/transactions/:id", s.handleUpdateTransaction)
	e.DELETE("/transactions/:id", s.handleDeleteTransaction)

	e.GET("/categories", s.handleListCategories)
	e.POST("/categories", s.handleCreateCategory)
	e.PUT("/categories/:name", s.handleUpdateCategory)
	e.DELETE("/categories/:name", s.handleDeleteCategory)

	e.GET("/budget", s.handleGetBudget)
	e.POST("/budget/setup", s.handleSetupBudget)
	e.PUT("/budget", s.handleStageBudget)

	e.POST("/reset", s.handleReset)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("HTTP server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and its background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.stop()
	return s.echo.Shutdown(ctx)
}
