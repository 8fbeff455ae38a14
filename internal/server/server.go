// Package server assembles the HTTP surface: middleware, health, metrics and API routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/balsam/config"
	"github.com/Ramsey-B/balsam/internal/handlers"
	"github.com/Ramsey-B/balsam/pkg/health"
	"github.com/Ramsey-B/balsam/pkg/middleware"
)

// Handlers are the API route groups. Nil handlers are not mounted.
type Handlers struct {
	Jobs   *handlers.JobHandler
	Keys   *handlers.KeyHandler
	Config *handlers.ConfigHandler
}

// NewEcho builds the router
func NewEcho(cfg *config.Config, checker *health.Checker, h Handlers, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomiddleware.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderXRequestID, middleware.HeaderOperator},
	}))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	if h.Jobs != nil {
		h.Jobs.Register(api.Group("/jobs"))
	}
	if h.Keys != nil {
		h.Keys.Register(api.Group("/keys"))
	}
	if h.Config != nil {
		h.Config.RegisterModels(api.Group("/models"))
		h.Config.RegisterThresholds(api.Group("/thresholds"))
	}
	return e
}

// Server runs the router as a startup dependency
type Server struct {
	echo    *echo.Echo
	http    *http.Server
	checker *health.Checker
	logger  ectologger.Logger
	errCh   chan error
}

// New creates a new server
func New(cfg *config.Config, e *echo.Echo, checker *health.Checker, logger ectologger.Logger) *Server {
	return &Server{
		echo: e,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           e,
			ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
			WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
			IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
			ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
		checker: checker,
		logger:  logger,
		errCh:   make(chan error, 1),
	}
}

func (s *Server) GetName() string {
	return "http"
}

func (s *Server) DependsOn() []string {
	return []string{"database"}
}

// Start begins serving in the background and marks the service ready
func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.logger.WithContext(ctx).Infof("HTTP server listening on %s", s.http.Addr)
		if err := s.echo.StartServer(s.http); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithContext(ctx).WithError(err).Error("HTTP server stopped")
			s.errCh <- err
		}
	}()
	s.checker.SetReady(true)
	return nil
}

// Errors reports a server that stopped on its own
func (s *Server) Errors() <-chan error {
	return s.errCh
}

func (s *Server) Stop(ctx context.Context) error {
	s.checker.SetReady(false)
	return s.echo.Shutdown(ctx)
}
