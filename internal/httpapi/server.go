// Package httpapi exposes the retrieval engine over HTTP. The layer is a
// thin adapter: it validates and binds inputs, calls the engine, and
// serialises results. All retrieval logic lives in the engine.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/logging"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// RequestTimeout is the per-request deadline propagated through the
	// engine; expiry surfaces as DeadlineExceeded.
	RequestTimeout time.Duration
	// InboundConcurrency bounds concurrently handled requests; excess
	// requests fail Overloaded.
	InboundConcurrency int
}

// Server routes HTTP traffic to the retrieval engine.
type Server struct {
	echo    *echo.Echo
	engine  Engine
	logger  *logging.Logger
	metrics *Metrics
	config  Config
}

// NewServer wires the routes and middleware.
func NewServer(engine Engine, logger *logging.Logger, cfg Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.InboundConcurrency <= 0 {
		cfg.InboundConcurrency = 256
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		engine:  engine,
		logger:  logger,
		metrics: NewMetrics(logger),
		config:  cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.concurrencyLimit(cfg.InboundConcurrency))
	e.Use(s.requestDeadline(cfg.RequestTimeout))
	e.Use(s.requestLog())

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/search", s.handleSearch)
	s.echo.GET("/similar/:document_id", s.handleSimilar)
	s.echo.POST("/context-bundle", s.handleContextBundle)
	s.echo.POST("/index", s.handleIndex)
	s.echo.DELETE("/content/:document_id", s.handleDelete)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/sessions", s.handleListSessions)
	s.echo.GET("/sessions/:session_id", s.handleGetSession)
}

// concurrencyLimit rejects requests beyond the inbound bound with 429.
func (s *Server) concurrencyLimit(limit int) echo.MiddlewareFunc {
	slots := make(chan struct{}, limit)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			select {
			case slots <- struct{}{}:
				defer func() { <-slots }()
				return next(c)
			default:
				return c.JSON(http.StatusTooManyRequests, ErrorBody{
					Success: false,
					Error:   KindOverloaded,
					Message: "server is at capacity, retry with backoff",
				})
			}
		}
	}
}

// requestDeadline attaches the per-request deadline to the context.
func (s *Server) requestDeadline(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func (s *Server) requestLog() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			ctx := c.Request().Context()
			s.logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			s.metrics.RecordRequest(ctx, c.Request().Method, c.Path(), c.Response().Status, duration, c.Response().Size)
			return err
		}
	}
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
