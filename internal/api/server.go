// Package api exposes backtest invocation, run status and artifacts over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"solana-backtest-lab/internal/backtest"
	"solana-backtest-lab/internal/evidence"
	"solana-backtest-lab/internal/logging"
	"solana-backtest-lab/internal/observability"
	"solana-backtest-lab/internal/runtracker"
)

// Server serves the HTTP API.
type Server struct {
	addr           string
	svc            *backtest.Service
	tracker        *runtracker.Tracker
	artifacts      *evidence.Store
	streamInterval time.Duration
	upgrader       websocket.Upgrader
	router         *gin.Engine
	logger         zerolog.Logger
}

// Config describes the dependencies of Server.
type Config struct {
	Addr           string
	Service        *backtest.Service
	Tracker        *runtracker.Tracker
	Artifacts      *evidence.Store
	StreamInterval time.Duration // status push cadence on the websocket, default 1s
	Logger         zerolog.Logger
}

// NewServer builds the router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("backtest service is required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("run tracker is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		addr:           cfg.Addr,
		svc:            cfg.Service,
		tracker:        cfg.Tracker,
		artifacts:      cfg.Artifacts,
		streamInterval: cfg.StreamInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		router: router,
		logger: logging.Component(cfg.Logger, "api"),
	}
	router.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(observability.Handler()))

	api := s.router.Group("/api")
	api.POST("/backtest", s.handleBacktest)
	api.GET("/runs/:id", s.handleRunStatus)
	api.GET("/runs/:id/result", s.handleRunResult)
	api.GET("/runs/:id/stream", s.handleRunStream)
	api.GET("/runs/:id/artifacts", s.handleArtifactIndex)
	api.HEAD("/runs/:id/artifacts/:kind", s.handleArtifact)
	api.GET("/runs/:id/artifacts/:kind", s.handleArtifact)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info().Str("addr", s.addr).Msg("http server listening")

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := s.logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = s.logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
