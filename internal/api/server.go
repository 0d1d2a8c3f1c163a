// Package api serves the history, chain and position views as a local JSON API.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"spxopt/internal/pricing"
	"spxopt/internal/resilience"
	"spxopt/internal/security"
	"spxopt/internal/store"
	"spxopt/internal/stream"
	"spxopt/internal/supplier"
)

// Server holds the API dependencies.
type Server struct {
	repo      store.SnapshotRepository
	src       supplier.ChainSource
	hub       *stream.Hub
	health    *resilience.HealthMonitor
	validator *security.InputValidator
	steps     int
	pad       float64
	logger    zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithHub enables the snapshot event stream.
func WithHub(h *stream.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithHealthMonitor serves m on /api/v1/health.
func WithHealthMonitor(m *resilience.HealthMonitor) Option {
	return func(s *Server) { s.health = m }
}

// WithValidator validates leg text with v.
func WithValidator(v *security.InputValidator) Option {
	return func(s *Server) { s.validator = v }
}

// WithPayoff sets the default payoff sampling.
func WithPayoff(steps int, pad float64) Option {
	return func(s *Server) {
		s.steps = steps
		s.pad = pad
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a server reading history from repo and live quotes from src.
func NewServer(repo store.SnapshotRepository, src supplier.ChainSource, opts ...Option) *Server {
	s := &Server{
		repo:   repo,
		src:    src,
		steps:  pricing.DefaultSteps,
		pad:    pricing.DefaultPad,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.RegisterRoutes(r.Group("/api/v1"))
	return r
}

// RegisterRoutes binds the handlers to g.
func (s *Server) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/health", s.Health)

	history := g.Group("/history")
	{
		history.GET("/expirations", s.HistoryExpirations)
		history.GET("/strikes", s.HistoryStrikes)
		history.GET("/prices", s.HistoryPrices)
	}

	chain := g.Group("/chain")
	{
		chain.GET("/expirations", s.ChainExpirations)
		chain.GET("", s.Chain)
	}

	pos := g.Group("/position")
	{
		pos.POST("/price", s.PositionPrice)
		pos.POST("/payoff", s.PositionPayoff)
		pos.POST("/legs", s.AddLeg)
		pos.PUT("/legs/:index", s.EditLeg)
		pos.DELETE("/legs/:index", s.RemoveLeg)
	}

	if s.hub != nil {
		g.GET("/stream/snapshots", s.StreamSnapshots)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("API server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info().Msg("API server shutting down")
	return srv.Shutdown(shutdownCtx)
}
