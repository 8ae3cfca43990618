// Package api exposes the router over HTTP: routing and scoring endpoints,
// statistics, prometheus metrics and a websocket feed of decisions.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clawinfra/clawroute/internal/config"
	"github.com/clawinfra/clawroute/internal/plugin"
)

// Server is the HTTP API server
type Server struct {
	plugin     *plugin.Plugin
	secret     []byte
	logger     *slog.Logger
	metrics    *Metrics
	hub        *Hub
	httpServer *http.Server
	cancelSub  func()
}

// NewServer creates an API server over an initialized plugin. An empty
// secret disables authentication.
func NewServer(p *plugin.Plugin, secret []byte, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		plugin:  p,
		secret:  secret,
		logger:  logger.With("component", "api"),
		metrics: NewMetrics(),
	}
	s.hub = NewHub(s.logger, func(n int) { s.metrics.feedClients.Set(float64(n)) })
	if cfg := p.Config(); cfg != nil {
		s.hub.AllowOrigins(cfg.Server.AllowedOrigins...)
	}

	s.cancelSub = p.Subscribe(func(d plugin.Decision) {
		s.metrics.ObserveDecision(d)
		s.hub.Publish(d)
	})
	p.OnReload(func(res *config.ReloadResult, err error) {
		s.metrics.ObserveReload(res, err)
		if r := p.Router(); r != nil {
			s.metrics.SetPatternWarnings(len(r.Warnings()))
		}
	})
	if r := p.Router(); r != nil {
		s.metrics.SetPatternWarnings(len(r.Warnings()))
	}
	return s
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metrics.Handler())

	auth := AuthMiddleware(s.secret, s.logger)
	r.Route("/api", func(ar chi.Router) {
		ar.Use(auth)
		ar.Post("/route", s.handleRoute)
		ar.Post("/score", s.handleScore)
		ar.Post("/features", s.handleFeatures)
		ar.Get("/tiers", s.handleTiers)
		ar.Get("/stats", s.handleStats)
		ar.Get("/health", s.handleHealth)
		ar.Post("/outcome", s.handleOutcome)
	})
	r.With(auth).Get("/ws/decisions", s.hub.ServeHTTP)

	return r
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "addr", addr, "auth", len(s.secret) > 0)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Close detaches the server from the plugin's decision stream.
func (s *Server) Close() {
	s.cancelSub()
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}
