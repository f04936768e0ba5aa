// File: internal/api/server.go
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/orchestrator"
)

// Server is the HTTP surface over the orchestrator.
type Server struct {
	cfg    config.ServerConfig
	logger *zap.Logger
	orch   *orchestrator.Orchestrator
	http   *http.Server
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg config.ServerConfig, orch *orchestrator.Orchestrator, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger.Named("api"),
		orch:   orch,
	}

	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.rateLimitMiddleware())

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/plan_and_search", s.handlePlanAndSearch).Methods(http.MethodPost)
	r.HandleFunc("/choose", s.handleChoose).Methods(http.MethodPost)
	r.HandleFunc("/checkout", s.handleCheckout).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{session_id}", s.handleCloseSession).Methods(http.MethodDelete)

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks serving requests until Shutdown or a listen error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening.", zap.String("addr", s.cfg.ListenAddr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down.")
	return s.http.Shutdown(ctx)
}
