// Package uiserver exposes the simulator to operators: a websocket endpoint speaking the
// UI protocol, plus health and metrics endpoints.
package uiserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"chargesim/backend/services/station-simulator/internal/ws"
)

// Config configures the UI server.
type Config struct {
	Addr      string
	Auth      AuthConfig
	WebSocket ws.Options
}

// Server serves the operator endpoints.
type Server struct {
	cfg       Config
	processor *Processor
	authorize ws.Authorizer
	metrics   http.Handler
	manager   *ws.Manager
	logger    *zap.Logger
}

// NewServer builds the server. metrics may be nil.
func NewServer(cfg Config, processor *Processor, metrics http.Handler, logger *zap.Logger) (*Server, error) {
	authorize, err := NewAuthorizer(cfg.Auth)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:       cfg,
		processor: processor,
		authorize: authorize,
		metrics:   metrics,
		manager:   ws.NewManager(),
		logger:    logger.Named("uiserver"),
	}, nil
}

// Handler returns the HTTP routes. Websocket peers live until ctx ends.
func (s *Server) Handler(ctx context.Context) http.Handler {
	wsServer := ws.NewServer(ctx, s.manager, s.processor, Subprotocol, s.authorize, s.cfg.WebSocket, s.logger)

	mux := http.NewServeMux()
	mux.Handle("/health", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.HandleFunc("/", wsServer.HandleWS)
	return mux
}

// Connections returns the number of connected operators.
func (s *Server) Connections() int {
	return s.manager.Count()
}

// Run listens until ctx ends, then shuts down and disconnects every operator.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(ctx),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting ui server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.manager.CloseAll()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
