package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Authorizer vets the HTTP upgrade request; a non-nil error answers 401.
type Authorizer func(r *http.Request) error

// Server upgrades HTTP connections to websockets and hands frames to a processor.
type Server struct {
	manager     *Manager
	processor   MessageProcessor
	logger      *zap.Logger
	opts        Options
	subprotocol string
	authorize   Authorizer
	upgrader    websocket.Upgrader
	ctx         context.Context
}

// NewServer builds ws server. Connections live until ctx ends or the peer goes away.
func NewServer(ctx context.Context, manager *Manager, processor MessageProcessor, subprotocol string, authorize Authorizer, opts Options, logger *zap.Logger) *Server {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	if subprotocol != "" {
		upgrader.Subprotocols = []string{subprotocol}
	}
	return &Server{
		manager:     manager,
		processor:   processor,
		logger:      logger,
		opts:        opts,
		subprotocol: subprotocol,
		authorize:   authorize,
		upgrader:    upgrader,
		ctx:         ctx,
	}
}

// HandleWS is the HTTP handler for the websocket endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if s.authorize != nil {
		if err := s.authorize(r); err != nil {
			s.logger.Warn("websocket authentication failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Basic realm="chargesim"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	if s.subprotocol != "" && conn.Subprotocol() != s.subprotocol {
		s.logger.Warn("websocket subprotocol mismatch", zap.String("requested", r.Header.Get("Sec-WebSocket-Protocol")))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, "unsupported subprotocol"), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	peerID := uuid.NewString()
	ctx, cancel := context.WithCancel(s.ctx)
	connection := NewConnection(peerID, conn, s.processor, s.opts, s.logger, func(id string) {
		s.manager.Remove(id)
		cancel()
	})
	s.manager.Add(connection)

	go connection.Start(ctx)
	s.logger.Info("websocket peer connected", zap.String("peer_id", peerID), zap.String("remote_addr", r.RemoteAddr))
}
