package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultWriteTimeout = 15 * time.Second
	defaultPingInterval = 30 * time.Second
	readLimit           = 1024 * 1024
	sendBuffer          = 64
)

var (
	// ErrConnectionClosed is returned by Send once the connection is gone.
	ErrConnectionClosed = errors.New("ws: connection closed")
	// ErrSendBufferFull is returned by Send when the write pump cannot keep up.
	ErrSendBufferFull = errors.New("ws: send buffer full")
)

// MessageProcessor handles raw inbound messages and returns an optional reply.
type MessageProcessor interface {
	Process(ctx context.Context, peerID string, raw []byte) ([]byte, error)
}

// Options tunes a connection.
type Options struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	return o
}

// Connection wraps a websocket with read/write pumps. It serves both the station side
// (dialed to the central system) and the UI server side (accepted from an operator).
type Connection struct {
	peerID    string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
	processor MessageProcessor
	opts      Options
	onClose   func(peerID string)
}

// NewConnection builds connection wrapper.
func NewConnection(peerID string, ws *websocket.Conn, processor MessageProcessor, opts Options, logger *zap.Logger, onClose func(string)) *Connection {
	return &Connection{
		peerID:    peerID,
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		logger:    logger,
		processor: processor,
		opts:      opts.withDefaults(),
		onClose:   onClose,
	}
}

// PeerID returns identifier.
func (c *Connection) PeerID() string {
	return c.peerID
}

// Subprotocol returns the negotiated websocket subprotocol.
func (c *Connection) Subprotocol() string {
	return c.ws.Subprotocol()
}

// Done is closed once the connection is torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Start launches the write pump and runs the read pump until the connection ends.
func (c *Connection) Start(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.Close()
	deadline := 2 * c.opts.PingInterval
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})
	c.ws.SetPingHandler(func(data string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
		return c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.opts.WriteTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("connection read closed", zap.String("peer_id", c.peerID), zap.Error(err))
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))

		response, err := c.processor.Process(ctx, c.peerID, message)
		if err != nil {
			c.logger.Warn("failed to process message", zap.String("peer_id", c.peerID), zap.Error(err))
			continue
		}
		if response != nil {
			if err := c.Send(response); err != nil {
				c.logger.Warn("failed to queue reply", zap.String("peer_id", c.peerID), zap.Error(err))
			}
		}
	}
}

func (c *Connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Info("connection write failed", zap.String("peer_id", c.peerID), zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, []byte("ping")); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Send enqueues a message for writing.
func (c *Connection) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.logger.Warn("dropping outgoing message, buffer full", zap.String("peer_id", c.peerID))
		return ErrSendBufferFull
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// Close sends a close frame, releases the socket and fires onClose exactly once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
		if c.onClose != nil {
			c.onClose(c.peerID)
		}
	})
}
