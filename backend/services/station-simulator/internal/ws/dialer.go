package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const handshakeTimeout = 10 * time.Second

// DialOptions configures an outbound connection to the central system.
type DialOptions struct {
	Options
	Subprotocol string
	Username    string
	Password    string
}

// Dial opens a websocket to baseURL/peerID and wraps it. The caller runs Start.
func Dial(ctx context.Context, baseURL, peerID string, processor MessageProcessor, opts DialOptions, logger *zap.Logger, onClose func(string)) (*Connection, error) {
	url := strings.TrimRight(baseURL, "/") + "/" + peerID

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	if opts.Subprotocol != "" {
		dialer.Subprotocols = []string{opts.Subprotocol}
	}

	header := http.Header{}
	if opts.Username != "" {
		req := &http.Request{Header: header}
		req.SetBasicAuth(opts.Username, opts.Password)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial %s: %w (http %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}

	if opts.Subprotocol != "" && conn.Subprotocol() != opts.Subprotocol {
		_ = conn.Close()
		return nil, fmt.Errorf("ws: server refused subprotocol %s", opts.Subprotocol)
	}

	logger.Info("connected to central system", zap.String("peer_id", peerID), zap.String("url", url))
	return NewConnection(peerID, conn, processor, opts.Options, logger, onClose), nil
}
