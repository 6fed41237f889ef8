package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargesim/backend/services/station-simulator/internal/ocpp/protocol"
)

const defaultCallTimeout = 30 * time.Second

var (
	// ErrTimeout is returned when the central system does not answer in time.
	ErrTimeout = errors.New("ocpp: call timed out")
	// ErrClosed is returned for calls issued on, or pending at, a closed client.
	ErrClosed = errors.New("ocpp: client closed")
)

var idGenerator = func() string { return uuid.NewString() }

// CallError is a CALLERROR frame returned by the peer.
type CallError struct {
	Code        string
	Description string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("ocpp: call error %s: %s", e.Code, e.Description)
}

// Sender writes a raw frame to the transport.
type Sender interface {
	Send(msg []byte) error
}

type pendingCall struct {
	action string
	result chan *Message
}

// Client issues CALLs to the central system and correlates the answers by unique id.
type Client struct {
	stationID string
	timeout   time.Duration
	msgLog    MessageLog
	logger    *zap.Logger

	mu      sync.Mutex
	sender  Sender
	pending map[string]*pendingCall
}

// NewClient builds a client; Attach must be called before Call.
func NewClient(stationID string, timeout time.Duration, msgLog MessageLog, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{
		stationID: stationID,
		timeout:   timeout,
		msgLog:    msgLog,
		logger:    logger,
		pending:   make(map[string]*pendingCall),
	}
}

// Attach binds the client to a live transport.
func (c *Client) Attach(sender Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sender = sender
}

// Ready reports whether a transport is attached.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sender != nil
}

// Call sends action with request and decodes the CALLRESULT payload into response.
// A CALLERROR answer is returned as *CallError.
func (c *Client) Call(ctx context.Context, action string, request, response interface{}) error {
	id := idGenerator()
	frame, err := BuildCall(id, action, request)
	if err != nil {
		return fmt.Errorf("ocpp: encode %s: %w", action, err)
	}

	call := &pendingCall{action: action, result: make(chan *Message, 1)}

	c.mu.Lock()
	sender := c.sender
	if sender == nil {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = call
	c.mu.Unlock()

	defer c.forget(id)

	if c.msgLog != nil {
		if err := c.msgLog.Save(ctx, c.stationID, DirectionOutgoing, action, frame); err != nil {
			c.logger.Debug("ocpp message log failed", zap.Error(err))
		}
	}

	if err := sender.Send(frame); err != nil {
		return fmt.Errorf("ocpp: send %s: %w", action, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-call.result:
		if !ok {
			return ErrClosed
		}
		if msg.MessageType == protocol.MessageTypeCallError {
			return &CallError{Code: msg.ErrorCode, Description: msg.ErrorDescription}
		}
		if response == nil {
			return nil
		}
		if err := json.Unmarshal(msg.Payload, response); err != nil {
			return fmt.Errorf("ocpp: decode %s response: %w", action, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s after %s", ErrTimeout, action, c.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolve delivers a CALLRESULT or CALLERROR to the waiting call and returns its action.
func (c *Client) Resolve(msg *Message) (string, bool) {
	c.mu.Lock()
	call, ok := c.pending[msg.UniqueID]
	if ok {
		delete(c.pending, msg.UniqueID)
	}
	c.mu.Unlock()
	if !ok {
		return "", false
	}
	call.result <- msg
	return call.action, true
}

// Close detaches the transport and fails every pending call with ErrClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sender = nil
	for id, call := range c.pending {
		close(call.result)
		delete(c.pending, id)
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}
