package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"chargesim/backend/services/station-simulator/internal/ocpp/protocol"
)

// Message log directions.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// HandlerFunc processes an incoming CALL payload and returns the response body.
type HandlerFunc func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error)

// Router dispatches OCPP actions sent by the central system to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRouter returns router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Register attaches handler to action.
func (r *Router) Register(action string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = handler
}

// Route executes handler for message.
func (r *Router) Route(ctx context.Context, stationID string, msg *Message) (interface{}, error) {
	r.mu.RLock()
	handler, ok := r.handlers[msg.Action]
	r.mu.RUnlock()
	if !ok {
		return nil, &CallError{Code: protocol.ErrorNotImplemented, Description: fmt.Sprintf("action %s is not supported", msg.Action)}
	}
	return handler(ctx, stationID, msg.Payload)
}

// MessageLog persists raw OCPP frames.
type MessageLog interface {
	Save(ctx context.Context, stationID, direction, action string, payload []byte) error
}

// Processor ties together parsing, routing of incoming calls, response encoding and
// resolution of the client's pending calls.
type Processor struct {
	parser *Parser
	router *Router
	client *Client
	logger *zap.Logger
	msgLog MessageLog
}

// NewProcessor builds Processor. msgLog may be nil.
func NewProcessor(parser *Parser, router *Router, client *Client, msgLog MessageLog, logger *zap.Logger) *Processor {
	return &Processor{
		parser: parser,
		router: router,
		client: client,
		msgLog: msgLog,
		logger: logger,
	}
}

// Process handles a raw inbound frame and returns the response frame bytes, if any.
func (p *Processor) Process(ctx context.Context, stationID string, raw []byte) ([]byte, error) {
	msg, err := p.parser.Parse(raw)
	if err != nil {
		return nil, err
	}

	if msg.MessageType != protocol.MessageTypeCall {
		action, ok := p.client.Resolve(msg)
		if !ok {
			p.logger.Warn("response for unknown ocpp call", zap.String("unique_id", msg.UniqueID))
			return nil, nil
		}
		p.save(ctx, stationID, DirectionIncoming, action, raw)
		return nil, nil
	}

	p.save(ctx, stationID, DirectionIncoming, msg.Action, raw)

	responsePayload, err := p.router.Route(ctx, stationID, msg)
	if err != nil {
		p.logger.Warn("ocpp handler failed", zap.String("action", msg.Action), zap.Error(err))
		code, description := protocol.ErrorInternalError, err.Error()
		var callErr *CallError
		if errors.As(err, &callErr) {
			code, description = callErr.Code, callErr.Description
		}
		return BuildCallError(msg.UniqueID, code, description)
	}

	if responsePayload == nil {
		responsePayload = struct{}{}
	}

	respBytes, err := BuildCallResult(msg.UniqueID, responsePayload)
	if err != nil {
		p.logger.Error("encode ocpp response failed", zap.Error(err))
		return nil, err
	}

	p.save(ctx, stationID, DirectionOutgoing, msg.Action, respBytes)

	return respBytes, nil
}

func (p *Processor) save(ctx context.Context, stationID, direction, action string, payload []byte) {
	if p.msgLog == nil {
		return
	}
	if err := p.msgLog.Save(ctx, stationID, direction, action, payload); err != nil {
		p.logger.Debug("ocpp message log failed", zap.Error(err))
	}
}
