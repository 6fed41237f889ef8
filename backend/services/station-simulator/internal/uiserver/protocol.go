package uiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargesim/backend/services/station-simulator/internal/repository"
	"chargesim/backend/services/station-simulator/internal/station"
)

// Subprotocol is the UI protocol version negotiated on the websocket handshake.
const Subprotocol = "ui0.0.1"

// Procedure names.
const (
	ProcedureListChargingStations = "listChargingStations"
	ProcedureStartATG             = "startAutomaticTransactionGenerator"
	ProcedureStopATG              = "stopAutomaticTransactionGenerator"
	ProcedureListTransactions     = "listTransactions"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

const defaultTransactionsLimit = 50

// ChargingStation is the operator-facing view of a simulated station.
type ChargingStation interface {
	HashID() string
	Info() station.Info
	StartATG() error
	StopATG() error
}

// Registry lists the simulated stations.
type Registry interface {
	ChargingStations() []ChargingStation
}

// RegistryFunc adapts a function to Registry.
type RegistryFunc func() []ChargingStation

func (f RegistryFunc) ChargingStations() []ChargingStation { return f() }

// TransactionLister reads the transaction history.
type TransactionLister interface {
	ListByStation(ctx context.Context, stationID string, limit int) ([]repository.TransactionRecord, error)
}

type broadcastRequest struct {
	HashIDs []string `json:"hashIds"`
}

type transactionsRequest struct {
	HashID string `json:"hashId"`
	Limit  int    `json:"limit"`
}

// Response is the payload of a UI protocol response.
type Response struct {
	Status           string                 `json:"status"`
	ChargingStations []station.Info         `json:"chargingStations,omitempty"`
	Transactions     []TransactionView      `json:"transactions,omitempty"`
	HashIDsSucceeded []string               `json:"hashIdsSucceeded,omitempty"`
	HashIDsFailed    []string               `json:"hashIdsFailed,omitempty"`
	Errors           map[string]string      `json:"errors,omitempty"`
	Details          map[string]interface{} `json:"details,omitempty"`
}

// TransactionView is a history row as sent to operators.
type TransactionView struct {
	TransactionID int    `json:"transactionId"`
	ConnectorID   int    `json:"connectorId"`
	IDTag         string `json:"idTag,omitempty"`
	MeterStart    int64  `json:"meterStart"`
	MeterStop     *int64 `json:"meterStop,omitempty"`
	StopReason    string `json:"stopReason,omitempty"`
	StartedAt     string `json:"startedAt"`
	StoppedAt     string `json:"stoppedAt,omitempty"`
}

// Processor answers UI protocol requests `[uuid, procedureName, payload]` with
// `[uuid, payload]`.
type Processor struct {
	registry     Registry
	transactions TransactionLister
	logger       *zap.Logger
}

// NewProcessor builds Processor. transactions may be nil.
func NewProcessor(registry Registry, transactions TransactionLister, logger *zap.Logger) *Processor {
	return &Processor{registry: registry, transactions: transactions, logger: logger}
}

// Process implements ws.MessageProcessor.
func (p *Processor) Process(ctx context.Context, peerID string, raw []byte) ([]byte, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("uiserver: invalid request: %w", err)
	}
	if len(frame) != 3 {
		return nil, fmt.Errorf("uiserver: request must have 3 elements, got %d", len(frame))
	}

	var id, procedure string
	if err := json.Unmarshal(frame[0], &id); err != nil {
		return nil, fmt.Errorf("uiserver: invalid request id: %w", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("uiserver: request id %q is not a uuid", id)
	}
	if err := json.Unmarshal(frame[1], &procedure); err != nil {
		return nil, fmt.Errorf("uiserver: invalid procedure name: %w", err)
	}

	p.logger.Debug("ui request", zap.String("peer_id", peerID), zap.String("procedure", procedure))
	resp := p.handle(ctx, procedure, frame[2])
	return json.Marshal([]interface{}{id, resp})
}

func (p *Processor) handle(ctx context.Context, procedure string, payload json.RawMessage) Response {
	switch procedure {
	case ProcedureListChargingStations:
		stations := p.registry.ChargingStations()
		infos := make([]station.Info, 0, len(stations))
		for _, cs := range stations {
			infos = append(infos, cs.Info())
		}
		return Response{Status: StatusSuccess, ChargingStations: infos}
	case ProcedureStartATG:
		return p.broadcast(payload, ChargingStation.StartATG)
	case ProcedureStopATG:
		return p.broadcast(payload, ChargingStation.StopATG)
	case ProcedureListTransactions:
		return p.listTransactions(ctx, payload)
	default:
		p.logger.Warn("unknown ui procedure", zap.String("procedure", procedure))
		return failure(fmt.Sprintf("unknown procedure %q", procedure))
	}
}

// broadcast runs command on the addressed stations; no hashIds addresses all of them.
func (p *Processor) broadcast(payload json.RawMessage, command func(ChargingStation) error) Response {
	var req broadcastRequest
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &req); err != nil {
			return failure(err.Error())
		}
	}

	targets, unknown := p.addressed(req.HashIDs)
	resp := Response{Status: StatusSuccess}
	for _, hashID := range unknown {
		resp.fail(hashID, errors.New("unknown charging station"))
	}
	for _, cs := range targets {
		if err := command(cs); err != nil {
			resp.fail(cs.HashID(), err)
			continue
		}
		resp.HashIDsSucceeded = append(resp.HashIDsSucceeded, cs.HashID())
	}
	return resp
}

func (p *Processor) listTransactions(ctx context.Context, payload json.RawMessage) Response {
	if p.transactions == nil {
		return failure("transaction history is disabled")
	}
	var req transactionsRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return failure(err.Error())
	}
	var target ChargingStation
	for _, cs := range p.registry.ChargingStations() {
		if cs.HashID() == req.HashID {
			target = cs
		}
	}
	if target == nil {
		return failure(fmt.Sprintf("unknown charging station %q", req.HashID))
	}
	if req.Limit <= 0 {
		req.Limit = defaultTransactionsLimit
	}

	records, err := p.transactions.ListByStation(ctx, target.Info().StationID, req.Limit)
	if err != nil {
		p.logger.Error("failed to list transactions", zap.Error(err))
		return failure(err.Error())
	}
	views := make([]TransactionView, 0, len(records))
	for _, rec := range records {
		view := TransactionView{
			TransactionID: rec.TransactionID,
			ConnectorID:   rec.ConnectorID,
			IDTag:         rec.IDTag,
			MeterStart:    rec.MeterStart,
			StopReason:    rec.StopReason.String,
			StartedAt:     rec.StartedAt.UTC().Format(time.RFC3339),
		}
		if rec.MeterStop.Valid {
			meterStop := rec.MeterStop.Int64
			view.MeterStop = &meterStop
		}
		if rec.StoppedAt.Valid {
			view.StoppedAt = rec.StoppedAt.Time.UTC().Format(time.RFC3339)
		}
		views = append(views, view)
	}
	return Response{Status: StatusSuccess, Transactions: views}
}

// addressed returns the stations named by hashIDs in registry order, or all of them
// when hashIDs is empty, plus the hash ids matching no station.
func (p *Processor) addressed(hashIDs []string) ([]ChargingStation, []string) {
	wanted := make(map[string]bool, len(hashIDs))
	for _, id := range hashIDs {
		wanted[id] = false
	}
	var out []ChargingStation
	for _, cs := range p.registry.ChargingStations() {
		if _, ok := wanted[cs.HashID()]; ok || len(hashIDs) == 0 {
			wanted[cs.HashID()] = true
			out = append(out, cs)
		}
	}
	var unknown []string
	for _, id := range hashIDs {
		if !wanted[id] {
			unknown = append(unknown, id)
		}
	}
	return out, unknown
}

func (r *Response) fail(hashID string, err error) {
	r.Status = StatusFailure
	r.HashIDsFailed = append(r.HashIDsFailed, hashID)
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[hashID] = err.Error()
}

func failure(message string) Response {
	return Response{Status: StatusFailure, Details: map[string]interface{}{"message": message}}
}
