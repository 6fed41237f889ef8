package station

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chargesim/backend/services/station-simulator/internal/ocpp/protocol"
)

// ErrDuplicateTransaction is returned when the central system accepts a transaction
// with an id that is already running on this station.
var ErrDuplicateTransaction = errors.New("station: duplicate transaction id")

// requestService sends station-initiated requests and applies the answers to the
// station state.
type requestService struct {
	station *Station
}

func (r *requestService) Authorize(ctx context.Context, connectorID int, idTag string) (*protocol.AuthorizeResponse, error) {
	var resp protocol.AuthorizeResponse
	if err := r.station.client.Call(ctx, protocol.ActionAuthorize, protocol.AuthorizeRequest{IdTag: idTag}, &resp); err != nil {
		return nil, err
	}
	r.station.logger.Debug("authorize answered",
		zap.Int("connector_id", connectorID),
		zap.String("id_tag", idTag),
		zap.String("status", string(resp.IdTagInfo.Status)))
	return &resp, nil
}

func (r *requestService) StartTransaction(ctx context.Context, connectorID int, idTag string) (*protocol.StartTransactionResponse, error) {
	s := r.station
	conn, _ := s.state.connector(connectorID)
	startedAt := s.now().UTC()

	req := protocol.StartTransactionRequest{
		ConnectorID: connectorID,
		IdTag:       idTag,
		MeterStart:  conn.energyWh,
		Timestamp:   startedAt,
	}
	var resp protocol.StartTransactionResponse
	if err := s.client.Call(ctx, protocol.ActionStartTransaction, req, &resp); err != nil {
		return nil, err
	}
	if !resp.IdTagInfo.Accepted() {
		return &resp, nil
	}

	tx := Transaction{
		StationID:   s.cfg.ID,
		ID:          resp.TransactionID,
		ConnectorID: connectorID,
		IDTag:       idTag,
		MeterStart:  conn.energyWh,
		StartedAt:   startedAt,
	}
	if !s.state.begin(tx) {
		s.logger.Error("central system accepted a transaction that cannot be tracked",
			zap.Int("connector_id", connectorID),
			zap.Int("transaction_id", tx.ID))
		return nil, fmt.Errorf("%w: %d on connector %d", ErrDuplicateTransaction, tx.ID, connectorID)
	}
	s.notifyStatus(ctx, connectorID, protocol.ConnectorCharging)

	if s.history != nil {
		if err := s.history.RecordStart(ctx, tx); err != nil {
			s.logger.Warn("failed to record transaction start", zap.Int("transaction_id", tx.ID), zap.Error(err))
		}
	}
	return &resp, nil
}

func (r *requestService) StopTransaction(ctx context.Context, transactionID int, meterStop int64, idTag string, reason protocol.StopReason) (*protocol.StopTransactionResponse, error) {
	s := r.station
	stoppedAt := s.now().UTC()

	req := protocol.StopTransactionRequest{
		TransactionID: transactionID,
		IdTag:         idTag,
		MeterStop:     meterStop,
		Timestamp:     stoppedAt,
		Reason:        reason,
	}
	var resp protocol.StopTransactionResponse
	if err := s.client.Call(ctx, protocol.ActionStopTransaction, req, &resp); err != nil {
		return nil, err
	}

	tx, idle, ok := s.state.end(transactionID, meterStop)
	if !ok {
		s.logger.Warn("stop answered for unknown transaction", zap.Int("transaction_id", transactionID))
		return &resp, nil
	}
	s.notifyStatus(ctx, tx.ConnectorID, idle)

	if s.history != nil {
		if err := s.history.RecordStop(ctx, s.cfg.ID, transactionID, meterStop, reason, stoppedAt); err != nil {
			s.logger.Warn("failed to record transaction stop", zap.Int("transaction_id", transactionID), zap.Error(err))
		}
	}
	return &resp, nil
}

// notifyStatus records the connector status and reports it; failures are only logged.
func (s *Station) notifyStatus(ctx context.Context, connectorID int, status protocol.ConnectorStatus) {
	s.state.setStatus(connectorID, status)
	req := protocol.StatusNotificationRequest{
		ConnectorID: connectorID,
		ErrorCode:   protocol.ChargePointErrorNoError,
		Status:      status,
		Timestamp:   s.now().UTC(),
	}
	if err := s.client.Call(ctx, protocol.ActionStatusNotification, req, &protocol.StatusNotificationResponse{}); err != nil {
		s.logger.Warn("status notification failed",
			zap.Int("connector_id", connectorID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
