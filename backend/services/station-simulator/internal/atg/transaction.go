package atg

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"chargesim/backend/services/station-simulator/internal/ocpp/protocol"
)

// ErrRequestServiceUnavailable is returned when a request must be sent before the
// station transport is ready.
var ErrRequestServiceUnavailable = errors.New("atg: request service unavailable")

// startTransaction runs the authorize-then-start handshake and returns the outer
// authorization verdict: the Authorize answer when it short-circuits, otherwise the
// StartTransaction answer.
func (g *Generator) startTransaction(ctx context.Context, service RequestService, connectorID int, logger *zap.Logger) (protocol.IdTagInfo, error) {
	measurement := g.measurer.Begin(startMeasure)
	defer measurement.End()

	if !g.station.HasIDTags() {
		logger.Info("start transaction without an idTag")
		return startWith(ctx, service, connectorID, "")
	}

	idTag := g.station.RandomIDTag()
	if g.station.RequireAuthorize() {
		authorize, err := service.Authorize(ctx, connectorID, idTag)
		if err != nil {
			return protocol.IdTagInfo{}, err
		}
		if !authorize.IdTagInfo.Accepted() {
			return authorize.IdTagInfo, nil
		}
	}
	logger.Info("start transaction", zap.String("id_tag", idTag))
	return startWith(ctx, service, connectorID, idTag)
}

func startWith(ctx context.Context, service RequestService, connectorID int, idTag string) (protocol.IdTagInfo, error) {
	resp, err := service.StartTransaction(ctx, connectorID, idTag)
	if err != nil {
		return protocol.IdTagInfo{}, err
	}
	return resp.IdTagInfo, nil
}

// stopTransaction stops the connector's active transaction. With none active it logs a
// warning and returns a nil response and no error.
func (g *Generator) stopTransaction(ctx context.Context, connectorID int, reason protocol.StopReason, logger *zap.Logger) (*protocol.StopTransactionResponse, error) {
	measurement := g.measurer.Begin(stopMeasure)
	defer measurement.End()

	connector, ok := g.station.Connector(connectorID)
	if !ok || !connector.TransactionStarted {
		fields := []zap.Field{}
		if connector.TransactionID != 0 {
			fields = append(fields, zap.Int("transaction_id", connector.TransactionID))
		}
		logger.Warn("trying to stop a not started transaction", fields...)
		return nil, nil
	}

	service := g.station.RequestService()
	if service == nil {
		return nil, ErrRequestServiceUnavailable
	}

	transactionID := connector.TransactionID
	return service.StopTransaction(ctx,
		transactionID,
		g.station.EnergyActiveImportRegister(transactionID),
		g.station.TransactionIDTag(transactionID),
		reason)
}
