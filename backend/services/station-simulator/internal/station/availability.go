package station

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"chargesim/backend/services/station-simulator/internal/ocpp"
	"chargesim/backend/services/station-simulator/internal/ocpp/protocol"
)

// handleChangeAvailability applies a ChangeAvailability from the central system.
// Connector 0 targets the whole station. A change on a connector with a running
// transaction is Scheduled; the generator ends the transaction at its next iteration.
func (s *Station) handleChangeAvailability(ctx context.Context, _ string, payload json.RawMessage) (interface{}, error) {
	req, err := ocpp.Decode[protocol.ChangeAvailabilityRequest](payload)
	if err != nil {
		return nil, &ocpp.CallError{Code: protocol.ErrorFormationViolation, Description: err.Error()}
	}
	if req.Type != protocol.AvailabilityOperative && req.Type != protocol.AvailabilityInoperative {
		return nil, &ocpp.CallError{
			Code:        protocol.ErrorPropertyConstraintViol,
			Description: fmt.Sprintf("unknown availability type %q", req.Type),
		}
	}

	ok, busy := s.state.setAvailability(req.ConnectorID, req.Type)
	if !ok {
		s.logger.Warn("change availability for unknown connector", zap.Int("connector_id", req.ConnectorID))
		return protocol.ChangeAvailabilityResponse{Status: protocol.AvailabilityRejected}, nil
	}
	s.logger.Info("availability changed",
		zap.Int("connector_id", req.ConnectorID),
		zap.String("type", string(req.Type)),
		zap.Bool("transaction_running", busy))

	status := protocol.AvailabilityAccepted
	if busy && req.Type == protocol.AvailabilityInoperative {
		status = protocol.AvailabilityScheduled
	}

	if !busy {
		connectorStatus := protocol.ConnectorAvailable
		if req.Type == protocol.AvailabilityInoperative {
			connectorStatus = protocol.ConnectorUnavailable
		}
		// The reply is written by the read pump that also delivers the answer to this
		// notification, so it cannot be sent inline.
		go s.notifyStatus(context.WithoutCancel(ctx), req.ConnectorID, connectorStatus)
	}
	return protocol.ChangeAvailabilityResponse{Status: status}, nil
}
