package station

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chargesim/backend/services/station-simulator/internal/ocpp/protocol"
	"chargesim/backend/services/station-simulator/internal/ws"
)

var errConnectionLost = errors.New("station: connection to central system lost")

// Run keeps the station connected to the central system until ctx ends, reconnecting
// after ReconnectDelay whenever a session fails. The generator is started after the
// first accepted registration when enabled, and is stopped and drained before Run returns.
func (s *Station) Run(ctx context.Context) error {
	if s.runContext() != nil {
		return errors.New("station: already running")
	}
	s.setRunContext(ctx)
	defer s.setRunContext(nil)
	defer s.shutdownATG()

	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			s.logger.Info("station stopped")
			return nil
		}
		s.logger.Warn("central system session ended", zap.Error(err), zap.Duration("reconnect_in", s.cfg.ReconnectDelay))

		timer := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("station stopped")
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection: dial, boot, status report, heartbeats.
func (s *Station) session(ctx context.Context) error {
	// The connection outlives ctx so that the generator can still stop its
	// transactions during shutdown.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	conn, err := ws.Dial(ctx, s.cfg.CentralSystemURL, s.cfg.ID, s.proc, ws.DialOptions{
		Options:     s.cfg.WebSocket,
		Subprotocol: protocol.Subprotocol,
		Username:    s.cfg.Username,
		Password:    s.cfg.Password,
	}, s.logger, func(string) { s.client.Close() })
	if err != nil {
		return err
	}
	s.client.Attach(conn)
	go conn.Start(connCtx)
	defer conn.Close()

	interval, err := s.boot(ctx, conn.Done())
	if err != nil {
		return err
	}

	for _, id := range append([]int{0}, s.ConnectorIDs()...) {
		c, _ := s.state.connector(id)
		status := c.status
		if c.availability == protocol.AvailabilityInoperative {
			status = protocol.ConnectorUnavailable
		}
		s.notifyStatus(ctx, id, status)
	}

	if s.cfg.ATG.Enable && !s.gen.Started() {
		s.gen.Start(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.shutdownATG()
			return ctx.Err()
		case <-conn.Done():
			return errConnectionLost
		case <-ticker.C:
			var resp protocol.HeartbeatResponse
			if err := s.client.Call(ctx, protocol.ActionHeartbeat, protocol.HeartbeatRequest{}, &resp); err != nil {
				s.logger.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// boot sends BootNotification until accepted and returns the heartbeat interval.
func (s *Station) boot(ctx context.Context, done <-chan struct{}) (time.Duration, error) {
	req := protocol.BootNotificationRequest{
		ChargePointVendor:       s.cfg.Vendor,
		ChargePointModel:        s.cfg.Model,
		ChargePointSerialNumber: s.cfg.SerialNumber,
		FirmwareVersion:         s.cfg.FirmwareVersion,
	}
	for {
		var resp protocol.BootNotificationResponse
		if err := s.client.Call(ctx, protocol.ActionBootNotification, req, &resp); err != nil {
			return 0, fmt.Errorf("station: boot notification: %w", err)
		}

		interval := s.cfg.HeartbeatInterval
		if resp.Interval > 0 {
			interval = time.Duration(resp.Interval) * time.Second
		}

		s.state.setRegistered(resp.Status == protocol.RegistrationAccepted)
		if resp.Status == protocol.RegistrationAccepted {
			s.logger.Info("registered with central system", zap.Duration("heartbeat_interval", interval))
			return interval, nil
		}

		s.logger.Warn("registration not accepted, retrying",
			zap.String("status", string(resp.Status)),
			zap.Duration("retry_in", interval))
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-done:
			timer.Stop()
			return 0, errConnectionLost
		case <-timer.C:
		}
	}
}

func (s *Station) shutdownATG() {
	if s.gen.Started() {
		s.gen.Stop()
	}
	s.gen.Wait()
}
