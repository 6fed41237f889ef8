package atg

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargesim/backend/services/station-simulator/internal/ocpp/protocol"
)

const exitStopTimeout = 30 * time.Second

// connectorEntry is written only by its connector loop; the mutex covers readers
// (Status, Statuses) and the stop signal.
type connectorEntry struct {
	mu     sync.Mutex
	status Status
	done   chan struct{}
}

func (e *connectorEntry) snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *connectorEntry) signalStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Running = false
}

func (e *connectorEntry) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status.Running
}

func (e *connectorEntry) update(fn func(s *Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.status)
}

// begin initialises a run unless valid reports the dispatch is stale.
func (e *connectorEntry) begin(now time.Time, budget time.Duration, valid func() bool) (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !valid() {
		return e.status, false
	}
	e.status = startRun(e.status, now, budget)
	return e.status, true
}

// startRun computes the status of a new run. The window is the budget left after every
// earlier run, so the budget is cumulative across restarts.
func startRun(prev Status, now time.Time, budget time.Duration) Status {
	next := prev
	next.SkippedConsecutiveTransactions = 0
	next.SkippedTransactions = 0
	next.StartDate = now
	next.StopDate = now.Add(budget - consumedBudget(prev, budget))
	next.LastRunDate = time.Time{}
	next.StoppedDate = time.Time{}
	next.Cause = CauseNone
	next.Running = true
	return next
}

// consumedBudget is the active time spent by all runs up to and including prev: what
// was already used when prev started plus prev's own active time (StartDate to its
// LastRunDate). The result stays within [0, budget].
func consumedBudget(prev Status, budget time.Duration) time.Duration {
	if prev.StartDate.IsZero() {
		return 0
	}
	var consumed time.Duration
	if !prev.StopDate.IsZero() {
		consumed = budget - prev.StopDate.Sub(prev.StartDate)
	}
	if prev.LastRunDate.After(prev.StartDate) {
		consumed += prev.LastRunDate.Sub(prev.StartDate)
	}
	return min(max(consumed, 0), budget)
}

func (g *Generator) runConnector(ctx context.Context, connectorID int, entry *connectorEntry, epoch uint64, prev <-chan struct{}) {
	logger := g.logger.With(zap.Int("connector_id", connectorID))

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	status, ok := entry.begin(g.now(), g.cfg.Budget(), func() bool { return g.epoch.Load() == epoch })
	if !ok {
		logger.Debug("connector dispatch superseded before start")
		return
	}
	logger.Info("started on connector", zap.Duration("run_for", status.StopDate.Sub(status.StartDate)))
	g.persist(ctx, connectorID, entry)

	cause := g.loop(ctx, connectorID, entry, logger)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exitStopTimeout)
	if _, err := g.stopTransaction(stopCtx, connectorID, protocol.StopReasonNone, logger); err != nil {
		logger.Warn("stop transaction on exit failed", zap.Error(err))
	}
	cancel()

	entry.update(func(s *Status) {
		s.Running = false
		s.Cause = cause
		s.StoppedDate = g.now()
	})
	final := entry.snapshot()
	g.persist(ctx, connectorID, entry)

	logger.Info("stopped on connector",
		zap.String("cause", string(cause)),
		zap.Duration("lasted", final.StoppedDate.Sub(final.StartDate)))
	logger.Debug("connector status", zap.Any("status", final))
}

func (g *Generator) loop(ctx context.Context, connectorID int, entry *connectorEntry, logger *zap.Logger) Cause {
	for entry.running() {
		if g.now().After(entry.snapshot().StopDate) {
			return g.terminate(entry, CauseBudgetExpired)
		}
		if !g.station.IsRegistered() {
			logger.Error("entered in transaction loop while the charging station is not registered")
			return g.terminate(entry, CauseStationUnregistered)
		}
		if !g.station.IsAvailable() {
			logger.Info("entered in transaction loop while the charging station is unavailable")
			return g.terminate(entry, CauseStationUnavailable)
		}
		if !g.station.IsConnectorAvailable(connectorID) {
			logger.Info("entered in transaction loop while the connector is unavailable")
			return g.terminate(entry, CauseConnectorUnavailable)
		}

		service, err := g.waitRequestService(ctx, logger)
		if err != nil {
			return g.terminate(entry, CauseExternallyStopped)
		}

		wait := g.randomSeconds(g.cfg.MinDelayBetweenTwoTransactions, g.cfg.MaxDelayBetweenTwoTransactions)
		logger.Info("waiting before next transaction", zap.Duration("wait", wait))
		if err := g.sleep(ctx, wait); err != nil {
			return g.terminate(entry, CauseExternallyStopped)
		}

		if g.random.Float64() < g.cfg.ProbabilityOfStart {
			entry.update(func(s *Status) { s.SkippedConsecutiveTransactions = 0 })

			info, err := g.startTransaction(ctx, service, connectorID, logger)
			if err != nil {
				if ctx.Err() != nil {
					return g.terminate(entry, CauseExternallyStopped)
				}
				logger.Error("start transaction failed", zap.Error(err))
				return g.terminate(entry, CauseFaulted)
			}
			if !info.Accepted() {
				logger.Warn("start transaction rejected", zap.String("status", string(info.Status)))
				if err := g.sleep(ctx, RejectionRecoveryWait); err != nil {
					return g.terminate(entry, CauseExternallyStopped)
				}
			} else {
				duration := g.randomSeconds(g.cfg.MinDuration, g.cfg.MaxDuration)
				transactionID := g.transactionID(connectorID)
				logger.Info("transaction started",
					zap.Int("transaction_id", transactionID),
					zap.Duration("stop_in", duration))
				if err := g.sleep(ctx, duration); err != nil {
					return g.terminate(entry, CauseExternallyStopped)
				}
				logger.Info("stop transaction", zap.Int("transaction_id", transactionID))
				if _, err := g.stopTransaction(ctx, connectorID, protocol.StopReasonNone, logger); err != nil {
					if ctx.Err() != nil {
						return g.terminate(entry, CauseExternallyStopped)
					}
					logger.Error("stop transaction failed", zap.Error(err))
					return g.terminate(entry, CauseFaulted)
				}
			}
		} else {
			var skipped Status
			entry.update(func(s *Status) {
				s.SkippedConsecutiveTransactions++
				s.SkippedTransactions++
				skipped = *s
			})
			logger.Info("skipped transaction",
				zap.Int("skipped_consecutive", skipped.SkippedConsecutiveTransactions),
				zap.Int("skipped_total", skipped.SkippedTransactions))
		}

		entry.update(func(s *Status) { s.LastRunDate = g.now() })
		g.persist(ctx, connectorID, entry)
	}
	return CauseExternallyStopped
}

func (g *Generator) terminate(entry *connectorEntry, cause Cause) Cause {
	entry.signalStop()
	return cause
}

// waitRequestService polls until the station transport is ready.
func (g *Generator) waitRequestService(ctx context.Context, logger *zap.Logger) (RequestService, error) {
	service := g.station.RequestService()
	if service != nil {
		return service, nil
	}
	logger.Info("transaction loop waiting for charging station service to be initialized")
	for service == nil {
		if err := g.sleep(ctx, RequestServiceWaitInterval); err != nil {
			return nil, err
		}
		service = g.station.RequestService()
	}
	return service, nil
}

// randomSeconds picks a whole number of seconds uniformly in [min, max].
func (g *Generator) randomSeconds(min, max int) time.Duration {
	if max < min {
		min, max = max, min
	}
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return time.Duration(min+g.random.IntN(max-min+1)) * time.Second
}

func (g *Generator) transactionID(connectorID int) int {
	connector, ok := g.station.Connector(connectorID)
	if !ok {
		return 0
	}
	return connector.TransactionID
}
