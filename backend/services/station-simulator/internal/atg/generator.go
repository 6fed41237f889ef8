package atg

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const persistTimeout = 2 * time.Second

// Option customises a Generator.
type Option func(*Generator)

// WithMeasurer sets the timing measurer for handshakes.
func WithMeasurer(m Measurer) Option {
	return func(g *Generator) {
		if m != nil {
			g.measurer = m
		}
	}
}

// WithStatusStore persists connector statuses.
func WithStatusStore(s StatusStore) Option {
	return func(g *Generator) { g.store = s }
}

// WithRandom replaces the random source.
func WithRandom(r Random) Option {
	return func(g *Generator) {
		if r != nil {
			g.random = r
		}
	}
}

type globalRandom struct{}

func (globalRandom) Float64() float64 { return rand.Float64() }
func (globalRandom) IntN(n int) int   { return rand.IntN(n) }

// Generator owns the connector session loops of one station.
type Generator struct {
	station  Station
	cfg      Config
	logger   *zap.Logger
	measurer Measurer
	store    StatusStore
	random   Random
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	// epoch changes on every Start and Stop; a dispatched loop that has not begun yet
	// gives up when it sees a newer epoch.
	epoch atomic.Uint64

	mu         sync.Mutex
	started    bool
	restored   bool
	connectors map[int]*connectorEntry
	wg         sync.WaitGroup
}

// New builds a stopped generator for station.
func New(station Station, cfg Config, logger *zap.Logger, opts ...Option) *Generator {
	g := &Generator{
		station:    station,
		cfg:        cfg,
		logger:     logger.Named("atg"),
		measurer:   nopMeasurer{},
		random:     globalRandom{},
		now:        time.Now,
		sleep:      sleepContext,
		connectors: make(map[int]*connectorEntry),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Started reports whether Start was called without a matching Stop.
func (g *Generator) Started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

// Start dispatches one session loop per connector (id > 0). Starting twice is reported
// and ignored. ctx bounds the loops' lifetime; cancelling it aborts pending waits.
func (g *Generator) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		g.logger.Error("trying to start while already started")
		return
	}

	g.restore(ctx)

	epoch := g.epoch.Add(1)
	for _, connectorID := range g.station.ConnectorIDs() {
		if connectorID <= 0 {
			continue
		}
		entry, ok := g.connectors[connectorID]
		if !ok {
			entry = &connectorEntry{}
			g.connectors[connectorID] = entry
		}
		prev := entry.done
		done := make(chan struct{})
		entry.done = done

		g.wg.Add(1)
		go func(connectorID int) {
			defer g.wg.Done()
			defer close(done)
			g.runConnector(ctx, connectorID, entry, epoch, prev)
		}(connectorID)
	}
	g.started = true
}

// Stop signals every connector loop to end at its next iteration boundary. In-flight
// waits and requests are not interrupted. Stopping a stopped generator is reported and ignored.
func (g *Generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		g.logger.Error("trying to stop while not started")
		return
	}

	g.epoch.Add(1)
	for _, entry := range g.connectors {
		entry.signalStop()
	}
	g.started = false
}

// Wait blocks until every dispatched connector loop has returned.
func (g *Generator) Wait() {
	g.wg.Wait()
}

// Status returns a copy of a connector's status.
func (g *Generator) Status(connectorID int) (Status, bool) {
	g.mu.Lock()
	entry, ok := g.connectors[connectorID]
	g.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return entry.snapshot(), true
}

// Statuses returns a copy of every connector status.
func (g *Generator) Statuses() map[int]Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[int]Status, len(g.connectors))
	for id, entry := range g.connectors {
		out[id] = entry.snapshot()
	}
	return out
}

// ConnectorIDs returns the connectors that have a status entry, sorted.
func (g *Generator) ConnectorIDs() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]int, 0, len(g.connectors))
	for id := range g.connectors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// restore seeds statuses from the store once, before the first dispatch.
func (g *Generator) restore(ctx context.Context) {
	if g.restored || g.store == nil {
		return
	}
	g.restored = true

	loadCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	statuses, err := g.store.Load(loadCtx, g.station.ID())
	if err != nil {
		g.logger.Warn("failed to load persisted connector statuses", zap.Error(err))
		return
	}
	for connectorID, status := range statuses {
		status.Running = false
		g.connectors[connectorID] = &connectorEntry{status: status}
	}
	if len(statuses) > 0 {
		g.logger.Info("restored connector statuses", zap.Int("connectors", len(statuses)))
	}
}

func (g *Generator) persist(ctx context.Context, connectorID int, entry *connectorEntry) {
	if g.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := g.store.Save(saveCtx, g.station.ID(), connectorID, entry.snapshot()); err != nil {
		g.logger.Debug("failed to persist connector status", zap.Int("connector_id", connectorID), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
