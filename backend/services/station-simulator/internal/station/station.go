// Package station simulates one OCPP 1.6 charging station: it registers with the central
// system, keeps per-connector state and transactions, and drives its automatic
// transaction generator.
package station

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargesim/backend/services/station-simulator/internal/atg"
	"chargesim/backend/services/station-simulator/internal/ocpp"
	"chargesim/backend/services/station-simulator/internal/ocpp/protocol"
	"chargesim/backend/services/station-simulator/internal/ws"
)

const (
	defaultMaxPowerW         = 22000
	defaultHeartbeatInterval = 60 * time.Second
	defaultReconnectDelay    = 10 * time.Second
)

var (
	// ErrNotRunning is returned by operator commands before Run has started.
	ErrNotRunning = errors.New("station: not running")
	// ErrATGStarted is returned when the generator is already started.
	ErrATGStarted = errors.New("station: automatic transaction generator already started")
	// ErrATGStopped is returned when the generator is not started.
	ErrATGStopped = errors.New("station: automatic transaction generator not started")
)

// Config describes one simulated station.
type Config struct {
	ID                string
	Vendor            string
	Model             string
	SerialNumber      string
	FirmwareVersion   string
	Connectors        int
	MaxPowerW         int
	IDTags            []string
	CentralSystemURL  string
	Username          string
	Password          string
	CallTimeout       time.Duration
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	WebSocket         ws.Options
	ATG               atg.Config
}

// TransactionHistory records accepted transactions.
type TransactionHistory interface {
	RecordStart(ctx context.Context, tx Transaction) error
	RecordStop(ctx context.Context, stationID string, transactionID int, meterStop int64, reason protocol.StopReason, stoppedAt time.Time) error
}

// Option customises a Station.
type Option func(*options)

type options struct {
	msgLog   ocpp.MessageLog
	history  TransactionHistory
	atgOpts  []atg.Option
	randomFn func(n int) int
}

// WithMessageLog persists every OCPP frame.
func WithMessageLog(l ocpp.MessageLog) Option {
	return func(o *options) { o.msgLog = l }
}

// WithHistory records transactions.
func WithHistory(h TransactionHistory) Option {
	return func(o *options) { o.history = h }
}

// WithGeneratorOptions forwards options to the automatic transaction generator.
func WithGeneratorOptions(opts ...atg.Option) Option {
	return func(o *options) { o.atgOpts = append(o.atgOpts, opts...) }
}

// Station is a simulated charging station. It implements atg.Station.
type Station struct {
	cfg      Config
	hashID   string
	logger   *zap.Logger
	state    *state
	client   *ocpp.Client
	router   *ocpp.Router
	proc     *ocpp.Processor
	requests *requestService
	history  TransactionHistory
	gen      *atg.Generator
	now      func() time.Time
	randomFn func(n int) int

	mu     sync.Mutex
	runCtx context.Context
}

// New builds a station; Run connects it.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Station {
	if cfg.Connectors <= 0 {
		cfg.Connectors = 1
	}
	if cfg.MaxPowerW <= 0 {
		cfg.MaxPowerW = defaultMaxPowerW
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}

	o := options{randomFn: rand.IntN}
	for _, opt := range opts {
		opt(&o)
	}

	sum := sha256.Sum256([]byte(cfg.ID))
	logger = logger.With(zap.String("station_id", cfg.ID))

	s := &Station{
		cfg:      cfg,
		hashID:   hex.EncodeToString(sum[:]),
		logger:   logger,
		state:    newState(cfg.Connectors),
		client:   ocpp.NewClient(cfg.ID, cfg.CallTimeout, o.msgLog, logger),
		router:   ocpp.NewRouter(),
		history:  o.history,
		now:      time.Now,
		randomFn: o.randomFn,
	}
	s.requests = &requestService{station: s}
	s.proc = ocpp.NewProcessor(ocpp.NewParser(), s.router, s.client, o.msgLog, logger)
	s.router.Register(protocol.ActionChangeAvailability, s.handleChangeAvailability)
	s.gen = atg.New(s, cfg.ATG, logger, o.atgOpts...)
	return s
}

// ID returns the station identity used on the central system URL.
func (s *Station) ID() string { return s.cfg.ID }

// HashID is the stable identifier operators address the station with.
func (s *Station) HashID() string { return s.hashID }

// Generator exposes the station's automatic transaction generator.
func (s *Station) Generator() *atg.Generator { return s.gen }

// ConnectorIDs returns the physical connectors, sorted.
func (s *Station) ConnectorIDs() []int { return s.state.connectorIDs() }

// IsRegistered reports whether the central system accepted the BootNotification.
func (s *Station) IsRegistered() bool { return s.state.isRegistered() }

// IsAvailable reports the station-wide availability.
func (s *Station) IsAvailable() bool { return s.state.isOperative(0) }

// IsConnectorAvailable reports a connector's availability.
func (s *Station) IsConnectorAvailable(connectorID int) bool {
	return s.state.isOperative(connectorID)
}

// RequestService returns nil while no connection to the central system is attached.
func (s *Station) RequestService() atg.RequestService {
	if !s.client.Ready() {
		return nil
	}
	return s.requests
}

func (s *Station) HasIDTags() bool { return len(s.cfg.IDTags) > 0 }

func (s *Station) RandomIDTag() string {
	if len(s.cfg.IDTags) == 0 {
		return ""
	}
	return s.cfg.IDTags[s.randomFn(len(s.cfg.IDTags))]
}

func (s *Station) RequireAuthorize() bool { return s.cfg.ATG.RequireAuthorize }

func (s *Station) Connector(connectorID int) (atg.Connector, bool) {
	conn, ok := s.state.connector(connectorID)
	if !ok {
		return atg.Connector{}, false
	}
	return atg.Connector{TransactionStarted: conn.started, TransactionID: conn.transactionID}, true
}

// EnergyActiveImportRegister returns the simulated register in Wh, charging at full
// power since the transaction started.
func (s *Station) EnergyActiveImportRegister(transactionID int) int64 {
	tx, ok := s.state.transaction(transactionID)
	if !ok {
		return 0
	}
	elapsed := s.now().Sub(tx.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return tx.MeterStart + int64(elapsed.Seconds()*float64(s.cfg.MaxPowerW)/3600)
}

func (s *Station) TransactionIDTag(transactionID int) string {
	tx, _ := s.state.transaction(transactionID)
	return tx.IDTag
}

// StartATG starts the generator on all connectors.
func (s *Station) StartATG() error {
	ctx := s.runContext()
	if ctx == nil {
		return ErrNotRunning
	}
	if s.gen.Started() {
		return ErrATGStarted
	}
	s.gen.Start(ctx)
	return nil
}

// StopATG asks every connector loop to stop.
func (s *Station) StopATG() error {
	if s.runContext() == nil {
		return ErrNotRunning
	}
	if !s.gen.Started() {
		return ErrATGStopped
	}
	s.gen.Stop()
	return nil
}

// ConnectorInfo is the operator view of a connector.
type ConnectorInfo struct {
	ID                 int                       `json:"connectorId"`
	Availability       protocol.AvailabilityType `json:"availability"`
	Status             protocol.ConnectorStatus  `json:"status"`
	TransactionStarted bool                      `json:"transactionStarted"`
	TransactionID      int                       `json:"transactionId,omitempty"`
	EnergyWh           int64                     `json:"energyActiveImportRegister"`
}

// ATGInfo is the operator view of the generator.
type ATGInfo struct {
	Enabled  bool               `json:"enable"`
	Started  bool               `json:"started"`
	Statuses map[int]atg.Status `json:"connectorsStatus"`
}

// Info is a point-in-time snapshot of the station.
type Info struct {
	StationID  string          `json:"chargingStationId"`
	HashID     string          `json:"hashId"`
	Registered bool            `json:"registered"`
	Available  bool            `json:"available"`
	Connected  bool            `json:"connected"`
	Connectors []ConnectorInfo `json:"connectors"`
	ATG        ATGInfo         `json:"automaticTransactionGenerator"`
}

// Info snapshots the station for operators.
func (s *Station) Info() Info {
	info := Info{
		StationID:  s.cfg.ID,
		HashID:     s.hashID,
		Registered: s.IsRegistered(),
		Available:  s.IsAvailable(),
		Connected:  s.client.Ready(),
		ATG: ATGInfo{
			Enabled:  s.cfg.ATG.Enable,
			Started:  s.gen.Started(),
			Statuses: s.gen.Statuses(),
		},
	}
	for _, id := range s.ConnectorIDs() {
		conn, _ := s.state.connector(id)
		ci := ConnectorInfo{
			ID:                 id,
			Availability:       conn.availability,
			Status:             conn.status,
			TransactionStarted: conn.started,
			EnergyWh:           conn.energyWh,
		}
		if conn.started {
			ci.TransactionID = conn.transactionID
			ci.EnergyWh = s.EnergyActiveImportRegister(conn.transactionID)
		}
		info.Connectors = append(info.Connectors, ci)
	}
	return info
}

func (s *Station) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

func (s *Station) setRunContext(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCtx = ctx
}
