// Package atg implements the automatic transaction generator: one autonomous session
// scheduler per connector that authorizes, starts and stops charging transactions
// against the central system with randomized timing and a cumulative time budget.
package atg

import (
	"context"
	"time"

	"chargesim/backend/services/station-simulator/internal/ocpp/protocol"
)

const (
	// RequestServiceWaitInterval is the poll period while the station transport is not ready.
	RequestServiceWaitInterval = time.Second
	// RejectionRecoveryWait is slept after a rejected Authorize or StartTransaction.
	RejectionRecoveryWait = 2 * time.Second
	// DefaultStopAfterHours applies when the configuration leaves the budget unset.
	DefaultStopAfterHours = 0.25

	startMeasure = "StartTransaction with ATG"
	stopMeasure  = "StopTransaction with ATG"
)

// Config bounds the generator behaviour. Delays and durations are in seconds.
type Config struct {
	Enable                         bool    `yaml:"enable"`
	MinDelayBetweenTwoTransactions int     `yaml:"minDelayBetweenTwoTransactions"`
	MaxDelayBetweenTwoTransactions int     `yaml:"maxDelayBetweenTwoTransactions"`
	MinDuration                    int     `yaml:"minDuration"`
	MaxDuration                    int     `yaml:"maxDuration"`
	ProbabilityOfStart             float64 `yaml:"probabilityOfStart"`
	StopAfterHours                 float64 `yaml:"stopAfterHours"`
	RequireAuthorize               bool    `yaml:"requireAuthorize"`
}

// Budget is the cumulative active time a connector may run across restarts.
func (c Config) Budget() time.Duration {
	hours := c.StopAfterHours
	if hours <= 0 {
		hours = DefaultStopAfterHours
	}
	return time.Duration(hours * float64(time.Hour))
}

// Cause records why a connector loop ended.
type Cause string

const (
	CauseNone                 Cause = ""
	CauseBudgetExpired        Cause = "BudgetExpired"
	CauseStationUnregistered  Cause = "StationUnregistered"
	CauseStationUnavailable   Cause = "StationUnavailable"
	CauseConnectorUnavailable Cause = "ConnectorUnavailable"
	CauseExternallyStopped    Cause = "ExternallyStopped"
	CauseFaulted              Cause = "Faulted"
)

// Status is the per-connector generator state. Zero times mean "absent".
type Status struct {
	Running                        bool      `json:"running"`
	StartDate                      time.Time `json:"startDate"`
	StopDate                       time.Time `json:"stopDate"`
	LastRunDate                    time.Time `json:"lastRunDate,omitempty"`
	StoppedDate                    time.Time `json:"stoppedDate,omitempty"`
	SkippedConsecutiveTransactions int       `json:"skippedConsecutiveTransactions"`
	SkippedTransactions            int       `json:"skippedTransactions"`
	Cause                          Cause     `json:"cause,omitempty"`
}

// Connector is the station's view of one connector's active transaction.
type Connector struct {
	TransactionStarted bool
	TransactionID      int
}

// RequestService sends OCPP requests to the central system. A non-nil error is a
// transport fault; a non-Accepted IdTagInfo is a rejection.
type RequestService interface {
	Authorize(ctx context.Context, connectorID int, idTag string) (*protocol.AuthorizeResponse, error)
	StartTransaction(ctx context.Context, connectorID int, idTag string) (*protocol.StartTransactionResponse, error)
	StopTransaction(ctx context.Context, transactionID int, meterStop int64, idTag string, reason protocol.StopReason) (*protocol.StopTransactionResponse, error)
}

// Station is the charging station the generator drives.
type Station interface {
	ID() string
	ConnectorIDs() []int
	IsRegistered() bool
	IsAvailable() bool
	IsConnectorAvailable(connectorID int) bool
	// RequestService returns nil until the transport to the central system is ready.
	RequestService() RequestService
	HasIDTags() bool
	RandomIDTag() string
	RequireAuthorize() bool
	Connector(connectorID int) (Connector, bool)
	EnergyActiveImportRegister(transactionID int) int64
	TransactionIDTag(transactionID int) string
}

// Measurement is an open timing measure.
type Measurement interface {
	End()
}

// Measurer opens timing measures around request handshakes.
type Measurer interface {
	Begin(name string) Measurement
}

// StatusStore persists connector statuses so the time budget survives a process restart.
type StatusStore interface {
	Load(ctx context.Context, stationID string) (map[int]Status, error)
	Save(ctx context.Context, stationID string, connectorID int, status Status) error
}

// Random is the source of randomness for delays and start decisions.
type Random interface {
	Float64() float64
	IntN(n int) int
}

type nopMeasurer struct{}

func (nopMeasurer) Begin(string) Measurement { return nopMeasurement{} }

type nopMeasurement struct{}

func (nopMeasurement) End() {}
