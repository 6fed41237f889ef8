package station

import (
	"sort"
	"sync"
	"time"

	"chargesim/backend/services/station-simulator/internal/ocpp/protocol"
)

// Transaction is an accepted charging transaction on one connector.
type Transaction struct {
	StationID   string
	ID          int
	ConnectorID int
	IDTag       string
	MeterStart  int64
	StartedAt   time.Time
}

type connectorState struct {
	availability  protocol.AvailabilityType
	status        protocol.ConnectorStatus
	energyWh      int64
	transactionID int
	started       bool
}

// state keeps the station's runtime data. Connector 0 carries the station-wide availability.
type state struct {
	mu           sync.RWMutex
	registered   bool
	connectors   map[int]*connectorState
	transactions map[int]Transaction
}

func newState(connectors int) *state {
	s := &state{
		connectors:   make(map[int]*connectorState, connectors+1),
		transactions: make(map[int]Transaction),
	}
	for id := 0; id <= connectors; id++ {
		s.connectors[id] = &connectorState{
			availability: protocol.AvailabilityOperative,
			status:       protocol.ConnectorAvailable,
		}
	}
	return s
}

func (s *state) setRegistered(registered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = registered
}

func (s *state) isRegistered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registered
}

func (s *state) isOperative(connectorID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connectors[connectorID]
	return ok && conn.availability == protocol.AvailabilityOperative
}

func (s *state) connectorIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.connectors))
	for id := range s.connectors {
		if id > 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func (s *state) connector(connectorID int) (connectorState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connectors[connectorID]
	if !ok {
		return connectorState{}, false
	}
	return *conn, true
}

func (s *state) setStatus(connectorID int, status protocol.ConnectorStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.connectors[connectorID]; ok {
		conn.status = status
	}
}

// setAvailability returns false for an unknown connector and whether a transaction is
// running on any targeted connector.
func (s *state) setAvailability(connectorID int, availability protocol.AvailabilityType) (ok, busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connectors[connectorID]
	if !ok {
		return false, false
	}
	conn.availability = availability
	if connectorID == 0 {
		for _, c := range s.connectors {
			busy = busy || c.started
		}
		return true, busy
	}
	return true, conn.started
}

// begin records an accepted transaction. It refuses an id that is already in use and
// a connector that already runs one.
func (s *state) begin(tx Transaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.transactions[tx.ID]; dup {
		return false
	}
	conn, ok := s.connectors[tx.ConnectorID]
	if !ok || conn.started {
		return false
	}
	s.transactions[tx.ID] = tx
	conn.started = true
	conn.transactionID = tx.ID
	conn.status = protocol.ConnectorCharging
	return true
}

// end clears the transaction, moves the connector register to meterStop and returns the
// connector's idle status: Unavailable when it or the station is inoperative.
func (s *state) end(transactionID int, meterStop int64) (Transaction, protocol.ConnectorStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[transactionID]
	if !ok {
		return Transaction{}, "", false
	}
	delete(s.transactions, transactionID)

	status := protocol.ConnectorAvailable
	if s.connectors[0].availability != protocol.AvailabilityOperative {
		status = protocol.ConnectorUnavailable
	}
	if conn, ok := s.connectors[tx.ConnectorID]; ok {
		if conn.availability != protocol.AvailabilityOperative {
			status = protocol.ConnectorUnavailable
		}
		if conn.transactionID == transactionID {
			conn.started = false
			conn.energyWh = meterStop
			conn.status = status
		}
	}
	return tx, status, true
}

func (s *state) transaction(transactionID int) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[transactionID]
	return tx, ok
}
