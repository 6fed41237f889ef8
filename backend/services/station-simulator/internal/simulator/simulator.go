// Package simulator builds the simulated stations from templates and runs them.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chargesim/backend/services/station-simulator/internal/atg"
	"chargesim/backend/services/station-simulator/internal/ocpp"
	"chargesim/backend/services/station-simulator/internal/perf"
	"chargesim/backend/services/station-simulator/internal/station"
	"chargesim/backend/services/station-simulator/internal/uiserver"
	"chargesim/backend/services/station-simulator/internal/ws"
)

// Template describes a family of identical stations named <IDPrefix>-<index>.
type Template struct {
	IDPrefix        string     `yaml:"idPrefix"`
	Count           int        `yaml:"count"`
	Vendor          string     `yaml:"vendor"`
	Model           string     `yaml:"model"`
	FirmwareVersion string     `yaml:"firmwareVersion"`
	Connectors      int        `yaml:"connectors"`
	MaxPowerW       int        `yaml:"maxPowerW"`
	IDTags          []string   `yaml:"idTags"`
	ATG             atg.Config `yaml:"automaticTransactionGenerator"`
}

// Options are shared by every station.
type Options struct {
	CentralSystemURL  string
	Username          string
	Password          string
	CallTimeout       time.Duration
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	StartDelay        time.Duration
	WebSocket         ws.Options

	MessageLog  ocpp.MessageLog
	History     station.TransactionHistory
	StatusStore atg.StatusStore
	Statistics  *perf.Statistics
}

// Simulator owns the station fleet.
type Simulator struct {
	stations   []*station.Station
	startDelay time.Duration
	logger     *zap.Logger
}

// New builds every station of every template. Station ids must be unique.
func New(templates []Template, opts Options, logger *zap.Logger) (*Simulator, error) {
	if len(templates) == 0 {
		return nil, errors.New("simulator: no station templates")
	}

	seen := make(map[string]bool)
	sim := &Simulator{startDelay: opts.StartDelay, logger: logger.Named("simulator")}
	for _, tpl := range templates {
		if tpl.IDPrefix == "" {
			return nil, errors.New("simulator: template without idPrefix")
		}
		for i := 1; i <= tpl.Count; i++ {
			id := fmt.Sprintf("%s-%d", tpl.IDPrefix, i)
			if seen[id] {
				return nil, fmt.Errorf("simulator: duplicate station id %s", id)
			}
			seen[id] = true
			sim.stations = append(sim.stations, station.New(stationConfig(id, tpl, opts), logger, stationOptions(id, opts)...))
		}
	}
	if len(sim.stations) == 0 {
		return nil, errors.New("simulator: templates define no stations")
	}
	return sim, nil
}

func stationConfig(id string, tpl Template, opts Options) station.Config {
	return station.Config{
		ID:                id,
		Vendor:            tpl.Vendor,
		Model:             tpl.Model,
		SerialNumber:      id,
		FirmwareVersion:   tpl.FirmwareVersion,
		Connectors:        tpl.Connectors,
		MaxPowerW:         tpl.MaxPowerW,
		IDTags:            tpl.IDTags,
		CentralSystemURL:  opts.CentralSystemURL,
		Username:          opts.Username,
		Password:          opts.Password,
		CallTimeout:       opts.CallTimeout,
		HeartbeatInterval: opts.HeartbeatInterval,
		ReconnectDelay:    opts.ReconnectDelay,
		WebSocket:         opts.WebSocket,
		ATG:               tpl.ATG,
	}
}

func stationOptions(id string, opts Options) []station.Option {
	var out []station.Option
	if opts.MessageLog != nil {
		out = append(out, station.WithMessageLog(opts.MessageLog))
	}
	if opts.History != nil {
		out = append(out, station.WithHistory(opts.History))
	}
	if opts.StatusStore != nil {
		out = append(out, station.WithGeneratorOptions(atg.WithStatusStore(opts.StatusStore)))
	}
	if opts.Statistics != nil {
		out = append(out, station.WithGeneratorOptions(atg.WithMeasurer(opts.Statistics.ForStation(id))))
	}
	return out
}

// Stations returns the fleet in creation order.
func (s *Simulator) Stations() []*station.Station {
	return s.stations
}

// ChargingStations implements uiserver.Registry.
func (s *Simulator) ChargingStations() []uiserver.ChargingStation {
	out := make([]uiserver.ChargingStation, 0, len(s.stations))
	for _, st := range s.stations {
		out = append(out, st)
	}
	return out
}

// Run starts the stations, StartDelay apart, and returns once all of them stopped.
func (s *Simulator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	s.logger.Info("starting stations", zap.Int("count", len(s.stations)))

	for i, st := range s.stations {
		if i > 0 && s.startDelay > 0 {
			timer := time.NewTimer(s.startDelay)
			select {
			case <-gctx.Done():
				timer.Stop()
				return g.Wait()
			case <-timer.C:
			}
		}
		g.Go(func() error {
			if err := st.Run(gctx); err != nil {
				return fmt.Errorf("simulator: station %s: %w", st.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
