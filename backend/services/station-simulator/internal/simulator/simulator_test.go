package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargesim/backend/services/station-simulator/internal/atg"
	"chargesim/backend/services/station-simulator/internal/perf"
)

func TestNewBuildsStationsFromTemplates(t *testing.T) {
	sim, err := New([]Template{
		{IDPrefix: "ac", Count: 2, Connectors: 2, ATG: atg.Config{Enable: true}},
		{IDPrefix: "dc", Count: 1},
	}, Options{CentralSystemURL: "ws://localhost:9000/ocpp", Statistics: perf.NewStatistics()}, zap.NewNop())
	require.NoError(t, err)

	var ids []string
	for _, st := range sim.Stations() {
		ids = append(ids, st.ID())
	}
	assert.Equal(t, []string{"ac-1", "ac-2", "dc-1"}, ids)
	assert.Equal(t, []int{1, 2}, sim.Stations()[0].ConnectorIDs())
	assert.Equal(t, []int{1}, sim.Stations()[2].ConnectorIDs())
	assert.Len(t, sim.ChargingStations(), 3)
	assert.Equal(t, sim.Stations()[1].HashID(), sim.ChargingStations()[1].HashID())
}

func TestNewRejectsBadTemplates(t *testing.T) {
	tests := []struct {
		name      string
		templates []Template
	}{
		{name: "none"},
		{name: "missing prefix", templates: []Template{{Count: 1}}},
		{name: "no stations", templates: []Template{{IDPrefix: "a"}}},
		{name: "duplicate ids", templates: []Template{{IDPrefix: "a", Count: 1}, {IDPrefix: "a", Count: 2}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.templates, Options{}, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestRunStopsWithContext(t *testing.T) {
	sim, err := New([]Template{{IDPrefix: "cs", Count: 3}}, Options{
		CentralSystemURL: "ws://127.0.0.1:1",
		ReconnectDelay:   20 * time.Millisecond,
		StartDelay:       10 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("simulator did not stop")
	}
	for _, st := range sim.Stations() {
		assert.False(t, st.IsRegistered())
	}
}
