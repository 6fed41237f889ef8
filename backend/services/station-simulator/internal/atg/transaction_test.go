package atg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargesim/backend/services/station-simulator/internal/ocpp/protocol"
)

func TestStartTransactionHandshake(t *testing.T) {
	tests := []struct {
		name             string
		tags             []string
		requireAuthorize bool
		authorizeStatus  protocol.AuthorizationStatus
		wantStatus       protocol.AuthorizationStatus
		wantAuthorize    int
		wantStartTags    []string
	}{
		{
			name:          "no tags starts without idTag",
			wantStatus:    protocol.AuthorizationAccepted,
			wantStartTags: []string{""},
		},
		{
			name:          "tags without authorization start directly",
			tags:          []string{"TAG-1"},
			wantStatus:    protocol.AuthorizationAccepted,
			wantStartTags: []string{"TAG-1"},
		},
		{
			name:             "accepted authorization then start",
			tags:             []string{"TAG-1"},
			requireAuthorize: true,
			authorizeStatus:  protocol.AuthorizationAccepted,
			wantStatus:       protocol.AuthorizationAccepted,
			wantAuthorize:    1,
			wantStartTags:    []string{"TAG-1"},
		},
		{
			name:             "rejected authorization short-circuits",
			tags:             []string{"TAG-1"},
			requireAuthorize: true,
			authorizeStatus:  protocol.AuthorizationInvalid,
			wantStatus:       protocol.AuthorizationInvalid,
			wantAuthorize:    1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			station := newFakeStation(newFakeClock(), 1)
			station.tags = tc.tags
			station.requireAuthorize = tc.requireAuthorize
			if tc.authorizeStatus != "" {
				station.authorizeStatus = tc.authorizeStatus
			}
			measurer := newCountingMeasurer()
			g := New(station, baseConfig(), zap.NewNop(), WithMeasurer(measurer))

			info, err := g.startTransaction(context.Background(), station, 1, zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, info.Status)

			authorize, _, _ := station.counts()
			assert.Equal(t, tc.wantAuthorize, authorize)
			assert.Equal(t, tc.wantStartTags, station.startTags)

			begun, ended := measurer.get(startMeasure)
			assert.Equal(t, 1, begun)
			assert.Equal(t, 1, ended)
		})
	}
}

func TestStopTransactionHandshake(t *testing.T) {
	station := newFakeStation(newFakeClock(), 1)
	measurer := newCountingMeasurer()
	g := New(station, baseConfig(), zap.NewNop(), WithMeasurer(measurer))

	resp, err := g.stopTransaction(context.Background(), 1, protocol.StopReasonNone, zap.NewNop())
	assert.NoError(t, err)
	assert.Nil(t, resp)
	_, _, stops := station.counts()
	assert.Zero(t, stops)

	_, err = station.StartTransaction(context.Background(), 1, "TAG-9")
	require.NoError(t, err)
	active, _ := station.Connector(1)

	resp, err = g.stopTransaction(context.Background(), 1, protocol.StopReasonRemote, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, resp)
	require.Len(t, station.stops, 1)
	assert.Equal(t, stopCall{
		transactionID: active.TransactionID,
		meterStop:     int64(active.TransactionID) * 10,
		idTag:         "TAG-9",
		reason:        protocol.StopReasonRemote,
	}, station.stops[0])

	begun, ended := measurer.get(stopMeasure)
	assert.Equal(t, 2, begun)
	assert.Equal(t, 2, ended)
}

func TestStopTransactionWithoutService(t *testing.T) {
	station := newFakeStation(newFakeClock(), 1)
	station.active[1] = Connector{TransactionStarted: true, TransactionID: 7}
	station.notReadyCalls = 1
	g := New(station, baseConfig(), zap.NewNop())

	resp, err := g.stopTransaction(context.Background(), 1, protocol.StopReasonNone, zap.NewNop())
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrRequestServiceUnavailable)
}
