package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	libdb "chargesim/backend/libs/db"
	"chargesim/backend/services/station-simulator/internal/ocpp/protocol"
	"chargesim/backend/services/station-simulator/internal/station"
)

// These tests need a postgres server; set CHARGESIM_TEST_POSTGRES_DSN to run them.
func openTestDB(t *testing.T) (*TransactionRepository, *OCPPLogRepository, string) {
	t.Helper()
	dsn := os.Getenv("CHARGESIM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHARGESIM_TEST_POSTGRES_DSN not set")
	}
	db, err := libdb.NewPostgresDB(context.Background(), dsn, Schema...)
	require.NoError(t, err)

	stationID := "test-" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = db.ExecContext(ctx, `DELETE FROM simulated_transactions WHERE station_id = $1`, stationID)
		_, _ = db.ExecContext(ctx, `DELETE FROM ocpp_messages WHERE station_id = $1`, stationID)
		_ = db.Close()
	})
	return NewTransactionRepository(db), NewOCPPLogRepository(db), stationID
}

func TestTransactionHistory(t *testing.T) {
	repo, _, stationID := openTestDB(t)
	ctx := context.Background()
	startedAt := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.RecordStart(ctx, station.Transaction{
		StationID:   stationID,
		ID:          7,
		ConnectorID: 1,
		IDTag:       "TAG-1",
		MeterStart:  100,
		StartedAt:   startedAt,
	}))
	require.NoError(t, repo.RecordStop(ctx, stationID, 7, 5600, protocol.StopReasonLocal, startedAt.Add(15*time.Minute)))

	err := repo.RecordStop(ctx, stationID, 8, 0, protocol.StopReasonNone, startedAt)
	assert.Error(t, err)

	records, err := repo.ListByStation(ctx, stationID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 7, records[0].TransactionID)
	assert.Equal(t, int64(5600), records[0].MeterStop.Int64)
	assert.Equal(t, "Local", records[0].StopReason.String)
	assert.True(t, records[0].StoppedAt.Valid)
}

func TestOCPPLogSave(t *testing.T) {
	_, logs, stationID := openTestDB(t)
	err := logs.Save(context.Background(), stationID, "outgoing", protocol.ActionHeartbeat, []byte(`[2,"1","Heartbeat",{}]`))
	assert.NoError(t, err)
}
