package statusstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	libredis "chargesim/backend/libs/redis"
	"chargesim/backend/services/station-simulator/internal/atg"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "atg:status:cs-1:2", key("cs-1", 2))

	id, ok := connectorFromKey("cs-1", "atg:status:cs-1:2")
	assert.True(t, ok)
	assert.Equal(t, 2, id)

	_, ok = connectorFromKey("cs-1", "atg:status:cs-10:2")
	assert.False(t, ok)
	_, ok = connectorFromKey("cs-1", "atg:status:cs-1:x")
	assert.False(t, ok)
}

func TestScanPatternEscapesGlob(t *testing.T) {
	assert.Equal(t, "atg:status:cs-1:*", scanPattern("cs-1"))
	assert.Equal(t, `atg:status:cs-\*:*`, scanPattern("cs-*"))
	assert.Equal(t, `atg:status:a\?b\[1\]\\:*`, scanPattern(`a?b[1]\`))
}

// TestStoreRoundTrip needs a redis server; set CHARGESIM_TEST_REDIS_ADDR to run it.
func TestStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("CHARGESIM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHARGESIM_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client, err := libredis.NewRedisClient(ctx, libredis.Options{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := NewStore(client, time.Minute)
	stationID := "test-" + uuid.NewString()
	t.Cleanup(func() {
		_ = client.Del(context.Background(), key(stationID, 1), key(stationID, 2)).Err()
	})

	empty, err := store.Load(ctx, stationID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	first := atg.Status{
		Running:     true,
		StartDate:   start,
		StopDate:    start.Add(time.Hour),
		LastRunDate: start.Add(10 * time.Minute),
	}
	second := atg.Status{
		StartDate:           start,
		StopDate:            start.Add(time.Hour),
		StoppedDate:         start.Add(5 * time.Minute),
		SkippedTransactions: 3,
		Cause:               atg.CauseConnectorUnavailable,
	}
	require.NoError(t, store.Save(ctx, stationID, 1, first))
	require.NoError(t, store.Save(ctx, stationID, 2, second))

	loaded, err := store.Load(ctx, stationID)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.True(t, loaded[1].LastRunDate.Equal(first.LastRunDate))
	assert.Equal(t, atg.CauseConnectorUnavailable, loaded[2].Cause)
	assert.Equal(t, 3, loaded[2].SkippedTransactions)

	ttl, err := client.TTL(ctx, key(stationID, 1)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	wildcard, err := store.Load(ctx, "test-*")
	require.NoError(t, err)
	assert.Empty(t, wildcard)
}
