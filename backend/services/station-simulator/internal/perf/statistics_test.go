package perf

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeasurementRecordsOnce(t *testing.T) {
	stats := NewStatistics()
	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stats.now = func() time.Time { return current }

	m := stats.ForStation("cs-1").Begin("StartTransaction with ATG")
	current = current.Add(250 * time.Millisecond)
	m.End()
	m.End()

	assert.Equal(t, 1.0, testutil.ToFloat64(stats.total.WithLabelValues("cs-1", "StartTransaction with ATG")))
	assert.Equal(t, 1, testutil.CollectAndCount(stats.duration))
}

func TestHandlerExposesMetrics(t *testing.T) {
	stats := NewStatistics()
	stats.ForStation("cs-2").Begin("StopTransaction with ATG").End()

	rec := httptest.NewRecorder()
	stats.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `chargesim_measure_total{measure="StopTransaction with ATG",station_id="cs-2"} 1`), body)
}
