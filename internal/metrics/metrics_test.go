package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/storage/types"
)

func TestPublish(t *testing.T) {
	r := New()
	assert.Equal(t, "metrics", r.Name())

	require.NoError(t, r.Publish(context.Background(), types.Reading{
		TimestampMs:    1_700_000_000_000,
		Pulses:         6,
		DistanceM:      12,
		SpeedKmh:       14.4,
		CadenceRpm:     60,
		TotalDistanceM: 1200,
		Revolutions:    600,
		BufferLen:      30,
		BufferCap:      75,
	}))

	assert.InDelta(t, 14.4, testutil.ToFloat64(r.SpeedKmh), 1e-9)
	assert.InDelta(t, 60, testutil.ToFloat64(r.CadenceRpm), 1e-9)
	assert.InDelta(t, 12, testutil.ToFloat64(r.WindowDistance), 1e-9)
	assert.InDelta(t, 1200, testutil.ToFloat64(r.TotalDistance), 1e-9)
	assert.InDelta(t, 600, testutil.ToFloat64(r.Revolutions), 1e-9)
	assert.InDelta(t, 0.4, testutil.ToFloat64(r.BufferFill), 1e-9)
	assert.InDelta(t, 6, testutil.ToFloat64(r.WindowPulses), 1e-9)
	assert.InDelta(t, 1_700_000_000, testutil.ToFloat64(r.LastReading), 1e-3)
	assert.InDelta(t, 1, testutil.ToFloat64(r.Readings), 1e-9)
}

func TestCallbackMetrics(t *testing.T) {
	r := New()

	pulses := 41.0
	require.NoError(t, r.CounterFunc("meter", "pulses_total", "Pulses inserted", func() float64 { return pulses }))
	require.NoError(t, r.GaugeFunc("feed", "subscribers", "Live feed subscribers", func() float64 { return 2 }))

	pulses++
	n, err := testutil.GatherAndCount(r.Gatherer(), "tacho_meter_pulses_total", "tacho_feed_subscribers")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	err = r.CounterFunc("meter", "pulses_total", "again", func() float64 { return 0 })
	assert.True(t, errors.IsValidation(err))
}

func TestHandler(t *testing.T) {
	r := New()
	require.NoError(t, r.Publish(context.Background(), types.Reading{SpeedKmh: 21.5, BufferCap: 75}))

	srv := httptest.NewServer(r.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tacho_trip_speed_kmh 21.5")
	assert.Contains(t, string(body), "go_goroutines")

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
