package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/meter"
	"github.com/xtxerr/tacho/internal/pulse"
	"github.com/xtxerr/tacho/internal/server"
	"github.com/xtxerr/tacho/internal/storage/types"
	"github.com/xtxerr/tacho/internal/tachometer"
	tachotest "github.com/xtxerr/tacho/internal/testing"
	"github.com/xtxerr/tacho/internal/units"
)

func startFeed(t *testing.T) (*server.Server, *Client) {
	t.Helper()

	m, err := meter.New(tachometer.Config{
		Capacity:         8,
		Tire:             tachometer.Diameter(units.Centimeters(70)),
		PointersPerWheel: 2,
		GearRatio:        46.0 / 16.0,
		TimeUnit:         time.Millisecond,
	})
	require.NoError(t, err)
	for _, ts := range tachotest.Pulses(100, 250, 4) {
		m.Insert(ts)
	}

	srv := server.New(server.Config{Listen: "127.0.0.1:0"}, m, pulse.NewManualClock(1000))
	require.NoError(t, srv.Listen())

	gt := tachotest.NewGoroutineTestWithTimeout(t, 10*time.Second)
	gt.GoWithContext(srv.Run)

	c, err := Dial(context.Background(), srv.Addr().String())
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		gt.Cancel()
		gt.Wait()
	})
	return srv, c
}

func TestLatestTotalWindow(t *testing.T) {
	srv, c := startFeed(t)
	ctx := context.Background()

	_, err := c.Latest(ctx)
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, srv.Publish(ctx, types.Reading{Ride: "commute", SpeedKmh: 27.5, BufferCap: 8}))
	r, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "commute", r.Ride)
	assert.InDelta(t, 27.5, r.SpeedKmh, 1e-9)
	assert.Equal(t, int32(8), r.BufferCap)

	// 4 pulses, 2 per revolution of a 70 cm wheel
	total, err := c.Total(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2*0.7*3.141592653589793, total, 1e-9)

	window, err := c.Window(ctx, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []int64{600, 850}, window)

	_, err = c.Window(ctx, 0)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestSubscribe(t *testing.T) {
	srv, c := startFeed(t)

	var got atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Subscribe(ctx, func(r types.Reading) {
			if got.Add(1) >= 3 {
				cancel()
			}
		})
	}()

	require.NoError(t, tachotest.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return srv.Stats().Subscribers == 1
	}))

	for i := range 5 {
		require.NoError(t, srv.Publish(context.Background(), types.Reading{TimestampMs: int64(i)}))
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return")
	}
	assert.GreaterOrEqual(t, got.Load(), int64(3))
}

func TestClosedClient(t *testing.T) {
	_, c := startFeed(t)
	require.NoError(t, c.Close())

	<-c.Done()
	_, err := c.Total(context.Background())
	assert.Error(t, err)
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, "127.0.0.1:1")
	assert.ErrorIs(t, err, errors.ErrConnectionFailed)
}
