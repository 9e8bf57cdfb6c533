package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/meter"
	"github.com/xtxerr/tacho/internal/pulse"
	"github.com/xtxerr/tacho/internal/storage/types"
	"github.com/xtxerr/tacho/internal/tachometer"
	tachotest "github.com/xtxerr/tacho/internal/testing"
	"github.com/xtxerr/tacho/internal/units"
	"github.com/xtxerr/tacho/internal/wire"
)

func startServer(t *testing.T, cfg Config) (*Server, *tachotest.GoroutineTest) {
	t.Helper()

	m, err := meter.New(tachometer.Config{
		Capacity:         8,
		Tire:             tachometer.Circumference(units.Meters(2)),
		PointersPerWheel: 1,
		GearRatio:        2,
		TimeUnit:         time.Millisecond,
	})
	require.NoError(t, err)
	for _, ts := range tachotest.Pulses(0, 500, 6) {
		m.Insert(ts)
	}

	cfg.Listen = "127.0.0.1:0"
	srv := New(cfg, m, pulse.NewManualClock(2600))
	require.NoError(t, srv.Listen())

	gt := tachotest.NewGoroutineTestWithTimeout(t, 10*time.Second)
	gt.GoWithContext(srv.Run)
	return srv, gt
}

func dial(t *testing.T, srv *Server) *wire.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return wire.NewConn(conn)
}

func roundTrip(t *testing.T, c *wire.Conn, env *wire.Envelope) *wire.Envelope {
	t.Helper()
	require.NoError(t, c.Write(env))
	resp, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, env.ID, resp.ID)
	return resp
}

func TestRequests(t *testing.T) {
	srv, gt := startServer(t, Config{})
	defer func() {
		gt.Cancel()
		gt.Wait()
	}()

	c := dial(t, srv)

	resp := roundTrip(t, c, wire.NewRequest(1, wire.OpReading, nil))
	require.NotNil(t, resp.Error)
	assert.True(t, errors.IsNotFound(resp.Error.Err()))

	require.NoError(t, srv.Publish(context.Background(), types.Reading{Ride: "commute", SpeedKmh: 18}))
	resp = roundTrip(t, c, wire.NewRequest(2, wire.OpReading, nil))
	require.Nil(t, resp.Error)
	got := wire.ReadingFromMap(resp.Result)
	assert.Equal(t, "commute", got.Ride)
	assert.InDelta(t, 18, got.SpeedKmh, 1e-9)

	resp = roundTrip(t, c, wire.NewRequest(3, wire.OpTotal, nil))
	assert.InDelta(t, 12.0, resp.Result["distance_m"], 1e-9)

	// now=2600, lower bound 1600: pulses at 2000 and 2500
	resp = roundTrip(t, c, wire.NewRequest(4, wire.OpWindow, map[string]any{"threshold_ms": 1000}))
	require.Nil(t, resp.Error)
	assert.Equal(t, []any{2000.0, 2500.0}, resp.Result["timestamps"])

	resp = roundTrip(t, c, wire.NewRequest(5, wire.OpWindow, map[string]any{"threshold_ms": 0}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.CodeInvalidRequest, resp.Error.Code)

	resp = roundTrip(t, c, wire.NewRequest(6, wire.OpWindow, nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.CodeInvalidRequest, resp.Error.Code)

	resp = roundTrip(t, c, wire.NewRequest(7, "launch", nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.CodeUnknownOperation, resp.Error.Code)

	stats := srv.Stats()
	assert.Equal(t, int64(7), stats.Requests)
	assert.Equal(t, int64(4), stats.RequestErrors)
	assert.Equal(t, 1, stats.Connections)
}

func TestSubscribe(t *testing.T) {
	srv, gt := startServer(t, Config{})
	defer func() {
		gt.Cancel()
		gt.Wait()
	}()

	c := dial(t, srv)
	resp := roundTrip(t, c, wire.NewRequest(1, wire.OpSubscribe, nil))
	assert.Equal(t, true, resp.Result["subscribed"])

	resp = roundTrip(t, c, wire.NewRequest(2, wire.OpSubscribe, nil))
	assert.Equal(t, false, resp.Result["subscribed"])

	for i := range 3 {
		require.NoError(t, srv.Publish(context.Background(), types.Reading{TimestampMs: int64(i)}))
	}

	for i := range 3 {
		env, err := c.Read()
		require.NoError(t, err)
		require.True(t, env.IsEvent())
		assert.Equal(t, int64(i), wire.ReadingFromMap(env.Result).TimestampMs)
	}

	assert.Equal(t, 1, srv.Stats().Subscribers)
}

func TestSlowSubscriberDropsReadings(t *testing.T) {
	srv, gt := startServer(t, Config{SendBufferSize: 1})
	defer func() {
		gt.Cancel()
		gt.Wait()
	}()

	sess := &session{events: make(chan types.Reading, 1), done: make(chan struct{})}
	srv.mu.Lock()
	srv.subs[sess] = struct{}{}
	srv.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 10 {
			srv.Publish(context.Background(), types.Reading{TimestampMs: int64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, int64(9), srv.Stats().EventsDropped)
	assert.Equal(t, int64(9), sess.dropped.Load())

	srv.mu.Lock()
	delete(srv.subs, sess)
	srv.mu.Unlock()
}

func TestShutdownClosesClients(t *testing.T) {
	srv, gt := startServer(t, Config{})
	c := dial(t, srv)
	roundTrip(t, c, wire.NewRequest(1, wire.OpTotal, nil))

	gt.Cancel()
	gt.Wait()

	_, err := c.Read()
	assert.Error(t, err)
	assert.Equal(t, 0, srv.Stats().Connections)
	assert.Equal(t, "feed", srv.Name())
}
