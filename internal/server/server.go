// Package server provides the live feed server.
//
// Clients connect over TCP and exchange wire envelopes. Each request is
// answered in order on the same connection:
//
//	reading    latest published reading
//	total      distance since the meter started
//	window     trigger timestamps inside the trailing window (threshold_ms)
//	subscribe  push every new reading until disconnect
//
// The Server is a reporter sink: Publish stores the latest reading and
// fans it out to subscribers. A subscriber whose queue is full loses the
// reading instead of blocking the reporter.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tacho/config"
	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/logging"
	"github.com/xtxerr/tacho/internal/pulse"
	"github.com/xtxerr/tacho/internal/storage/types"
	"github.com/xtxerr/tacho/internal/units"
	"github.com/xtxerr/tacho/internal/wire"
)

var log = logging.Component("server")

// Meter is the part of *meter.Meter the server queries.
type Meter interface {
	TotalDistance() units.Length
	Window(threshold, now int64) ([]int64, error)
	Ticks(d time.Duration) int64
}

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., "127.0.0.1:9170").
	Listen string

	// MaxMessageSize limits a single frame.
	MaxMessageSize int

	// SendBufferSize is the per-subscriber queue capacity.
	SendBufferSize int
}

// =============================================================================
// Server
// =============================================================================

// Server is the live feed server.
type Server struct {
	cfg   Config
	meter Meter
	clock pulse.Clock

	listener net.Listener
	last     atomic.Pointer[types.Reading]

	mu    sync.Mutex
	conns map[*session]struct{}
	subs  map[*session]struct{}

	shutdown chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup

	stats Stats
}

// Stats holds server statistics.
type Stats struct {
	ConnectionsTotal atomic.Int64
	Requests         atomic.Int64
	RequestErrors    atomic.Int64
	EventsSent       atomic.Int64
	EventsDropped    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Connections      int
	Subscribers      int
	ConnectionsTotal int64
	Requests         int64
	RequestErrors    int64
	EventsSent       int64
	EventsDropped    int64
}

// New creates a new server.
func New(cfg Config, m Meter, clock pulse.Clock) *Server {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = config.DefaultMaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = config.DefaultSubscriberBufferSize
	}

	return &Server{
		cfg:      cfg,
		meter:    m,
		clock:    clock,
		conns:    make(map[*session]struct{}),
		subs:     make(map[*session]struct{}),
		shutdown: make(chan struct{}),
	}
}

// Listen opens the listener. It is called by Run if needed.
func (s *Server) Listen() error {
	if s.listener != nil {
		return errors.ErrAlreadyRunning
	}
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	log.Info("feed listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the listen address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run accepts connections until ctx is cancelled, then closes every
// connection and returns nil.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.wg.Wait()
				return nil
			default:
				log.Error("accept error", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Shutdown stops accepting and closes every connection.
func (s *Server) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	log.Info("feed shutting down")
	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for sess := range s.conns {
		sess.close()
	}
	s.mu.Unlock()
}

// =============================================================================
// Reporter Sink
// =============================================================================

// Name returns "feed".
func (s *Server) Name() string {
	return "feed"
}

// Publish stores r as the latest reading and queues it for every
// subscriber. It never blocks.
func (s *Server) Publish(_ context.Context, r types.Reading) error {
	s.last.Store(&r)

	s.mu.Lock()
	defer s.mu.Unlock()

	for sess := range s.subs {
		select {
		case sess.events <- r:
		default:
			s.stats.EventsDropped.Add(1)
			sess.dropped.Add(1)
		}
	}
	return nil
}

// Latest returns the last published reading.
func (s *Server) Latest() (types.Reading, bool) {
	p := s.last.Load()
	if p == nil {
		return types.Reading{}, false
	}
	return *p, true
}

// =============================================================================
// Connection Handling
// =============================================================================

// session is one client connection.
type session struct {
	conn   net.Conn
	wire   *wire.Conn
	remote string

	events  chan types.Reading
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func (sess *session) close() {
	sess.closeOnce.Do(func() {
		close(sess.done)
		sess.conn.Close()
	})
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	sess := &session{
		conn:   conn,
		wire:   wire.NewConnSize(conn, s.cfg.MaxMessageSize),
		remote: conn.RemoteAddr().String(),
		done:   make(chan struct{}),
	}
	ctx = logging.ContextWithRemote(ctx, sess.remote)
	clog := logging.WithContext(ctx)

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[sess] = struct{}{}
	s.mu.Unlock()
	s.stats.ConnectionsTotal.Add(1)

	clog.Info("feed client connected")

	var pusher sync.WaitGroup
	defer func() {
		s.mu.Lock()
		delete(s.conns, sess)
		delete(s.subs, sess)
		s.mu.Unlock()

		sess.close()
		pusher.Wait()
		clog.Info("feed client disconnected", "dropped", sess.dropped.Load())
	}()

	for {
		env, err := sess.wire.Read()
		if err != nil {
			return
		}
		if !env.IsRequest() {
			s.stats.RequestErrors.Add(1)
			sess.wire.Write(wire.NewErrorf(env.ID, errors.CodeInvalidRequest, "frame %d is not a request", env.ID))
			continue
		}

		s.stats.Requests.Add(1)
		if env.Op == wire.OpSubscribe {
			ok := s.subscribe(sess, &pusher)
			sess.wire.Write(wire.NewResponse(env.ID, map[string]any{"subscribed": ok}))
			continue
		}

		resp := s.handleRequest(env)
		if resp.Error != nil {
			s.stats.RequestErrors.Add(1)
		}
		if err := sess.wire.Write(resp); err != nil {
			clog.Debug("write failed, closing connection", "error", err)
			return
		}
	}
}

// subscribe registers sess for pushes. It returns false if sess was
// already subscribed.
func (s *Server) subscribe(sess *session, pusher *sync.WaitGroup) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.events != nil {
		return false
	}
	sess.events = make(chan types.Reading, s.cfg.SendBufferSize)
	s.subs[sess] = struct{}{}

	pusher.Add(1)
	go func() {
		defer pusher.Done()
		for {
			select {
			case <-sess.done:
				return
			case r := <-sess.events:
				if err := sess.wire.Write(wire.NewReadingEvent(r)); err != nil {
					sess.close()
					return
				}
				s.stats.EventsSent.Add(1)
			}
		}
	}()
	return true
}

// =============================================================================
// Request Dispatch
// =============================================================================

func (s *Server) handleRequest(env *wire.Envelope) *wire.Envelope {
	switch env.Op {
	case wire.OpReading:
		r, ok := s.Latest()
		if !ok {
			return wire.NewErrorFromErr(env.ID, errors.ErrNoReading)
		}
		return wire.NewResponse(env.ID, wire.ReadingToMap(r))

	case wire.OpTotal:
		return wire.NewResponse(env.ID, map[string]any{
			"distance_m": s.meter.TotalDistance().Meters(),
		})

	case wire.OpWindow:
		return s.handleWindow(env)

	default:
		return wire.NewErrorFromErr(env.ID, fmt.Errorf("%w: %q", errors.ErrUnknownOperation, env.Op))
	}
}

func (s *Server) handleWindow(env *wire.Envelope) *wire.Envelope {
	ms, err := wire.Int64Arg(env.Args, "threshold_ms")
	if err != nil {
		return wire.NewErrorFromErr(env.ID, err)
	}

	threshold := s.meter.Ticks(time.Duration(ms) * time.Millisecond)
	window, err := s.meter.Window(threshold, s.clock.Now())
	if err != nil {
		return wire.NewErrorFromErr(env.ID, err)
	}

	ts := make([]any, len(window))
	for i, v := range window {
		ts[i] = v
	}
	return wire.NewResponse(env.ID, map[string]any{
		"threshold_ms": ms,
		"timestamps":   ts,
	})
}

// =============================================================================
// Statistics
// =============================================================================

// Stats returns current statistics.
func (s *Server) Stats() StatsSnapshot {
	s.mu.Lock()
	conns, subs := len(s.conns), len(s.subs)
	s.mu.Unlock()

	return StatsSnapshot{
		Connections:      conns,
		Subscribers:      subs,
		ConnectionsTotal: s.stats.ConnectionsTotal.Load(),
		Requests:         s.stats.Requests.Load(),
		RequestErrors:    s.stats.RequestErrors.Load(),
		EventsSent:       s.stats.EventsSent.Load(),
		EventsDropped:    s.stats.EventsDropped.Load(),
	}
}
