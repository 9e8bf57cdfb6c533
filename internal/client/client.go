// Package client provides a client for the tacho live feed.
//
// Requests are multiplexed over one connection by id; a background read
// loop routes responses to waiting callers and pushed readings to the
// subscription handler.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tacho/config"
	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/storage/types"
	"github.com/xtxerr/tacho/internal/wire"
)

// =============================================================================
// Client
// =============================================================================

// Client is a live feed connection.
type Client struct {
	conn net.Conn
	wire *wire.Conn

	// Pending requests
	pendingMu sync.Mutex
	pending   map[uint64]chan *wire.Envelope
	requestID atomic.Uint64

	// Pushed readings
	handlerMu sync.Mutex
	onReading func(types.Reading)

	requestTimeout time.Duration

	closeOnce sync.Once
	shutdown  chan struct{}
	readErr   error
}

// Config holds client configuration.
type Config struct {
	Addr           string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxMessageSize int
}

// DefaultConfig returns default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:           config.DefaultFeedListenAddress,
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
		MaxMessageSize: config.DefaultMaxMessageSize,
	}
}

// Dial connects to the feed server at addr with default settings.
func Dial(ctx context.Context, addr string) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Addr = addr
	return Connect(ctx, cfg)
}

// Connect connects using cfg.
func Connect(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", errors.ErrConnectionFailed, cfg.Addr, err)
	}

	c := &Client{
		conn:           conn,
		wire:           wire.NewConnSize(conn, cfg.MaxMessageSize),
		pending:        make(map[uint64]chan *wire.Envelope),
		requestTimeout: cfg.RequestTimeout,
		shutdown:       make(chan struct{}),
	}

	go c.readLoop()
	return c, nil
}

// Close closes the connection. Pending requests fail with ErrClosed.
func (c *Client) Close() error {
	return c.closeWith(nil)
}

// closeWith closes the connection once, recording why it ended.
func (c *Client) closeWith(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		c.readErr = cause
		close(c.shutdown)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.shutdown
}

// =============================================================================
// Read Loop
// =============================================================================

func (c *Client) readLoop() {
	for {
		env, err := c.wire.Read()
		if err != nil {
			c.closeWith(err)
			return
		}
		c.handleMessage(env)
	}
}

func (c *Client) handleMessage(env *wire.Envelope) {
	if env.IsEvent() {
		if env.Event != wire.EventReading {
			return
		}
		c.handlerMu.Lock()
		fn := c.onReading
		c.handlerMu.Unlock()

		if fn != nil {
			fn(wire.ReadingFromMap(env.Result))
		}
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[env.ID]
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- env:
		default:
		}
	}
}

// =============================================================================
// Request/Response
// =============================================================================

func (c *Client) request(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	if _, ok := ctx.Deadline(); !ok && c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	id := c.requestID.Add(1)
	ch := make(chan *wire.Envelope, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.wire.Write(wire.NewRequest(id, op, args)); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error.Err()
		}
		return resp.Result, nil

	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", errors.ErrTimeout, op, ctx.Err())

	case <-c.shutdown:
		if c.readErr != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrClosed, c.readErr)
		}
		return nil, errors.ErrClosed
	}
}

// Latest returns the last reading the server published.
func (c *Client) Latest(ctx context.Context) (types.Reading, error) {
	res, err := c.request(ctx, wire.OpReading, nil)
	if err != nil {
		return types.Reading{}, err
	}
	return wire.ReadingFromMap(res), nil
}

// Total returns the distance in meters since the meter started.
func (c *Client) Total(ctx context.Context) (float64, error) {
	res, err := c.request(ctx, wire.OpTotal, nil)
	if err != nil {
		return 0, err
	}
	v, _ := res["distance_m"].(float64)
	return v, nil
}

// Window returns the trigger timestamps inside the trailing window.
func (c *Client) Window(ctx context.Context, threshold time.Duration) ([]int64, error) {
	res, err := c.request(ctx, wire.OpWindow, map[string]any{
		"threshold_ms": threshold.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}

	raw, _ := res["timestamps"].([]any)
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: timestamp %v", errors.ErrMalformedFrame, v)
		}
		out = append(out, int64(f))
	}
	return out, nil
}

// Subscribe calls fn for every reading the server pushes until ctx is
// cancelled or the connection ends. fn runs on the read loop and must not
// block. It returns nil when ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, fn func(types.Reading)) error {
	c.handlerMu.Lock()
	c.onReading = fn
	c.handlerMu.Unlock()

	defer func() {
		c.handlerMu.Lock()
		c.onReading = nil
		c.handlerMu.Unlock()
	}()

	if _, err := c.request(ctx, wire.OpSubscribe, nil); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case <-c.shutdown:
		if c.readErr != nil {
			return fmt.Errorf("%w: %w", errors.ErrClosed, c.readErr)
		}
		return errors.ErrClosed
	}
}
