package pulse

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/xtxerr/tacho/internal/errors"
)

// =============================================================================
// SNMP Configuration
// =============================================================================

// SNMPConfig configures polling of a remote pulse counter.
type SNMPConfig struct {
	Target    string
	Port      uint16
	Community string
	OID       string

	TimeoutMs uint32
	Retries   uint32
	Interval  time.Duration

	// MaxDelta bounds the pulses accepted from one poll. A larger jump is
	// taken as an agent restart and only re-primes the baseline.
	MaxDelta uint64
}

// DefaultMaxDelta is 50 pulses/s over a 60 s poll.
const DefaultMaxDelta = 3000

// Counter is one counter value and its width in bits.
type Counter struct {
	Value uint64
	Bits  int
}

// CounterReader fetches the current counter value.
type CounterReader interface {
	ReadCounter(ctx context.Context) (Counter, error)
}

// =============================================================================
// SNMP Source
// =============================================================================

// SNMPSource polls a remote pulse counter. Each increase between two polls
// is spread evenly over the poll interval. The first poll only primes the
// baseline.
type SNMPSource struct {
	cfg    SNMPConfig
	clock  Clock
	reader CounterReader

	prev    Counter
	prevTs  int64
	primed  bool
	scratch []int64

	polls    atomic.Int64
	failures atomic.Int64
	resets   atomic.Int64
}

// NewSNMPSource creates a source that polls cfg.OID over SNMP v2c.
func NewSNMPSource(cfg SNMPConfig, clock Clock) (*SNMPSource, error) {
	if cfg.Target == "" {
		return nil, errors.NewMissingField("target")
	}
	if cfg.OID == "" {
		return nil, errors.NewMissingField("oid")
	}
	if cfg.Community == "" {
		return nil, errors.NewValidation("community", "SNMP v2c requires community string")
	}
	return NewSNMPSourceWithReader(cfg, clock, newSNMPCounterReader(cfg)), nil
}

// NewSNMPSourceWithReader creates a source around an arbitrary counter
// reader.
func NewSNMPSourceWithReader(cfg SNMPConfig, clock Clock, reader CounterReader) *SNMPSource {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxDelta == 0 {
		cfg.MaxDelta = DefaultMaxDelta
	}
	return &SNMPSource{cfg: cfg, clock: clock, reader: reader}
}

// Name returns "snmp".
func (s *SNMPSource) Name() string {
	return "snmp"
}

// SNMPStats is a snapshot of poll counters.
type SNMPStats struct {
	Polls    int64
	Failures int64
	Resets   int64
}

// Stats returns current counters.
func (s *SNMPSource) Stats() SNMPStats {
	return SNMPStats{
		Polls:    s.polls.Load(),
		Failures: s.failures.Load(),
		Resets:   s.resets.Load(),
	}
}

// Run polls until ctx is cancelled. Poll failures are logged and retried
// on the next tick. It returns nil on cancellation.
func (s *SNMPSource) Run(ctx context.Context, sink Sink) error {
	log.Info("snmp source started",
		"target", s.cfg.Target,
		"oid", s.cfg.OID,
		"interval", s.cfg.Interval)

	if c, ok := s.reader.(interface{ Close() error }); ok {
		defer c.Close()
	}

	s.poll(ctx, sink)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.poll(ctx, sink)
		}
	}
}

func (s *SNMPSource) poll(ctx context.Context, sink Sink) {
	s.polls.Add(1)

	c, err := s.reader.ReadCounter(ctx)
	if err != nil {
		s.failures.Add(1)
		log.Warn("snmp poll failed", "target", s.cfg.Target, "error", err)
		return
	}

	for _, ts := range s.Observe(c, s.clock.Now()) {
		sink.Insert(ts)
	}
}

// Observe records counter c read at now and returns the timestamps of the
// pulses counted since the previous observation. The returned slice is
// reused by the next call.
func (s *SNMPSource) Observe(c Counter, now int64) []int64 {
	s.scratch = s.scratch[:0]

	if !s.primed || now <= s.prevTs {
		s.prime(c, now)
		return s.scratch
	}

	delta := counterDelta(s.prev, c)
	if delta > s.cfg.MaxDelta {
		s.resets.Add(1)
		log.Warn("pulse counter jumped, re-priming",
			"previous", s.prev.Value,
			"current", c.Value,
			"delta", delta)
		s.prime(c, now)
		return s.scratch
	}

	span := now - s.prevTs
	for i := uint64(1); i <= delta; i++ {
		offset := int64(float64(span) * float64(i) / float64(delta))
		s.scratch = append(s.scratch, s.prevTs+offset)
	}

	s.prev = c
	s.prevTs = now
	return s.scratch
}

func (s *SNMPSource) prime(c Counter, now int64) {
	s.prev = c
	s.prevTs = now
	s.primed = true
}

// counterDelta returns cur - prev, accounting for a single wrap of a
// counter of prev's width.
func counterDelta(prev, cur Counter) uint64 {
	if cur.Value >= prev.Value {
		return cur.Value - prev.Value
	}
	if prev.Bits == 32 && prev.Value <= math.MaxUint32 {
		return uint64(math.MaxUint32) - prev.Value + cur.Value + 1
	}
	return math.MaxUint64 - prev.Value + cur.Value + 1
}

// =============================================================================
// gosnmp Counter Reader
// =============================================================================

type snmpCounterReader struct {
	cfg    SNMPConfig
	client *gosnmp.GoSNMP
}

func newSNMPCounterReader(cfg SNMPConfig) *snmpCounterReader {
	return &snmpCounterReader{cfg: cfg}
}

func (r *snmpCounterReader) createClient() *gosnmp.GoSNMP {
	port := r.cfg.Port
	if port == 0 {
		port = 161
	}

	timeout := r.cfg.TimeoutMs
	if timeout == 0 {
		timeout = 2000
	}

	return &gosnmp.GoSNMP{
		Target:    r.cfg.Target,
		Port:      port,
		Community: r.cfg.Community,
		Version:   gosnmp.Version2c,
		Timeout:   time.Duration(timeout) * time.Millisecond,
		Retries:   int(r.cfg.Retries),
	}
}

// ReadCounter issues one GET for the configured OID.
func (r *snmpCounterReader) ReadCounter(ctx context.Context) (Counter, error) {
	if r.client == nil {
		client := r.createClient()
		if err := client.Connect(); err != nil {
			return Counter{}, fmt.Errorf("%w: connect %s: %w", errors.ErrConnectionFailed, r.cfg.Target, err)
		}
		r.client = client
	}
	r.client.Context = ctx

	pdu, err := r.client.Get([]string{r.cfg.OID})
	if err != nil {
		r.Close()
		return Counter{}, fmt.Errorf("%w: get %s: %w", errors.ErrSNMPError, r.cfg.OID, err)
	}
	if len(pdu.Variables) == 0 {
		return Counter{}, fmt.Errorf("%w: no variables returned", errors.ErrSNMPError)
	}
	return counterFromPDU(pdu.Variables[0])
}

// Close releases the UDP socket.
func (r *snmpCounterReader) Close() error {
	if r.client == nil || r.client.Conn == nil {
		return nil
	}
	err := r.client.Conn.Close()
	r.client = nil
	return err
}

// counterFromPDU extracts a counter from a GET response variable.
func counterFromPDU(v gosnmp.SnmpPDU) (Counter, error) {
	switch v.Type {
	case gosnmp.Counter32, gosnmp.Uinteger32:
		return Counter{Value: gosnmp.ToBigInt(v.Value).Uint64(), Bits: 32}, nil

	case gosnmp.Counter64:
		return Counter{Value: gosnmp.ToBigInt(v.Value).Uint64(), Bits: 64}, nil

	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance:
		return Counter{}, fmt.Errorf("%w: OID %s not found", errors.ErrSNMPError, v.Name)

	default:
		return Counter{}, fmt.Errorf("%w: OID %s has unsupported type %v", errors.ErrSNMPError, v.Name, v.Type)
	}
}
