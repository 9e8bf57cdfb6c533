package pulse

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// =============================================================================
// Line Source
// =============================================================================

// PulseToken on a line of its own is stamped with the source clock.
const PulseToken = "pulse"

// LineSource reads one pulse per line. A line holds either an integer
// timestamp in ticks or the token "pulse". Blank lines and lines starting
// with '#' are ignored; malformed lines are logged and skipped.
type LineSource struct {
	r     io.Reader
	clock Clock
	name  string

	pulses    atomic.Int64
	malformed atomic.Int64
}

// NewLineSource reads pulses from r.
func NewLineSource(r io.Reader, clock Clock) *LineSource {
	return &LineSource{r: r, clock: clock, name: "lines"}
}

// OpenLineSource opens path for reading. "-" reads standard input.
// Device files and named pipes work like regular files.
func OpenLineSource(path string, clock Clock) (*LineSource, error) {
	if path == "-" || path == "" {
		return NewLineSource(os.Stdin, clock), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewLineSource(f, clock), nil
}

// Name returns "lines".
func (s *LineSource) Name() string {
	return s.name
}

// Pulses returns the number of pulses forwarded.
func (s *LineSource) Pulses() int64 {
	return s.pulses.Load()
}

// Malformed returns the number of skipped lines.
func (s *LineSource) Malformed() int64 {
	return s.malformed.Load()
}

// Run forwards pulses until the reader is exhausted or ctx is cancelled.
// A closable reader is closed on cancellation to unblock the scan.
func (s *LineSource) Run(ctx context.Context, sink Sink) error {
	if c, ok := s.r.(io.Closer); ok && s.r != os.Stdin {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
		defer c.Close()
	}

	scanner := bufio.NewScanner(s.r)
	lineNo := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ts, ok := s.parse(line)
		if !ok {
			s.malformed.Add(1)
			log.Warn("skipping malformed pulse line", "line", lineNo, "text", line)
			continue
		}

		s.pulses.Add(1)
		sink.Insert(ts)
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	log.Info("pulse input exhausted", "pulses", s.pulses.Load(), "malformed", s.malformed.Load())
	return nil
}

func (s *LineSource) parse(line string) (int64, bool) {
	if strings.EqualFold(line, PulseToken) {
		return s.clock.Now(), true
	}
	ts, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
