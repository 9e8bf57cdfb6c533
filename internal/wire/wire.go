// Package wire provides message framing for the tacho live feed.
//
// Every frame is a google.protobuf.Struct, length-delimited with
// protobuf's standard varint prefix. The Struct carries an Envelope:
//
//	request:  {"id": 7, "op": "window", "args": {"threshold_ms": 3000}}
//	response: {"id": 7, "result": {...}}
//	error:    {"id": 7, "error": {"code": 2, "message": "..."}}
//	event:    {"id": 0, "event": "reading", "result": {...}}
package wire

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/tacho/config"
	"github.com/xtxerr/tacho/internal/errors"
)

// Operations understood by the feed server.
const (
	OpReading   = "reading"
	OpTotal     = "total"
	OpWindow    = "window"
	OpSubscribe = "subscribe"
)

// EventReading tags a pushed reading.
const EventReading = "reading"

// Reader reads length-delimited envelopes from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r       *bufio.Reader
	maxSize int
	mu      sync.Mutex
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, config.DefaultMaxMessageSize)
}

// NewReaderSize creates a Reader that rejects frames larger than maxSize.
func NewReaderSize(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = config.DefaultMaxMessageSize
	}
	return &Reader{r: bufio.NewReader(r), maxSize: maxSize}
}

// Read reads and decodes the next envelope.
// Returns an error if the frame exceeds the maximum size.
func (r *Reader) Read() (*Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := &structpb.Struct{}
	opts := protodelim.UnmarshalOptions{
		MaxSize: int64(r.maxSize),
	}
	if err := opts.UnmarshalFrom(r.r, msg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return FromStruct(msg)
}

// Writer writes length-delimited envelopes to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes and writes an envelope with length prefix.
func (w *Writer) Write(env *Envelope) error {
	msg, err := env.ToStruct()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := protodelim.MarshalTo(w.w, msg); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Conn combines Reader and Writer for bidirectional communication.
type Conn struct {
	*Reader
	*Writer
}

// NewConn creates a Conn from an io.ReadWriter (e.g., net.Conn).
func NewConn(rw io.ReadWriter) *Conn {
	return NewConnSize(rw, config.DefaultMaxMessageSize)
}

// NewConnSize creates a Conn with a custom maximum frame size.
func NewConnSize(rw io.ReadWriter, maxSize int) *Conn {
	return &Conn{
		Reader: NewReaderSize(rw, maxSize),
		Writer: NewWriter(rw),
	}
}

// =============================================================================
// Error Envelope Helpers
// =============================================================================

// NewError creates an error envelope with the given request ID, error code, and message.
// Error codes should be from the errors package (errors.Code*).
func NewError(id uint64, code int32, msg string) *Envelope {
	return &Envelope{
		ID:    id,
		Error: &Error{Code: code, Message: msg},
	}
}

// NewErrorFromErr creates an error envelope from a Go error.
// It maps the error to a wire code using errors.ErrorToCode.
func NewErrorFromErr(id uint64, err error) *Envelope {
	return NewError(id, errors.ErrorToCode(err), err.Error())
}

// NewErrorf creates an error envelope with a formatted message.
func NewErrorf(id uint64, code int32, format string, args ...any) *Envelope {
	return NewError(id, code, fmt.Sprintf(format, args...))
}
