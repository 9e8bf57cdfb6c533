package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/storage/types"
)

// Envelope is one feed frame. Exactly one of Op, Event, Result or Error
// describes its kind; Result accompanies Event on pushed frames.
type Envelope struct {
	ID uint64

	// Request
	Op   string
	Args map[string]any

	// Push
	Event string

	// Response
	Result map[string]any
	Error  *Error
}

// Error is the payload of an error frame.
type Error struct {
	Code    int32
	Message string
}

// Err converts the frame to a Go error wrapping the sentinel for Code.
func (e *Error) Err() error {
	return fmt.Errorf("%w: %s", errors.CodeToError(e.Code), e.Message)
}

// IsRequest returns true for client requests.
func (e *Envelope) IsRequest() bool {
	return e.Op != ""
}

// IsEvent returns true for server pushes.
func (e *Envelope) IsEvent() bool {
	return e.Event != ""
}

// NewRequest creates a request envelope.
func NewRequest(id uint64, op string, args map[string]any) *Envelope {
	return &Envelope{ID: id, Op: op, Args: args}
}

// NewResponse creates a response envelope.
func NewResponse(id uint64, result map[string]any) *Envelope {
	return &Envelope{ID: id, Result: result}
}

// NewReadingEvent creates a pushed reading frame.
func NewReadingEvent(r types.Reading) *Envelope {
	return &Envelope{Event: EventReading, Result: ReadingToMap(r)}
}

// =============================================================================
// Struct Conversion
// =============================================================================

// ToStruct encodes the envelope as a protobuf Struct.
func (e *Envelope) ToStruct() (*structpb.Struct, error) {
	m := map[string]any{"id": float64(e.ID)}
	if e.Op != "" {
		m["op"] = e.Op
		if len(e.Args) > 0 {
			m["args"] = e.Args
		}
	}
	if e.Event != "" {
		m["event"] = e.Event
	}
	if e.Result != nil {
		m["result"] = e.Result
	}
	if e.Error != nil {
		m["error"] = map[string]any{
			"code":    float64(e.Error.Code),
			"message": e.Error.Message,
		}
	}

	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", errors.ErrMalformedFrame, err)
	}
	return s, nil
}

// FromStruct decodes an envelope from a protobuf Struct.
func FromStruct(s *structpb.Struct) (*Envelope, error) {
	m := s.AsMap()

	id, err := uintField(m, "id")
	if err != nil {
		return nil, err
	}
	env := &Envelope{ID: id}

	if op, ok := m["op"].(string); ok {
		env.Op = op
	}
	if args, ok := m["args"].(map[string]any); ok {
		env.Args = args
	}
	if ev, ok := m["event"].(string); ok {
		env.Event = ev
	}
	if res, ok := m["result"].(map[string]any); ok {
		env.Result = res
	}
	if raw, ok := m["error"].(map[string]any); ok {
		code, _ := raw["code"].(float64)
		msg, _ := raw["message"].(string)
		env.Error = &Error{Code: int32(code), Message: msg}
	}

	if env.Op == "" && env.Event == "" && env.Result == nil && env.Error == nil {
		return nil, fmt.Errorf("%w: frame %d has no operation, event, result or error", errors.ErrMalformedFrame, id)
	}
	return env, nil
}

func uintField(m map[string]any, key string) (uint64, error) {
	raw, ok := m[key]
	if !ok {
		return 0, nil
	}
	v, ok := raw.(float64)
	if !ok || v < 0 || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errors.ErrMalformedFrame, key)
	}
	return uint64(v), nil
}

// Int64Arg returns the integer argument key.
func Int64Arg(args map[string]any, key string) (int64, error) {
	raw, ok := args[key]
	if !ok {
		return 0, errors.NewMissingField(key)
	}
	v, ok := raw.(float64)
	if !ok || v != math.Trunc(v) {
		return 0, errors.NewInvalidValue(key, raw, errors.ErrInvalidArgument)
	}
	return int64(v), nil
}

// =============================================================================
// Reading Conversion
// =============================================================================

// ReadingToMap converts a reading to Struct-compatible values.
func ReadingToMap(r types.Reading) map[string]any {
	return map[string]any{
		"ride":             r.Ride,
		"source":           r.Source,
		"timestamp_ms":     float64(r.TimestampMs),
		"window_ms":        float64(r.WindowMs),
		"pulses":           float64(r.Pulses),
		"distance_m":       r.DistanceM,
		"speed_kmh":        r.SpeedKmh,
		"cadence_rpm":      r.CadenceRpm,
		"total_distance_m": r.TotalDistanceM,
		"revolutions":      r.Revolutions,
		"buffer_len":       float64(r.BufferLen),
		"buffer_cap":       float64(r.BufferCap),
	}
}

// ReadingFromMap is the inverse of ReadingToMap. Missing fields are zero.
func ReadingFromMap(m map[string]any) types.Reading {
	num := func(key string) float64 {
		v, _ := m[key].(float64)
		return v
	}
	str := func(key string) string {
		v, _ := m[key].(string)
		return v
	}

	return types.Reading{
		Ride:           str("ride"),
		Source:         str("source"),
		TimestampMs:    int64(num("timestamp_ms")),
		WindowMs:       int64(num("window_ms")),
		Pulses:         int32(num("pulses")),
		DistanceM:      num("distance_m"),
		SpeedKmh:       num("speed_kmh"),
		CadenceRpm:     num("cadence_rpm"),
		TotalDistanceM: num("total_distance_m"),
		Revolutions:    num("revolutions"),
		BufferLen:      int32(num("buffer_len")),
		BufferCap:      int32(num("buffer_cap")),
	}
}

// ReadingToStruct converts a reading to a protobuf Struct.
func ReadingToStruct(r types.Reading) (*structpb.Struct, error) {
	return structpb.NewStruct(ReadingToMap(r))
}

// ReadingFromStruct converts a protobuf Struct back to a reading.
func ReadingFromStruct(s *structpb.Struct) types.Reading {
	return ReadingFromMap(s.AsMap())
}
