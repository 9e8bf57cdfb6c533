package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidThresholdIsArgumentError(t *testing.T) {
	assert.True(t, Is(ErrInvalidThreshold, ErrInvalidArgument))
	assert.True(t, IsValidation(ErrInvalidThreshold))
}

func TestErrorToCode(t *testing.T) {
	tests := []struct {
		err  error
		code int32
	}{
		{nil, CodeUnknown},
		{Wrap(ErrRideNotFound, "summary"), CodeNotFound},
		{ErrInvalidThreshold, CodeInvalidRequest},
		{NewValidation("gear_ratio", "must be positive"), CodeInvalidRequest},
		{ErrUnknownOperation, CodeUnknownOperation},
		{ErrNotRunning, CodeUnavailable},
		{ErrTimeout, CodeTimeout},
		{fmt.Errorf("boom"), CodeInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorToCode(tt.err), "err=%v", tt.err)
	}
}

func TestCodeRoundTrip(t *testing.T) {
	for _, code := range []int32{CodeNotFound, CodeUnknownOperation, CodeTimeout} {
		assert.Equal(t, code, ErrorToCode(CodeToError(code)), CodeName(code))
	}
	assert.Equal(t, "Code(99)", CodeName(99))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ctx"))
	assert.NoError(t, Wrapf(nil, "ctx %d", 1))

	err := Wrapf(ErrStorage, "flush %s", "ride-1")
	assert.EqualError(t, err, "flush ride-1: storage error")
	assert.True(t, Is(err, ErrStorage))
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	require.NoError(t, v.Err())

	v.Add(nil)
	assert.False(t, v.HasErrors())

	v.AddMissing("tire.size_cm")
	v.AddField("gear_ratio", "must be positive")
	v.Add(NewInvalidValue("capacity", 0, ErrInvalidCapacity))

	err := v.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed with 3 errors")
	assert.True(t, Is(err, ErrMissingField))
	assert.True(t, Is(err, ErrInvalidCapacity))
	assert.True(t, IsValidation(err))
}
