package tachometer

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/tacho/internal/errors"
)

func TestRotationBuffer_Basic(t *testing.T) {
	rb, err := NewRotationBuffer(3)
	require.NoError(t, err)

	assert.Equal(t, 3, rb.Cap())
	assert.Equal(t, 0, rb.Len())
	assert.False(t, rb.IsFull())

	_, ok := rb.Oldest()
	assert.False(t, ok)
	_, ok = rb.Newest()
	assert.False(t, ok)
	assert.Empty(t, slices.Collect(rb.All()))
}

func TestRotationBuffer_OverwritesOldest(t *testing.T) {
	rb, err := NewRotationBuffer(3)
	require.NoError(t, err)

	for _, ts := range []int64{1, 2, 3} {
		rb.Push(ts)
	}
	assert.True(t, rb.IsFull())
	assert.Equal(t, []int64{1, 2, 3}, slices.Collect(rb.All()))

	rb.Push(4)
	rb.Push(5)

	assert.Equal(t, 3, rb.Len())
	assert.Equal(t, []int64{3, 4, 5}, slices.Collect(rb.All()))

	oldest, _ := rb.Oldest()
	newest, _ := rb.Newest()
	assert.Equal(t, int64(3), oldest)
	assert.Equal(t, int64(5), newest)
}

func TestRotationBuffer_WrapManyTimes(t *testing.T) {
	rb, err := NewRotationBuffer(4)
	require.NoError(t, err)

	for ts := int64(0); ts < 103; ts++ {
		rb.Push(ts)
	}
	assert.Equal(t, []int64{99, 100, 101, 102}, rb.AppendTo(nil))
}

func TestRotationBuffer_AppendToReusesStorage(t *testing.T) {
	rb, err := NewRotationBuffer(2)
	require.NoError(t, err)
	rb.Push(7)
	rb.Push(8)

	dst := make([]int64, 0, 8)
	dst = append(dst, 1)
	dst = rb.AppendTo(dst)
	assert.Equal(t, []int64{1, 7, 8}, dst)
	assert.Equal(t, 8, cap(dst))
}

func TestRotationBuffer_InvalidCapacity(t *testing.T) {
	_, err := NewRotationBuffer(0)
	assert.ErrorIs(t, err, errors.ErrInvalidCapacity)
}

func TestRotationBuffer_PushDoesNotAllocate(t *testing.T) {
	rb, err := NewRotationBuffer(75)
	require.NoError(t, err)

	allocs := testing.AllocsPerRun(1000, func() {
		rb.Push(42)
	})
	assert.Zero(t, allocs)
}
