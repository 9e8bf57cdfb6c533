package tachometer

import (
	"iter"

	"github.com/xtxerr/tacho/internal/errors"
)

// RotationBuffer is a fixed-capacity circular buffer of timestamps.
// Once full, each Push overwrites the oldest entry. It is not safe for
// concurrent use.
type RotationBuffer struct {
	data  []int64
	head  int // next write position
	count int // number of retained timestamps
}

// NewRotationBuffer creates a buffer holding at most capacity timestamps.
func NewRotationBuffer(capacity int) (*RotationBuffer, error) {
	if capacity < 1 {
		return nil, errors.NewInvalidValue("capacity", capacity, errors.ErrInvalidCapacity)
	}
	return &RotationBuffer{data: make([]int64, capacity)}, nil
}

// Push appends a timestamp, evicting the oldest one if the buffer is full.
func (rb *RotationBuffer) Push(ts int64) {
	rb.data[rb.head] = ts
	rb.head++
	if rb.head == len(rb.data) {
		rb.head = 0
	}
	if rb.count < len(rb.data) {
		rb.count++
	}
}

// Len returns the number of retained timestamps.
func (rb *RotationBuffer) Len() int {
	return rb.count
}

// Cap returns the capacity of the buffer.
func (rb *RotationBuffer) Cap() int {
	return len(rb.data)
}

// IsFull returns true once the buffer has started evicting.
func (rb *RotationBuffer) IsFull() bool {
	return rb.count == len(rb.data)
}

// at returns the i-th retained timestamp, 0 being the oldest.
func (rb *RotationBuffer) at(i int) int64 {
	idx := rb.head - rb.count + i
	if idx < 0 {
		idx += len(rb.data)
	}
	return rb.data[idx]
}

// Oldest returns the oldest retained timestamp.
// Returns false if the buffer is empty.
func (rb *RotationBuffer) Oldest() (int64, bool) {
	if rb.count == 0 {
		return 0, false
	}
	return rb.at(0), true
}

// Newest returns the most recently pushed timestamp.
// Returns false if the buffer is empty.
func (rb *RotationBuffer) Newest() (int64, bool) {
	if rb.count == 0 {
		return 0, false
	}
	return rb.at(rb.count - 1), true
}

// All yields the retained timestamps from oldest to newest.
func (rb *RotationBuffer) All() iter.Seq[int64] {
	return func(yield func(int64) bool) {
		for i := 0; i < rb.count; i++ {
			if !yield(rb.at(i)) {
				return
			}
		}
	}
}

// AppendTo appends the retained timestamps, oldest first, to dst.
func (rb *RotationBuffer) AppendTo(dst []int64) []int64 {
	for i := 0; i < rb.count; i++ {
		dst = append(dst, rb.at(i))
	}
	return dst
}
