package ringbuffer

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// DefaultRetryInterval is the sleep between availability checks of a blocking
// Push or Pop.
const DefaultRetryInterval = 500 * time.Microsecond

// Sample is the set of fixed-width sample types a RingBuffer can carry.
type Sample interface {
	~int16 | ~int32 | ~float32 | ~float64
}

// RingBuffer is a single-producer single-consumer circular buffer of samples.
//
// Push, AvailableForWrite and the Set* methods belong to the producer; Pop and
// AvailableForRead belong to the consumer. The configuration setters must be
// called before both sides start.
type RingBuffer[T Sample] struct {
	label  string
	buffer []T

	writeIndex atomic.Int64
	readIndex  atomic.Int64

	blockingPush  bool
	blockingPop   bool
	retryInterval time.Duration
}

// New allocates a ring buffer holding capacity samples.
func New[T Sample](capacity int, label string) (*RingBuffer[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring buffer %q: %w", label, ErrZeroCapacity)
	}

	return &RingBuffer[T]{
		label:         label,
		buffer:        make([]T, capacity),
		retryInterval: DefaultRetryInterval,
	}, nil
}

// Label is the name given to New.
func (rb *RingBuffer[T]) Label() string { return rb.label }

// Capacity is the fixed number of slots.
func (rb *RingBuffer[T]) Capacity() int { return len(rb.buffer) }

// SetPushBlocking makes Push wait until the whole source fits.
func (rb *RingBuffer[T]) SetPushBlocking(enabled bool) {
	rb.blockingPush = enabled
}

// SetPopBlocking makes Pop wait until the whole destination can be filled.
func (rb *RingBuffer[T]) SetPopBlocking(enabled bool) {
	rb.blockingPop = enabled
}

// SetRetryInterval sets the sleep used by blocking transfers. Non-positive
// values are ignored.
func (rb *RingBuffer[T]) SetRetryInterval(d time.Duration) {
	if d > 0 {
		rb.retryInterval = d
	}
}

// RetryInterval is the sleep between checks of a blocking transfer.
func (rb *RingBuffer[T]) RetryInterval() time.Duration { return rb.retryInterval }

// AvailableForWrite returns the number of samples that fit right now. Equal
// cursors count as empty, so the result is never zero.
func (rb *RingBuffer[T]) AvailableForWrite() int {
	space := int(rb.readIndex.Load() - rb.writeIndex.Load())
	if space > 0 {
		return space
	}
	return space + len(rb.buffer)
}

// AvailableForRead returns the number of samples that can be popped right now.
func (rb *RingBuffer[T]) AvailableForRead() int {
	space := int(rb.writeIndex.Load() - rb.readIndex.Load())
	if space >= 0 {
		return space
	}
	return space + len(rb.buffer)
}

// Push copies as much of src as fits and returns the count written. Samples
// past the returned count are not stored.
func (rb *RingBuffer[T]) Push(src []T) int {
	space := rb.AvailableForWrite()

	if rb.blockingPush {
		for space < len(src) {
			time.Sleep(rb.retryInterval)
			space = rb.AvailableForWrite()
		}
	}

	if space == 0 || len(src) == 0 {
		return 0
	}

	n := min(len(src), space)
	w := int(rb.writeIndex.Load())

	// wrap if needed
	if first := len(rb.buffer) - w; n <= first {
		copy(rb.buffer[w:w+n], src[:n])
	} else {
		copy(rb.buffer[w:], src[:first])
		copy(rb.buffer[:n-first], src[first:n])
	}

	rb.writeIndex.Store(int64((w + n) % len(rb.buffer)))
	return n
}

// Pop fills dst with as many samples as are available and returns the count
// read. dst past the returned count is left untouched.
func (rb *RingBuffer[T]) Pop(dst []T) int {
	space := rb.AvailableForRead()

	if rb.blockingPop {
		for space < len(dst) {
			time.Sleep(rb.retryInterval)
			space = rb.AvailableForRead()
		}
	}

	if space == 0 || len(dst) == 0 {
		return 0
	}

	n := min(len(dst), space)
	r := int(rb.readIndex.Load())

	if first := len(rb.buffer) - r; n <= first {
		copy(dst[:n], rb.buffer[r:r+n])
	} else {
		copy(dst[:first], rb.buffer[r:])
		copy(dst[first:n], rb.buffer[:n-first])
	}

	rb.readIndex.Store(int64((r + n) % len(rb.buffer)))
	return n
}
