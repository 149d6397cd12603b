package ringbuffer

import "errors"

var (
	// ErrZeroCapacity is returned by New for a capacity below one.
	ErrZeroCapacity = errors.New("ring buffer capacity must be positive")
)
