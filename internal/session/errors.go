package session

import "errors"

var (
	ErrInvalidChannels = errors.New("invalid number of channels")
	ErrInvalidFrames   = errors.New("frames per buffer must be positive")
	ErrTooLarge        = errors.New("request does not fit in the ring buffer")
	ErrClosed          = errors.New("session closed")
)
