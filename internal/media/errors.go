package media

import "errors"

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrNotWavFile        = errors.New("not a valid WAV file")
	ErrInvalidChannels   = errors.New("channel count must be positive")
)
