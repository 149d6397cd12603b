package media

import (
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hashicorp/go-multierror"
)

type wavSource struct {
	dec   *wav.Decoder
	buf   *audio.IntBuffer
	scale float32
}

// NewWAVSource decodes PCM WAV data from r.
func NewWAVSource(r io.ReadSeeker) (Source, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrNotWavFile
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	if dec.BitDepth == 0 || dec.NumChans == 0 {
		return nil, ErrNotWavFile
	}

	return &wavSource{
		dec: dec,
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: int(dec.NumChans),
				SampleRate:  int(dec.SampleRate),
			},
			Data:           make([]int, 4096),
			SourceBitDepth: int(dec.BitDepth),
		},
		scale: float32(int64(1) << (dec.BitDepth - 1)),
	}, nil
}

func (s *wavSource) SampleRate() int { return int(s.dec.SampleRate) }
func (s *wavSource) Channels() int   { return int(s.dec.NumChans) }
func (s *wavSource) Close() error    { return nil }

func (s *wavSource) ReadSamples(dst []float32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if cap(s.buf.Data) < len(dst) {
		s.buf.Data = make([]int, len(dst))
	}
	s.buf.Data = s.buf.Data[:len(dst)]

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil {
		return 0, fmt.Errorf("%w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}

	for i, v := range s.buf.Data[:n] {
		dst[i] = float32(v) / s.scale
	}
	return n, nil
}

// WAVWriter encodes interleaved float32 samples as 16-bit PCM.
type WAVWriter struct {
	enc     *wav.Encoder
	closer  io.Closer
	buf     *audio.IntBuffer
	samples int64
}

// NewWAVWriter writes to w. If w is also an io.Closer it is closed by Close.
func NewWAVWriter(w io.WriteSeeker, sampleRate, channels int) (*WAVWriter, error) {
	if channels <= 0 {
		return nil, ErrInvalidChannels
	}

	ww := &WAVWriter{
		enc: wav.NewEncoder(w, sampleRate, 16, channels, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: 16,
		},
	}
	if c, ok := w.(io.Closer); ok {
		ww.closer = c
	}
	return ww, nil
}

func (w *WAVWriter) WriteSamples(p []float32) error {
	if cap(w.buf.Data) < len(p) {
		w.buf.Data = make([]int, len(p))
	}
	w.buf.Data = w.buf.Data[:len(p)]
	for i, v := range p {
		w.buf.Data[i] = int(Float32ToInt16(v))
	}

	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("wav write error: %w", err)
	}
	w.samples += int64(len(p))
	return nil
}

func (w *WAVWriter) Samples() int64 { return w.samples }

// DataBytes is the size of the PCM payload written so far.
func (w *WAVWriter) DataBytes() int64 { return w.samples * 2 }

// Close finalizes the WAV header and closes the underlying writer.
func (w *WAVWriter) Close() error {
	var result error
	if err := w.enc.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("wav finalize error: %w", err))
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
