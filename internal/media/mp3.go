package media

import (
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"
)

type mp3Reader interface {
	Read([]byte) (int, error)
	SampleRate() int
}

type mp3Source struct {
	dec mp3Reader
	buf []byte
}

// NewMP3Source decodes MP3 data from r. go-mp3 always produces 16-bit
// little-endian stereo.
func NewMP3Source(r io.Reader) (Source, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	return &mp3Source{dec: dec, buf: make([]byte, 8192)}, nil
}

func (s *mp3Source) SampleRate() int { return s.dec.SampleRate() }
func (s *mp3Source) Channels() int   { return 2 }
func (s *mp3Source) Close() error    { return nil }

func (s *mp3Source) ReadSamples(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	s.buf = s.buf[:need]

	n, err := io.ReadFull(s.dec, s.buf)
	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(uint16(s.buf[2*i]) | uint16(s.buf[2*i+1])<<8)
		dst[i] = Int16ToFloat32(v)
	}

	switch {
	case samples > 0:
		return samples, nil
	case err == io.ErrUnexpectedEOF || err == io.EOF:
		return 0, io.EOF
	case err != nil:
		return 0, fmt.Errorf("%w", err)
	}
	return 0, io.EOF
}
