package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type Source interface {
	SampleRate() int
	Channels() int
	// ReadSamples fills dst with interleaved samples and returns how many
	// were written.
	ReadSamples(dst []float32) (int, error)
	Close() error
}

// Open decodes the file at path based on its extension.
func Open(path string) (Source, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav", ".mp3", ".ogg", ".oga":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	var src Source
	switch ext {
	case ".wav":
		src, err = NewWAVSource(f)
	case ".mp3":
		src, err = NewMP3Source(f)
	default:
		src, err = NewVorbisSource(f)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &fileSource{Source: src, file: f}, nil
}

type fileSource struct {
	Source
	file io.Closer
}

func (s *fileSource) Close() error {
	s.Source.Close()
	return s.file.Close()
}

// Remix converts interleaved frames from srcChannels to dstChannels. Mono is
// copied to every output channel; extra input channels are averaged down.
// It returns the number of samples written to dst.
func Remix(dst, src []float32, srcChannels, dstChannels int) int {
	if srcChannels <= 0 || dstChannels <= 0 {
		return 0
	}

	frames := min(len(src)/srcChannels, len(dst)/dstChannels)
	if srcChannels == dstChannels {
		return copy(dst, src[:frames*srcChannels])
	}

	for f := 0; f < frames; f++ {
		in := src[f*srcChannels : (f+1)*srcChannels]
		out := dst[f*dstChannels : (f+1)*dstChannels]

		if srcChannels == 1 {
			for ch := range out {
				out[ch] = in[0]
			}
			continue
		}

		if dstChannels == 1 {
			var sum float32
			for _, v := range in {
				sum += v
			}
			out[0] = sum / float32(srcChannels)
			continue
		}

		for ch := range out {
			out[ch] = in[ch%srcChannels]
		}
	}
	return frames * dstChannels
}

func Float32ToInt16(x float32) int16 {
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	return int16(x * 32767)
}

func Int16ToFloat32(x int16) float32 {
	return float32(x) / 32768
}
