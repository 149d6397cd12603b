package media

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVWriteThenOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "capture.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWAVWriter(f, 16000, 2)
	require.NoError(t, err)
	require.NoError(t, w.WriteSamples([]float32{0, 0.5, -0.5, 1}))
	require.NoError(t, w.WriteSamples([]float32{2, -2}))
	assert.Equal(t, int64(6), w.Samples())
	assert.Equal(t, int64(12), w.DataBytes())
	require.NoError(t, w.Close())

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 16000, src.SampleRate())
	assert.Equal(t, 2, src.Channels())

	dst := make([]float32, 16)
	n, err := src.ReadSamples(dst)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	want := []float32{0, 16383.0 / 32768, -16383.0 / 32768, 32767.0 / 32768, 32767.0 / 32768, -32767.0 / 32768}
	assert.InDeltaSlice(t, want, dst[:n], 1e-6)

	n, err = src.ReadSamples(dst)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewWAVWriterInvalidChannels(t *testing.T) {
	t.Parallel()

	f, err := os.Create(filepath.Join(t.TempDir(), "x.wav"))
	require.NoError(t, err)
	defer f.Close()

	_, err = NewWAVWriter(f, 48000, 0)
	assert.ErrorIs(t, err, ErrInvalidChannels)
}

func TestNewWAVSourceRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := NewWAVSource(bytes.NewReader([]byte("definitely not RIFF data at all....................")))
	assert.ErrorIs(t, err, ErrNotWavFile)
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	_, err := Open("song.flac")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Open(filepath.Join(t.TempDir(), "missing.wav"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.ogg")
	require.NoError(t, os.WriteFile(bad, []byte("OggS but not really"), 0o600))
	_, err = Open(bad)
	assert.Error(t, err)
}

type fakeMP3 struct {
	data *bytes.Reader
	rate int
}

func (f *fakeMP3) Read(p []byte) (int, error) { return f.data.Read(p) }
func (f *fakeMP3) SampleRate() int            { return f.rate }

func TestMP3Source(t *testing.T) {
	t.Parallel()

	// 16384, -16384, 0 as little-endian int16 plus a dangling byte
	src := &mp3Source{dec: &fakeMP3{
		data: bytes.NewReader([]byte{0x00, 0x40, 0x00, 0xC0, 0x00, 0x00, 0x7F}),
		rate: 44100,
	}}
	assert.Equal(t, 44100, src.SampleRate())
	assert.Equal(t, 2, src.Channels())

	dst := make([]float32, 8)
	n, err := src.ReadSamples(dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []float32{0.5, -0.5, 0}, dst[:3])

	n, err = src.ReadSamples(dst)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

type fakeOgg struct {
	samples  []float32
	channels int
	err      error
}

func (f *fakeOgg) SampleRate() int { return 22050 }
func (f *fakeOgg) Channels() int   { return f.channels }

func (f *fakeOgg) Read(p []float32) (int, error) {
	if len(f.samples) == 0 {
		if f.err != nil {
			return 0, f.err
		}
		return 0, io.EOF
	}
	n := copy(p, f.samples)
	f.samples = f.samples[n:]
	return n, nil
}

func TestVorbisSource(t *testing.T) {
	t.Parallel()

	src := &vorbisSource{dec: &fakeOgg{samples: []float32{1, 2, 3, 4, 5, 6}, channels: 2}}
	assert.Equal(t, 22050, src.SampleRate())
	assert.Equal(t, 2, src.Channels())

	dst := make([]float32, 5)
	n, err := src.ReadSamples(dst)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []float32{1, 2, 3, 4}, dst[:4])

	n, err = src.ReadSamples(dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = src.ReadSamples(dst)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	broken := errors.New("corrupt page")
	src = &vorbisSource{dec: &fakeOgg{channels: 1, err: broken}}
	_, err = src.ReadSamples(dst)
	assert.ErrorIs(t, err, broken)
}

func TestRemix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		src    []float32
		srcCh  int
		dstCh  int
		dstLen int
		want   []float32
	}{
		{"same", []float32{1, 2, 3, 4}, 2, 2, 4, []float32{1, 2, 3, 4}},
		{"mono to stereo", []float32{1, 2}, 1, 2, 4, []float32{1, 1, 2, 2}},
		{"stereo to mono", []float32{1, 3, -1, 1}, 2, 1, 2, []float32{2, 0}},
		{"short dst", []float32{1, 2, 3}, 1, 2, 3, []float32{1, 1}},
		{"invalid", []float32{1}, 0, 1, 1, []float32{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dst := make([]float32, tt.dstLen)
			n := Remix(dst, tt.src, tt.srcCh, tt.dstCh)
			assert.Equal(t, tt.want, dst[:n])
		})
	}
}

func TestSampleConversion(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int16(32767), Float32ToInt16(1.5))
	assert.Equal(t, int16(-32767), Float32ToInt16(-3))
	assert.Equal(t, int16(0), Float32ToInt16(0))
	assert.Equal(t, float32(-1), Int16ToFloat32(-32768))
	assert.Equal(t, float32(0.5), Int16ToFloat32(16384))
}
