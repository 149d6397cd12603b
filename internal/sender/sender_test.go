package sender

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hraban/opus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"audioring/internal/dsp"
	rtputils "audioring/internal/utils/rtp"
)

var errSourceDone = errors.New("source done")

// toneSource yields frames frames of a sine and then fails.
type toneSource struct {
	sine   *dsp.Sine
	frames int
}

func (t *toneSource) ReadSamples(ctx context.Context, p []float32) (int, error) {
	if t.frames == 0 {
		return 0, errSourceDone
	}
	t.frames--
	t.sine.Fill(p, 1, 0.5)
	return len(p), nil
}

type blockingSource struct{}

func (blockingSource) ReadSamples(ctx context.Context, _ []float32) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func testConfig(port string) Config {
	return Config{
		Peers:       []string{"127.0.0.1"},
		Port:        port,
		SampleRate:  48000,
		FrameSize:   960,
		Channels:    1,
		Bitrate:     32000,
		Application: "voip",
		PayloadType: 96,
		MTU:         1200,
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	cfg := testConfig("4899")
	cfg.Peers = nil
	_, err := New(cfg, blockingSource{}, nil)
	assert.ErrorIs(t, err, ErrNoPeers)

	cfg = testConfig("4899")
	cfg.Channels = 3
	_, err = New(cfg, blockingSource{}, nil)
	assert.ErrorIs(t, err, ErrInvalidChannels)

	cfg = testConfig("4899")
	cfg.Application = "music"
	_, err = New(cfg, blockingSource{}, nil)
	assert.ErrorIs(t, err, ErrUnknownApplication)

	s, err := New(testConfig("4899"), blockingSource{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sender", s.Name())
	assert.Equal(t, 20*time.Millisecond, s.FrameDuration())
}

func TestSenderStreamsToPeer(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	_, port, err := net.SplitHostPort(pc.LocalAddr().String())
	require.NoError(t, err)

	const frames = 5
	source := &toneSource{sine: dsp.NewSine(48000, 440), frames: frames}
	s, err := New(testConfig(port), source, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = s.Start(context.Background())
	assert.ErrorIs(t, err, errSourceDone)

	st := s.Stats()
	assert.Equal(t, uint64(frames), st.Frames)
	assert.Equal(t, uint64(frames), st.Packets)
	assert.Zero(t, st.WriteErrors)

	decoder, err := opus.NewDecoder(48000, 1)
	require.NoError(t, err)
	depacketizer := rtputils.NewOpusDepacketizer(96)

	var first *rtputils.RTPPacket
	buf := make([]byte, 1500)
	pcm := make([]int16, 960)
	for i := 0; i < frames; i++ {
		require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := pc.ReadFrom(buf)
		require.NoError(t, err)

		packet, err := depacketizer.Depacketize(buf[:n])
		require.NoError(t, err)
		if first == nil {
			first = packet
		}
		assert.Equal(t, first.SSRC, packet.SSRC)
		assert.Equal(t, first.Sequence+uint16(i), packet.Sequence)
		assert.Equal(t, first.Timestamp+uint32(i*960), packet.Timestamp)

		decoded, err := decoder.Decode(packet.Payload, pcm)
		require.NoError(t, err)
		assert.Equal(t, 960, decoded)
	}
	assert.Zero(t, depacketizer.GetStats().PacketsLost)
}

func TestStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	s, err := New(testConfig("9"), blockingSource{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sender did not stop")
	}
}

func TestConvertToPCM(t *testing.T) {
	t.Parallel()

	in := make(chan []float32, 1)
	in <- []float32{0, 0.5, 1, -1, 2, -2}
	close(in)

	out, err := convertToPCM(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, []int16{0, 16383, 32767, -32767, 32767, -32767}, <-out)
	_, ok := <-out
	assert.False(t, ok)
}
