package receiver

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
	"audioring/internal/media"
	"audioring/internal/utils/jitterbuffer"
	rtputils "audioring/internal/utils/rtp"
)

type chanSink struct {
	frames chan []float32
	err    error
}

func (s *chanSink) WriteSamples(ctx context.Context, p []float32) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case s.frames <- append([]float32(nil), p...):
		return len(p), nil
	}
}

func testConfig() Config {
	return Config{
		ListenPort:  "127.0.0.1:0",
		ReadTimeout: 20 * time.Millisecond,
		SampleRate:  48000,
		FrameSize:   960,
		Channels:    1,
		PayloadType: 96,
	}
}

// opusPackets encodes count frames of a sine as RTP packets of one stream.
func opusPackets(t *testing.T, count int) [][]byte {
	t.Helper()

	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	require.NoError(t, err)

	cfg := rtputils.DefaultOpusConfig()
	packetizer := rtputils.NewOpusPacketizer(cfg)
	sine := dsp.NewSine(48000, 440)

	frame := make([]float32, 960)
	pcm := make([]int16, 960)
	data := make([]byte, 1275)

	var packets [][]byte
	for i := 0; i < count; i++ {
		sine.Fill(frame, 1, 0.5)
		for j, s := range frame {
			pcm[j] = media.Float32ToInt16(s)
		}
		n, err := enc.Encode(pcm, data)
		require.NoError(t, err)

		out, err := packetizer.Packetize(data[:n], 960)
		require.NoError(t, err)
		packets = append(packets, out...)
	}
	return packets
}

func send(t *testing.T, to net.Addr, packets [][]byte) {
	t.Helper()

	_, port, err := net.SplitHostPort(to.String())
	require.NoError(t, err)
	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", port))
	require.NoError(t, err)
	defer conn.Close()

	for _, p := range packets {
		_, err := conn.Write(p)
		require.NoError(t, err)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Channels = 0
	_, err := New(cfg, &chanSink{}, nil)
	assert.ErrorIs(t, err, ErrInvalidChannels)

	cfg = testConfig()
	cfg.FrameSize = 0
	_, err = New(cfg, &chanSink{}, nil)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	r, err := New(testConfig(), &chanSink{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "receiver", r.Name())
	assert.Nil(t, r.LocalAddr())
}

func TestMixAudioSaturates(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		out, in []int16
		want    []int16
	}{
		{"sum", []int16{1, 2, 3}, []int16{10, 20, 30}, []int16{11, 22, 33}},
		{"clip high", []int16{30000}, []int16{10000}, []int16{32767}},
		{"clip low", []int16{-30000}, []int16{-10000}, []int16{-32768}},
		{"short input", []int16{1, 1, 1}, []int16{5}, []int16{6, 1, 1}},
		{"long input", []int16{1}, []int16{5, 5}, []int16{6}},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mixAudio(tc.out, tc.in)
			assert.Equal(t, tc.want, tc.out)
		})
	}
}

func TestMixFrame(t *testing.T) {
	t.Parallel()

	r, err := New(testConfig(), &chanSink{}, nil)
	require.NoError(t, err)
	r.jitter = jitterbuffer.NewJitterBuffer(jitterbuffer.Config{})

	m := newMixer(4)
	assert.False(t, r.mixFrame(m))

	r.jitter.AddPacket(&rtputils.RTPPacket{SSRC: 1, Sequence: 5, PCMData: []int16{8192, 0, 0, 0}})
	r.jitter.AddPacket(&rtputils.RTPPacket{SSRC: 2, Sequence: 9, PCMData: []int16{8192, -16384}})

	require.True(t, r.mixFrame(m))
	assert.Equal(t, 2, m.Streams())
	assert.Equal(t, []float32{0.5, -0.5, 0, 0}, m.Float32())

	assert.False(t, r.mixFrame(m))
	assert.Zero(t, m.Streams())
}

func TestReceiverPlaysStream(t *testing.T) {
	sink := &chanSink{frames: make(chan []float32, 16)}
	r, err := New(testConfig(), sink, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Listen(ctx))

	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	send(t, r.LocalAddr(), opusPackets(t, 3))

	select {
	case frame := <-sink.frames:
		assert.Len(t, frame, 960)
	case <-time.After(5 * time.Second):
		t.Fatal("no frame played")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not stop")
	}

	st := r.Stats()
	assert.GreaterOrEqual(t, st.Packets, uint64(1))
	assert.GreaterOrEqual(t, st.Frames, uint64(1))
	assert.Zero(t, st.BadPackets)
}

func TestReceiverCountsBadPackets(t *testing.T) {
	sink := &chanSink{frames: make(chan []float32, 16)}
	r, err := New(testConfig(), sink, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Listen(ctx))

	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	send(t, r.LocalAddr(), [][]byte{{1, 2, 3}})
	assert.Eventually(t, func() bool { return r.Stats().BadPackets == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestStartReturnsSinkError(t *testing.T) {
	errSink := errors.New("session closed")
	r, err := New(testConfig(), &chanSink{err: errSink}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Listen(ctx))

	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	send(t, r.LocalAddr(), opusPackets(t, 2))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errSink)
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not stop")
	}
}
