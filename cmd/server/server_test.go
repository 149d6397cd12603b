package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"

	worker "audioring/internal"
	"audioring/internal/config"
	"audioring/internal/session"
)

type fakeBackend struct {
	initErr, termErr error
	initialized      atomic.Int32
	terminated       atomic.Int32
}

func (b *fakeBackend) Initialize() error {
	b.initialized.Inc()
	return b.initErr
}

func (b *fakeBackend) Terminate() error {
	b.terminated.Inc()
	return b.termErr
}

func (b *fakeBackend) Devices() ([]session.DeviceInfo, error) { return nil, nil }

func (b *fakeBackend) OpenStream(session.StreamParams, session.ProcessFunc) (session.Stream, error) {
	return nil, errors.New("no device")
}

func waitForCancel(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	var started atomic.Int32
	w := worker.Func("idle", func(ctx context.Context) error {
		started.Inc()
		return waitForCancel(ctx)
	})

	s := New(backend, zaptest.NewLogger(t), w, w)
	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	assert.Equal(t, int32(1), backend.initialized.Load())
	assert.Equal(t, int32(1), backend.terminated.Load())
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()

	s := New(&fakeBackend{}, nil)
	assert.ErrorIs(t, s.Stop(), ErrNotStarted)
}

func TestStartInitializeError(t *testing.T) {
	t.Parallel()

	errInit := errors.New("no audio")
	s := New(&fakeBackend{initErr: errInit}, nil)
	assert.ErrorIs(t, s.Start(context.Background()), errInit)
}

func TestWorkerErrorCancelsOthers(t *testing.T) {
	t.Parallel()

	errDevice := errors.New("device lost")
	backend := &fakeBackend{termErr: errors.New("terminate failed")}
	s := New(backend, zaptest.NewLogger(t),
		worker.Func("idle", waitForCancel),
		worker.Func("broken", func(context.Context) error { return errDevice }),
	)
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	err := s.Stop()
	assert.ErrorIs(t, err, errDevice)
	assert.ErrorIs(t, err, backend.termErr)
	assert.Contains(t, err.Error(), "broken")
}

func TestStopTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	s := New(&fakeBackend{}, zaptest.NewLogger(t), worker.Func("stuck", func(context.Context) error {
		<-release
		return nil
	}))
	s.stopTimeout = 10 * time.Millisecond

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Stop(), ErrStopTimeout)
}

func TestNewServerWorkers(t *testing.T) {
	t.Parallel()

	names := func(s *Server) []string {
		var out []string
		for _, w := range s.Workers() {
			out = append(out, w.Name())
		}
		return out
	}

	cfg := config.Default()
	cfg.Network.Peers = []string{"127.0.0.1"}
	s, err := NewServer(cfg, &fakeBackend{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"session", "receiver", "sender"}, names(s))

	cfg = config.Default()
	cfg.Audio.InputChannels = 0
	s, err = NewServer(cfg, &fakeBackend{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"session", "receiver"}, names(s))

	cfg = config.Default()
	_, err = NewServer(cfg, &fakeBackend{}, nil)
	assert.ErrorIs(t, err, config.ErrNoPeers)

	cfg = config.Default()
	cfg.Network.Peers = []string{"127.0.0.1"}
	cfg.Audio.FrameSize = 1000
	_, err = NewServer(cfg, &fakeBackend{}, nil)
	assert.ErrorIs(t, err, config.ErrOpusFrameSize)
}
