// Package server runs an audio session together with the workers that feed
// and drain its rings.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	worker "audioring/internal"
	"audioring/internal/config"
	"audioring/internal/receiver"
	"audioring/internal/sender"
	"audioring/internal/session"
	"audioring/internal/utils/jitterbuffer"
)

const defaultStopTimeout = 5 * time.Second

var (
	ErrNotStarted  = errors.New("server not started")
	ErrStopTimeout = errors.New("workers did not stop in time")
)

type Server struct {
	backend session.Backend
	logger  *zap.Logger
	workers []worker.Worker

	stopTimeout time.Duration
	cancel      context.CancelFunc
	done        chan struct{}
	err         error
}

func New(backend session.Backend, logger *zap.Logger, workers ...worker.Worker) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		backend:     backend,
		logger:      logger.Named("server"),
		workers:     workers,
		stopTimeout: defaultStopTimeout,
		done:        make(chan struct{}),
	}
}

// NewSession builds the session described by the audio section of cfg.
func NewSession(cfg *config.Config, backend session.Backend, logger *zap.Logger) (*session.Session, error) {
	return session.New(session.Config{
		InputChannels:    cfg.Audio.InputChannels,
		OutputChannels:   cfg.Audio.OutputChannels,
		SampleRate:       cfg.Audio.SampleRate,
		FramesPerBuffer:  cfg.Audio.FrameSize,
		InputBufferSize:  cfg.Audio.InputBufferSize,
		OutputBufferSize: cfg.Audio.OutputBufferSize,
		RetryInterval:    cfg.Audio.RetryInterval,
		StatsInterval:    cfg.Audio.StatsInterval,
	}, backend, logger)
}

// NewServer wires the voice path: a session, a sender reading its input ring
// and a receiver writing its output ring. Either side is left out when the
// session has no channels for it.
func NewServer(cfg *config.Config, backend session.Backend, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// a receive-only server needs no peers
	if err := cfg.CheckVoice(); err != nil {
		if !errors.Is(err, config.ErrNoPeers) || cfg.Audio.InputChannels > 0 {
			return nil, err
		}
	}

	sess, err := NewSession(cfg, backend, logger)
	if err != nil {
		return nil, err
	}
	workers := []worker.Worker{sess}

	if cfg.Audio.OutputChannels > 0 {
		r, err := receiver.New(receiver.Config{
			ListenPort:  cfg.Network.ListenPort,
			ReadTimeout: cfg.Network.ReadTimeout,
			SampleRate:  cfg.Audio.SampleRate,
			FrameSize:   cfg.Audio.FrameSize,
			Channels:    cfg.Audio.OutputChannels,
			PayloadType: cfg.Codec.PayloadType,
			Jitter: jitterbuffer.Config{
				MaxStreams:    cfg.Jitter.MaxStreams,
				MaxBufferSize: cfg.Jitter.MaxPackets,
				BufferTime:    cfg.Jitter.BufferTime,
			},
			StreamTimeout: cfg.Jitter.StreamTimeout,
		}, sess, logger)
		if err != nil {
			return nil, err
		}
		workers = append(workers, r)
	}

	if cfg.Audio.InputChannels > 0 {
		s, err := sender.New(sender.Config{
			Peers:       cfg.Network.Peers,
			Port:        cfg.Network.Port,
			SampleRate:  cfg.Audio.SampleRate,
			FrameSize:   cfg.Audio.FrameSize,
			Channels:    cfg.Audio.InputChannels,
			Bitrate:     cfg.Codec.Bitrate,
			Application: cfg.Codec.Application,
			PayloadType: cfg.Codec.PayloadType,
			MTU:         cfg.Codec.MTU,
		}, sess, logger)
		if err != nil {
			return nil, err
		}
		workers = append(workers, s)
	}

	return New(backend, logger, workers...), nil
}

func (s *Server) Workers() []worker.Worker { return s.workers }

// Start initializes the backend and launches every worker. The first worker
// error cancels the others; Done is closed once all have returned.
func (s *Server) Start(ctx context.Context) error {
	if err := s.backend.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio backend: %w", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	for _, w := range s.workers {
		w := w
		g.Go(func() error {
			log := s.logger.With(zap.String("worker", w.Name()))
			log.Debug("worker started")

			if err := w.Start(ctx); err != nil {
				log.Error("worker failed", zap.Error(err))
				return fmt.Errorf("%s: %w", w.Name(), err)
			}
			log.Debug("worker stopped")
			return nil
		})
	}

	go func() {
		s.err = g.Wait()
		close(s.done)
	}()
	return nil
}

func (s *Server) Done() <-chan struct{} { return s.done }

// Stop cancels the workers, waits for them and terminates the backend. It
// returns the first worker error together with any shutdown failure.
func (s *Server) Stop() error {
	if s.cancel == nil {
		return ErrNotStarted
	}
	s.logger.Info("shutting down")
	s.cancel()

	var result error
	select {
	case <-s.done:
		if s.err != nil && !errors.Is(s.err, context.Canceled) {
			result = s.err
		}
		s.logger.Info("all workers stopped")
	case <-time.After(s.stopTimeout):
		result = ErrStopTimeout
		s.logger.Warn("some workers did not stop in time", zap.Duration("timeout", s.stopTimeout))
	}

	if err := s.backend.Terminate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to terminate audio backend: %w", err))
	}
	return result
}
