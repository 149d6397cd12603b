// Package sender captures frames from the input ring and streams them to
// peers as RTP/Opus over UDP.
package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hraban/opus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	worker "audioring/internal"
	"audioring/internal/pipeline"
)

var (
	ErrNoPeers            = errors.New("sender has no peers")
	ErrInvalidChannels    = errors.New("opus supports one or two channels")
	ErrUnknownApplication = errors.New("unknown opus application")
	ErrInvalidFormat      = errors.New("sample rate and frame size must be positive")
)

// SampleReader is the capture side of an audio session.
type SampleReader interface {
	ReadSamples(ctx context.Context, p []float32) (int, error)
}

type Config struct {
	Peers       []string
	Port        string
	SampleRate  float64
	FrameSize   int
	Channels    int
	Bitrate     int
	Application string
	PayloadType uint8
	MTU         uint16
}

type Stats struct {
	Frames      uint64
	Packets     uint64
	Bytes       uint64
	WriteErrors uint64
}

type Sender struct {
	worker.BaseEntity
	worker.AudioEntity

	cfg    Config
	source SampleReader
	logger *zap.Logger

	frames      atomic.Uint64
	packets     atomic.Uint64
	bytes       atomic.Uint64
	writeErrors atomic.Uint64
	errLog      rate.Sometimes

	captureErr atomic.Error
}

func New(cfg Config, source SampleReader, logger *zap.Logger) (*Sender, error) {
	if len(cfg.Peers) == 0 {
		return nil, ErrNoPeers
	}
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, cfg.Channels)
	}
	if cfg.SampleRate <= 0 || cfg.FrameSize <= 0 {
		return nil, ErrInvalidFormat
	}
	if _, err := application(cfg.Application); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sender{
		BaseEntity: worker.BaseEntity{Port: cfg.Port},
		AudioEntity: worker.AudioEntity{
			SampleRate: cfg.SampleRate,
			FrameSize:  cfg.FrameSize,
			Channels:   cfg.Channels,
		},
		cfg:    cfg,
		source: source,
		logger: logger.Named("sender"),
		errLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}, nil
}

func (s *Sender) Name() string { return "sender" }

func (s *Sender) Stats() Stats {
	return Stats{
		Frames:      s.frames.Load(),
		Packets:     s.packets.Load(),
		Bytes:       s.bytes.Load(),
		WriteErrors: s.writeErrors.Load(),
	}
}

// Start runs the capture pipeline until ctx is done or the capture source
// fails. Cancellation is not an error.
func (s *Sender) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Info("sender started",
		zap.Strings("peers", s.cfg.Peers),
		zap.String("port", s.Port),
		zap.Duration("frame", s.FrameDuration()))

	p := pipeline.NewPipeline(ctx).
		AddStage(pipeline.Wrap[any, []float32]("capture", s.CaptureStage())).
		AddStage(pipeline.Wrap[[]float32, []int16]("pcm", s.ConvertToPCMStage())).
		AddStage(pipeline.Wrap[[]int16, []byte]("encode", s.EncodeOpusStage())).
		AddStage(pipeline.Wrap[[]byte, []byte]("rtp", s.PackAsRTPStage())).
		AddStage(pipeline.Wrap[[]byte, any]("udp", s.SendUDPStage()))

	err := p.Wait()
	st := s.Stats()
	s.logger.Info("sender stopped",
		zap.Uint64("frames", st.Frames),
		zap.Uint64("packets", st.Packets),
		zap.Uint64("bytes", st.Bytes))

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return s.captureErr.Load()
}

func application(name string) (opus.Application, error) {
	switch name {
	case "", "voip":
		return opus.AppVoIP, nil
	case "audio":
		return opus.AppAudio, nil
	case "lowdelay":
		return opus.AppRestrictedLowdelay, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownApplication, name)
}
