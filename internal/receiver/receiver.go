// Package receiver plays RTP/Opus streams from any number of peers into the
// output ring of an audio session.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hraban/opus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	worker "audioring/internal"
	"audioring/internal/pipeline"
	"audioring/internal/utils/jitterbuffer"
	rtputils "audioring/internal/utils/rtp"
)

const (
	defaultReadTimeout   = 100 * time.Millisecond
	defaultStreamTimeout = 10 * time.Second
	maxPacketSize        = 1500
)

var (
	ErrInvalidChannels = errors.New("opus supports one or two channels")
	ErrInvalidFormat   = errors.New("sample rate and frame size must be positive")
)

// SampleWriter is the playback side of an audio session.
type SampleWriter interface {
	WriteSamples(ctx context.Context, p []float32) (int, error)
}

type Config struct {
	ListenPort    string
	ReadTimeout   time.Duration
	SampleRate    float64
	FrameSize     int
	Channels      int
	PayloadType   uint8
	Jitter        jitterbuffer.Config
	StreamTimeout time.Duration
}

type Stats struct {
	Packets      uint64
	BadPackets   uint64
	DecodeErrors uint64
	Frames       uint64
	IdleFrames   uint64
}

type Receiver struct {
	worker.BaseEntity
	worker.AudioEntity

	cfg    Config
	sink   SampleWriter
	logger *zap.Logger
	errLog rate.Sometimes

	conn   net.PacketConn
	jitter *jitterbuffer.JitterBuffer

	decodersMu sync.Mutex
	decoders   map[uint32]*opus.Decoder

	packets      atomic.Uint64
	badPackets   atomic.Uint64
	decodeErrors atomic.Uint64
	frames       atomic.Uint64
	idleFrames   atomic.Uint64
}

func New(cfg Config, sink SampleWriter, logger *zap.Logger) (*Receiver, error) {
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, cfg.Channels)
	}
	if cfg.SampleRate <= 0 || cfg.FrameSize <= 0 {
		return nil, ErrInvalidFormat
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = defaultStreamTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Receiver{
		BaseEntity: worker.BaseEntity{Port: cfg.ListenPort},
		AudioEntity: worker.AudioEntity{
			SampleRate: cfg.SampleRate,
			FrameSize:  cfg.FrameSize,
			Channels:   cfg.Channels,
		},
		cfg:      cfg,
		sink:     sink,
		logger:   logger.Named("receiver"),
		errLog:   rate.Sometimes{First: 3, Interval: 10 * time.Second},
		jitter:   jitterbuffer.NewJitterBuffer(cfg.Jitter),
		decoders: make(map[uint32]*opus.Decoder),
	}, nil
}

func (r *Receiver) Name() string { return "receiver" }

func (r *Receiver) Stats() Stats {
	return Stats{
		Packets:      r.packets.Load(),
		BadPackets:   r.badPackets.Load(),
		DecodeErrors: r.decodeErrors.Load(),
		Frames:       r.frames.Load(),
		IdleFrames:   r.idleFrames.Load(),
	}
}

// Listen binds the UDP socket. Start calls it when it has not been called.
func (r *Receiver) Listen(ctx context.Context) error {
	if r.conn != nil {
		return nil
	}

	addr := r.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	r.conn = pc
	return nil
}

// LocalAddr is the bound address, or nil before Listen.
func (r *Receiver) LocalAddr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Start receives and plays until ctx is done or the sink fails.
func (r *Receiver) Start(ctx context.Context) error {
	if err := r.Listen(ctx); err != nil {
		return err
	}

	r.logger.Info("receiver started",
		zap.Stringer("addr", r.conn.LocalAddr()),
		zap.Duration("frame", r.FrameDuration()))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pipeline.NewPipeline(ctx).
			AddStage(pipeline.Wrap[any, []byte]("udp", r.ReceiveUDPStage())).
			AddStage(pipeline.Wrap[[]byte, *rtputils.RTPPacket]("rtp", r.UnpackRTPStage())).
			AddStage(pipeline.Wrap[*rtputils.RTPPacket, any]("decode", r.DecodeOpusStage())).
			Wait()
	})
	g.Go(func() error { return r.playback(ctx) })
	g.Go(func() error { return r.cleanup(ctx) })

	err := g.Wait()
	st := r.Stats()
	r.logger.Info("receiver stopped",
		zap.Uint64("packets", st.Packets),
		zap.Uint64("frames", st.Frames),
		zap.Uint64("bad_packets", st.BadPackets))

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Receiver) cleanup(ctx context.Context) error {
	ticker := time.NewTicker(max(r.cfg.StreamTimeout/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := r.jitter.Cleanup(r.cfg.StreamTimeout); removed > 0 {
				r.logger.Info("removed idle streams", zap.Int("count", removed))
			}
			r.dropDecoders(r.jitter.GetActiveStreams())
		}
	}
}

// dropDecoders forgets the decoder of every stream not in active.
func (r *Receiver) dropDecoders(active []uint32) {
	keep := make(map[uint32]struct{}, len(active))
	for _, ssrc := range active {
		keep[ssrc] = struct{}{}
	}

	r.decodersMu.Lock()
	defer r.decodersMu.Unlock()
	for ssrc := range r.decoders {
		if _, ok := keep[ssrc]; !ok {
			delete(r.decoders, ssrc)
		}
	}
}
