// Package session owns one audio stream and the two ring buffers that connect
// its real-time callback to the rest of the program.
//
// Captured audio is interleaved and pushed into the input ring; the callback
// pops interleaved audio from the output ring and spreads it over the output
// channels. Companion goroutines use ReadSamples and WriteSamples.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"audioring/internal/ringbuffer"
)

const (
	MaxInputChannels  = 2
	MaxOutputChannels = 2

	DefaultBufferSize = 30000
)

type Config struct {
	InputChannels    int
	OutputChannels   int
	SampleRate       float64
	FramesPerBuffer  int
	InputBufferSize  int
	OutputBufferSize int
	RetryInterval    time.Duration
	StatsInterval    time.Duration
}

type Stats struct {
	Callbacks       uint64
	Overruns        uint64
	Underruns       uint64
	DroppedSamples  uint64
	SilencedSamples uint64
}

type Session struct {
	cfg     Config
	backend Backend
	logger  *zap.Logger

	input  *ringbuffer.RingBuffer[float32]
	output *ringbuffer.RingBuffer[float32]

	// callback-only scratch, sized for FramesPerBuffer
	inScratch  []float32
	outScratch []float32

	callbacks atomic.Uint64
	overruns  atomic.Uint64
	underruns atomic.Uint64
	dropped   atomic.Uint64
	silenced  atomic.Uint64

	xrunLog rate.Sometimes

	once sync.Once
	done chan struct{}
	err  error
}

func New(cfg Config, backend Backend, logger *zap.Logger) (*Session, error) {
	if cfg.InputChannels < 0 || cfg.InputChannels > MaxInputChannels {
		return nil, fmt.Errorf("%w: %d inputs", ErrInvalidChannels, cfg.InputChannels)
	}
	if cfg.OutputChannels < 0 || cfg.OutputChannels > MaxOutputChannels {
		return nil, fmt.Errorf("%w: %d outputs", ErrInvalidChannels, cfg.OutputChannels)
	}
	if cfg.FramesPerBuffer <= 0 {
		return nil, ErrInvalidFrames
	}
	if cfg.InputBufferSize == 0 {
		cfg.InputBufferSize = DefaultBufferSize
	}
	if cfg.OutputBufferSize == 0 {
		cfg.OutputBufferSize = DefaultBufferSize
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = ringbuffer.DefaultRetryInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	input, err := ringbuffer.New[float32](cfg.InputBufferSize, "in")
	if err != nil {
		return nil, err
	}
	input.SetPopBlocking(true)
	input.SetRetryInterval(cfg.RetryInterval)

	output, err := ringbuffer.New[float32](cfg.OutputBufferSize, "out")
	if err != nil {
		return nil, err
	}
	output.SetPushBlocking(true)
	output.SetRetryInterval(cfg.RetryInterval)

	return &Session{
		cfg:        cfg,
		backend:    backend,
		logger:     logger.Named("session"),
		input:      input,
		output:     output,
		inScratch:  make([]float32, cfg.FramesPerBuffer*cfg.InputChannels),
		outScratch: make([]float32, cfg.FramesPerBuffer*cfg.OutputChannels),
		xrunLog:    rate.Sometimes{First: 3, Interval: 30 * time.Second},
		done:       make(chan struct{}),
	}, nil
}

func (s *Session) Config() Config { return s.cfg }

func (s *Session) Name() string { return "session" }

// Start is Run, so a Session can be scheduled as a worker.
func (s *Session) Start(ctx context.Context) error { return s.Run(ctx) }

// Input carries interleaved captured samples. The callback is its producer.
func (s *Session) Input() *ringbuffer.RingBuffer[float32] { return s.input }

// Output carries interleaved samples to play. The callback is its consumer.
func (s *Session) Output() *ringbuffer.RingBuffer[float32] { return s.output }

func (s *Session) Stats() Stats {
	return Stats{
		Callbacks:       s.callbacks.Load(),
		Overruns:        s.overruns.Load(),
		Underruns:       s.underruns.Load(),
		DroppedSamples:  s.dropped.Load(),
		SilencedSamples: s.silenced.Load(),
	}
}

// Process is the real-time callback. It never blocks and never allocates.
func (s *Session) Process(in, out [][]float32) {
	s.callbacks.Inc()

	if channels := len(in); channels > 0 {
		frames := len(in[0])
		fit := min(frames, len(s.inScratch)/channels)
		for f := 0; f < fit; f++ {
			for ch := 0; ch < channels; ch++ {
				s.inScratch[f*channels+ch] = in[ch][f]
			}
		}

		// Whole frames only, and one slot stays free so a full ring is never
		// mistaken for an empty one.
		n := min(fit, (s.input.AvailableForWrite()-1)/channels) * channels
		pushed := 0
		if n > 0 {
			pushed = s.input.Push(s.inScratch[:n])
		}
		if lost := frames*channels - pushed; lost > 0 {
			s.overruns.Inc()
			s.dropped.Add(uint64(lost))
		}
	}

	if channels := len(out); channels > 0 {
		frames := len(out[0])
		fit := min(frames, len(s.outScratch)/channels)
		want := fit * channels
		popped := s.output.Pop(s.outScratch[:want])
		clear(s.outScratch[popped:want])

		for f := 0; f < fit; f++ {
			for ch := 0; ch < channels; ch++ {
				out[ch][f] = s.outScratch[f*channels+ch]
			}
		}
		for ch := 0; ch < channels; ch++ {
			clear(out[ch][fit:])
		}

		if missing := frames*channels - popped; missing > 0 {
			s.underruns.Inc()
			s.silenced.Add(uint64(missing))
		}
	}
}

// ReadSamples waits until len(p) captured samples are available and pops
// them. It returns early when ctx is done or the session has shut down.
func (s *Session) ReadSamples(ctx context.Context, p []float32) (int, error) {
	if len(p) >= s.input.Capacity() {
		return 0, fmt.Errorf("%w: read %d from %d", ErrTooLarge, len(p), s.input.Capacity())
	}
	if err := s.wait(ctx, func() bool { return s.input.AvailableForRead() >= len(p) }); err != nil {
		return 0, err
	}
	return s.input.Pop(p), nil
}

// WriteSamples waits until p fits in the output ring and pushes it.
func (s *Session) WriteSamples(ctx context.Context, p []float32) (int, error) {
	if len(p) >= s.output.Capacity() {
		return 0, fmt.Errorf("%w: write %d into %d", ErrTooLarge, len(p), s.output.Capacity())
	}
	if err := s.wait(ctx, func() bool { return s.output.AvailableForWrite() > len(p) }); err != nil {
		return 0, err
	}
	return s.output.Push(p), nil
}

func (s *Session) wait(ctx context.Context, ready func() bool) error {
	if ready() {
		return nil
	}

	ticker := time.NewTicker(s.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return s.Err()
		case <-ticker.C:
			if ready() {
				return nil
			}
		}
	}
}

// Shutdown signals that the device went away or the session must stop. The
// first error is kept; Run returns it.
func (s *Session) Shutdown(err error) {
	s.once.Do(func() {
		if err == nil {
			err = ErrClosed
		}
		s.err = err
		close(s.done)
	})
}

func (s *Session) Done() <-chan struct{} { return s.done }

// Err is nil until Shutdown has been called.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Run opens and starts the stream and keeps it running until ctx is done
// (nil) or Shutdown is called (its error, unless it is ErrClosed).
func (s *Session) Run(ctx context.Context) error {
	defer s.Shutdown(ErrClosed)

	stream, err := s.backend.OpenStream(StreamParams{
		InputChannels:   s.cfg.InputChannels,
		OutputChannels:  s.cfg.OutputChannels,
		SampleRate:      s.cfg.SampleRate,
		FramesPerBuffer: s.cfg.FramesPerBuffer,
	}, s.Process)
	if err != nil {
		return fmt.Errorf("stream creation error: %w", err)
	}

	if err := stream.Start(); err != nil {
		return multierror.Append(fmt.Errorf("stream start error: %w", err), stream.Close())
	}

	s.logger.Info("stream started",
		zap.Int("inputs", s.cfg.InputChannels),
		zap.Int("outputs", s.cfg.OutputChannels),
		zap.Float64("sample_rate", s.cfg.SampleRate),
		zap.Int("frames", s.cfg.FramesPerBuffer))

	var stats <-chan time.Time
	if s.cfg.StatsInterval > 0 {
		ticker := time.NewTicker(s.cfg.StatsInterval)
		defer ticker.Stop()
		stats = ticker.C
	}

	var result error
	var last Stats
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-s.done:
			if s.err != ErrClosed {
				result = s.err
			}
			break loop
		case <-stats:
			last = s.report(last)
		}
	}

	merr := multierror.Append(result, stream.Stop(), stream.Close())
	s.report(last)
	s.logger.Info("stream stopped")
	return merr.ErrorOrNil()
}

func (s *Session) report(last Stats) Stats {
	cur := s.Stats()
	s.logger.Debug("stream statistics",
		zap.Uint64("callbacks", cur.Callbacks),
		zap.Uint64("overruns", cur.Overruns),
		zap.Uint64("underruns", cur.Underruns),
		zap.Int("in_buffered", s.input.AvailableForRead()),
		zap.Int("out_buffered", s.output.AvailableForRead()))

	if cur.Overruns > last.Overruns || cur.Underruns > last.Underruns {
		s.xrunLog.Do(func() {
			s.logger.Warn("xruns since last report",
				zap.Uint64("overruns", cur.Overruns-last.Overruns),
				zap.Uint64("underruns", cur.Underruns-last.Underruns),
				zap.Uint64("dropped_samples", cur.DroppedSamples-last.DroppedSamples),
				zap.Uint64("silenced_samples", cur.SilencedSamples-last.SilencedSamples))
		})
	}
	return cur
}
