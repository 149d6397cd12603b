package worker

import (
	"context"
	"time"
)

type BaseEntity struct {
	IP   string
	Port string
}

type AudioEntity struct {
	SampleRate float64
	FrameSize  int
	Channels   int
}

// FrameDuration is the wall time covered by one frame of FrameSize samples
// per channel.
func (a AudioEntity) FrameDuration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(a.FrameSize) / a.SampleRate * float64(time.Second))
}

// FrameSamples is the interleaved sample count of one frame.
func (a AudioEntity) FrameSamples() int {
	return a.FrameSize * max(a.Channels, 1)
}

type Worker interface {
	Name() string
	Start(ctx context.Context) error
}

type funcWorker struct {
	name string
	fn   func(ctx context.Context) error
}

// Func turns fn into a Worker.
func Func(name string, fn func(ctx context.Context) error) Worker {
	return &funcWorker{name: name, fn: fn}
}

func (w *funcWorker) Name() string                    { return w.name }
func (w *funcWorker) Start(ctx context.Context) error { return w.fn(ctx) }
