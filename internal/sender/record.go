package sender

import (
	"context"

	"go.uber.org/zap"

	"audioring/internal/pipeline"
)

type recordStage struct {
	sender *Sender
}

// CaptureStage pulls one frame at a time from the input ring. It ignores
// its input channel.
func (s *Sender) CaptureStage() pipeline.TypedStage[any, []float32] {
	return &recordStage{sender: s}
}

func (r *recordStage) Process(ctx context.Context, _ <-chan any) (<-chan []float32, error) {
	return r.sender.record(ctx)
}

func (s *Sender) record(ctx context.Context) (<-chan []float32, error) {
	out := make(chan []float32, 20)
	frameSamples := s.FrameSamples()

	go func() {
		defer close(out)

		for {
			frame := make([]float32, frameSamples)
			if _, err := s.source.ReadSamples(ctx, frame); err != nil {
				if ctx.Err() == nil {
					s.logger.Error("capture failed", zap.Error(err))
					s.captureErr.Store(err)
				}
				return
			}
			s.frames.Inc()

			select {
			case <-ctx.Done():
				return
			case out <- frame:
			}
		}
	}()
	return out, nil
}
