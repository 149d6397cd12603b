package sender

import (
	"context"
	"fmt"

	"github.com/hraban/opus"
	"go.uber.org/zap"

	"audioring/internal/pipeline"
)

// maxOpusPacket is the largest packet a single Opus frame can produce.
const maxOpusPacket = 1275

type encodeOpusStage struct {
	sender *Sender
}

func (s *Sender) EncodeOpusStage() pipeline.TypedStage[[]int16, []byte] {
	return &encodeOpusStage{sender: s}
}

func (c *encodeOpusStage) Process(ctx context.Context, in <-chan []int16) (<-chan []byte, error) {
	return c.sender.encodeOpus(ctx, in)
}

func (s *Sender) encodeOpus(ctx context.Context, in <-chan []int16) (<-chan []byte, error) {
	app, err := application(s.cfg.Application)
	if err != nil {
		return nil, err
	}

	encoder, err := opus.NewEncoder(int(s.SampleRate), s.Channels, app)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if s.cfg.Bitrate > 0 {
		if err := encoder.SetBitrate(s.cfg.Bitrate); err != nil {
			return nil, fmt.Errorf("failed to set bitrate %d: %w", s.cfg.Bitrate, err)
		}
	}

	out := make(chan []byte, 20)
	go func() {
		defer close(out)

		encoded := make([]byte, maxOpusPacket)
		for data := range in {
			n, err := encoder.Encode(data, encoded)
			if err != nil {
				s.errLog.Do(func() { s.logger.Warn("encode failed", zap.Error(err)) })
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- append([]byte(nil), encoded[:n]...):
			}
		}
	}()

	return out, nil
}
