package sender

import (
	"context"

	"go.uber.org/zap"

	"audioring/internal/pipeline"
	rtputils "audioring/internal/utils/rtp"
)

type packAsRTPStage struct {
	sender *Sender
}

func (s *Sender) PackAsRTPStage() pipeline.TypedStage[[]byte, []byte] {
	return &packAsRTPStage{sender: s}
}

func (c *packAsRTPStage) Process(ctx context.Context, in <-chan []byte) (<-chan []byte, error) {
	return c.sender.packAsRTP(ctx, in)
}

func (s *Sender) rtpConfig() rtputils.RTPConfig {
	cfg := rtputils.DefaultOpusConfig()
	if s.cfg.PayloadType != 0 {
		cfg.PayloadType = s.cfg.PayloadType
	}
	if s.cfg.MTU != 0 {
		cfg.Mtu = s.cfg.MTU
	}
	return cfg
}

func (s *Sender) packAsRTP(ctx context.Context, in <-chan []byte) (<-chan []byte, error) {
	out := make(chan []byte, 20)
	cfg := s.rtpConfig()
	p := rtputils.NewOpusPacketizer(cfg)

	// Opus RTP timestamps always run at 48 kHz.
	step := int(float64(s.FrameSize) * float64(cfg.ClockRate) / s.SampleRate)

	s.logger.Debug("rtp stream", zap.Uint32("ssrc", cfg.SSRC), zap.Uint8("payload_type", cfg.PayloadType))

	go func() {
		defer close(out)

		for data := range in {
			packets, err := p.Packetize(data, step)
			if err != nil {
				s.errLog.Do(func() { s.logger.Warn("packetize failed", zap.Error(err)) })
				continue
			}

			for _, packet := range packets {
				select {
				case <-ctx.Done():
					return
				case out <- packet:
				}
			}
		}
	}()
	return out, nil
}
