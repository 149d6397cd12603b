package receiver

import (
	"context"

	"go.uber.org/zap"

	"audioring/internal/pipeline"
	rtputils "audioring/internal/utils/rtp"
)

type unpackRTPStage struct {
	receiver *Receiver
}

func (r *Receiver) UnpackRTPStage() pipeline.TypedStage[[]byte, *rtputils.RTPPacket] {
	return &unpackRTPStage{receiver: r}
}

func (c *unpackRTPStage) Process(ctx context.Context, in <-chan []byte) (<-chan *rtputils.RTPPacket, error) {
	return c.receiver.unpackRTP(ctx, in)
}

func (r *Receiver) unpackRTP(ctx context.Context, in <-chan []byte) (<-chan *rtputils.RTPPacket, error) {
	out := make(chan *rtputils.RTPPacket, 20)
	depacketizer := rtputils.NewOpusDepacketizer(r.cfg.PayloadType)

	go func() {
		defer func() {
			st := depacketizer.GetStats()
			r.logger.Debug("rtp reception",
				zap.Uint32("received", st.PacketsReceived),
				zap.Uint32("lost", st.PacketsLost),
				zap.Uint32("out_of_order", st.OutOfOrder),
				zap.Uint32("bad", st.BadPackets))
			close(out)
		}()

		for data := range in {
			packet, err := depacketizer.Depacketize(data)
			if err != nil {
				r.badPackets.Inc()
				r.errLog.Do(func() { r.logger.Warn("depacketize failed", zap.Error(err)) })
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- packet:
			}
		}
	}()
	return out, nil
}
