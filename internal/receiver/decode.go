package receiver

import (
	"context"
	"fmt"

	"github.com/hraban/opus"
	"go.uber.org/zap"

	"audioring/internal/pipeline"
	rtputils "audioring/internal/utils/rtp"
)

// maxFrameSamples is 120 ms at 48 kHz, the longest Opus packet.
const maxFrameSamples = 5760

type decodeOpusStage struct {
	receiver *Receiver
}

// DecodeOpusStage decodes each packet and queues it in the jitter buffer. It
// is the last stage of the receive chain.
func (r *Receiver) DecodeOpusStage() pipeline.TypedStage[*rtputils.RTPPacket, any] {
	return &decodeOpusStage{receiver: r}
}

func (d *decodeOpusStage) Process(ctx context.Context, in <-chan *rtputils.RTPPacket) (<-chan any, error) {
	return d.receiver.decodeOpus(ctx, in)
}

func (r *Receiver) decodeOpus(_ context.Context, in <-chan *rtputils.RTPPacket) (<-chan any, error) {
	if _, err := opus.NewDecoder(int(r.SampleRate), r.Channels); err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	done := make(chan any)
	go func() {
		defer close(done)

		buffer := make([]int16, maxFrameSamples*r.Channels)
		for packet := range in {
			decoder, err := r.decoder(packet.SSRC)
			if err != nil {
				r.decodeErrors.Inc()
				continue
			}

			n, err := decoder.Decode(packet.Payload, buffer)
			if err != nil {
				r.decodeErrors.Inc()
				r.errLog.Do(func() {
					r.logger.Warn("decode failed", zap.Uint32("ssrc", packet.SSRC), zap.Error(err))
				})
				continue
			}

			packet.PCMData = append([]int16(nil), buffer[:n*r.Channels]...)
			r.jitter.AddPacket(packet)
		}
	}()

	return done, nil
}

// decoder returns the decoder of ssrc, creating it on first use. Opus
// decoders carry state, so every stream needs its own.
func (r *Receiver) decoder(ssrc uint32) (*opus.Decoder, error) {
	r.decodersMu.Lock()
	defer r.decodersMu.Unlock()

	if dec, ok := r.decoders[ssrc]; ok {
		return dec, nil
	}
	dec, err := opus.NewDecoder(int(r.SampleRate), r.Channels)
	if err != nil {
		return nil, err
	}
	r.decoders[ssrc] = dec
	r.logger.Info("new stream", zap.Uint32("ssrc", ssrc))
	return dec, nil
}
