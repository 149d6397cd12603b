package receiver

import (
	"context"
	"time"
)

// playback mixes one packet of every active stream per frame and writes the
// result to the sink. Frames with no packet at all are skipped and left to
// the device callback to fill with silence.
func (r *Receiver) playback(ctx context.Context) error {
	m := newMixer(r.FrameSamples())

	ticker := time.NewTicker(r.FrameDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if !r.mixFrame(m) {
			r.idleFrames.Inc()
			continue
		}

		if _, err := r.sink.WriteSamples(ctx, m.Float32()); err != nil {
			return err
		}
		r.frames.Inc()
	}
}

// mixFrame fills m from the jitter buffer and reports whether any stream
// contributed.
func (r *Receiver) mixFrame(m *mixer) bool {
	m.Reset()
	for _, ssrc := range r.jitter.GetActiveStreams() {
		if packet := r.jitter.GetPacket(ssrc); packet != nil {
			m.Add(packet.PCMData)
		}
	}
	return m.Streams() > 0
}
