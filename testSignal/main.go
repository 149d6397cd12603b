// testSignal sends an RTP/Opus sine tone to a receiver.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/hraban/opus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"audioring/internal/dsp"
	"audioring/internal/media"
	rtputils "audioring/internal/utils/rtp"
)

const (
	sampleRate = 48000
	frameSize  = 960
)

func main() {
	var (
		addr      = pflag.StringP("addr", "a", "localhost:4899", "receiver address")
		frequency = pflag.Float64P("frequency", "f", 440, "tone frequency in Hz")
		packets   = pflag.IntP("packets", "n", 50, "packets to send, 0 sends until interrupted")
		gain      = pflag.Float32P("gain", "g", 0.5, "tone gain")
	)
	pflag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger, *addr, *frequency, *gain, *packets); err != nil {
		logger.Error("test signal failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger, addr string, frequency float64, gain float32, packets int) error {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("UDP dial error to %s: %w", addr, err)
	}
	defer conn.Close()

	encoder, err := opus.NewEncoder(sampleRate, 1, opus.AppAudio)
	if err != nil {
		return fmt.Errorf("failed to create opus encoder: %w", err)
	}

	cfg := rtputils.DefaultOpusConfig()
	packetizer := rtputils.NewOpusPacketizer(cfg)
	sine := dsp.NewSine(sampleRate, frequency)

	frame := make([]float32, frameSize)
	pcm := make([]int16, frameSize)
	data := make([]byte, 1275)

	logger.Info("sending tone",
		zap.String("addr", addr),
		zap.Float64("frequency", frequency),
		zap.Uint32("ssrc", cfg.SSRC))

	ticker := time.NewTicker(frameSize * time.Second / sampleRate)
	defer ticker.Stop()

	for sent := 0; packets == 0 || sent < packets; sent++ {
		sine.Fill(frame, 1, gain)
		for i, v := range frame {
			pcm[i] = media.Float32ToInt16(v)
		}

		n, err := encoder.Encode(pcm, data)
		if err != nil {
			return fmt.Errorf("encode error: %w", err)
		}
		out, err := packetizer.Packetize(data[:n], frameSize)
		if err != nil {
			return err
		}
		for _, p := range out {
			if _, err := conn.Write(p); err != nil {
				logger.Warn("write packet failed", zap.Error(err))
			}
		}
		logger.Debug("sent packet", zap.Int("n", sent), zap.Int("bytes", n))

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
