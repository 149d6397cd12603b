package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	worker "audioring/internal"
	"audioring/internal/dsp"
	"audioring/internal/media"
)

type sampleReader interface {
	ReadSamples(ctx context.Context, p []float32) (int, error)
}

type sampleWriter interface {
	WriteSamples(ctx context.Context, p []float32) (int, error)
}

type generator interface {
	Fill(dst []float32, channels int, gain float32)
}

// quiet maps cancellation to a clean return.
func quiet(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// toneWorker keeps the output ring topped up with gen, optionally through a
// tremolo.
func toneWorker(out sampleWriter, gen generator, trem *dsp.Tremolo, frames, channels int, gain float32) worker.Worker {
	return worker.Func("tone", func(ctx context.Context) error {
		frame := make([]float32, frames*channels)
		for {
			gen.Fill(frame, channels, gain)
			if trem != nil {
				trem.ProcessFrames(frame, channels)
			}
			if _, err := out.WriteSamples(ctx, frame); err != nil {
				return quiet(err)
			}
		}
	})
}

type loopbackConfig struct {
	frames      int
	inChannels  int
	outChannels int
	sampleRate  float64
	trem        *dsp.Tremolo
}

// loopbackWorker copies captured audio to the output, remixing channels and
// logging the output level about once a second.
func loopbackWorker(in sampleReader, out sampleWriter, cfg loopbackConfig, logger *zap.Logger) worker.Worker {
	return worker.Func("loopback", func(ctx context.Context) error {
		src := make([]float32, cfg.frames*cfg.inChannels)
		dst := make([]float32, cfg.frames*cfg.outChannels)
		rms := dsp.NewRMS(int(cfg.sampleRate / 10))
		levelLog := rate.Sometimes{Interval: time.Second}

		for {
			if _, err := in.ReadSamples(ctx, src); err != nil {
				return quiet(err)
			}

			n := media.Remix(dst, src, cfg.inChannels, cfg.outChannels)
			if cfg.trem != nil {
				cfg.trem.ProcessFrames(dst[:n], cfg.outChannels)
			}
			for _, v := range dst[:n] {
				rms.Add(v)
			}
			levelLog.Do(func() {
				logger.Info("level", zap.Float64("dbfs", rms.Decibels()))
			})

			if _, err := out.WriteSamples(ctx, dst[:n]); err != nil {
				return quiet(err)
			}
		}
	})
}

// recordWorker writes captured audio to a WAV file until ctx is done or
// duration has been recorded. A zero duration records until cancelled.
func recordWorker(in sampleReader, path string, sampleRate, frames, channels int, duration time.Duration, logger *zap.Logger) worker.Worker {
	return worker.Func("record", func(ctx context.Context) (err error) {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		w, err := media.NewWAVWriter(f, sampleRate, channels)
		if err != nil {
			f.Close()
			return err
		}
		defer func() {
			if cerr := w.Close(); cerr != nil && err == nil {
				err = cerr
			}
			recorded := time.Duration(w.Samples()/int64(channels)) * time.Second / time.Duration(sampleRate)
			logger.Info("recording saved",
				zap.String("path", path),
				zap.Duration("duration", recorded),
				zap.String("size", humanize.Bytes(uint64(w.DataBytes()))))
		}()

		limit := int64(-1)
		if duration > 0 {
			limit = int64(duration.Seconds()*float64(sampleRate)) * int64(channels)
		}

		frame := make([]float32, frames*channels)
		for limit < 0 || w.Samples() < limit {
			if _, err := in.ReadSamples(ctx, frame); err != nil {
				return quiet(err)
			}

			p := frame
			if limit >= 0 {
				p = p[:min(int64(len(p)), limit-w.Samples())]
			}
			if err := w.WriteSamples(p); err != nil {
				return err
			}
		}
		return nil
	})
}

// playWorker streams src into the output ring, remixed to channels, and
// returns once drained reports the ring empty.
func playWorker(out sampleWriter, src media.Source, frames, channels int, drained func() bool, logger *zap.Logger) worker.Worker {
	return worker.Func("play", func(ctx context.Context) error {
		buf := make([]float32, frames*src.Channels())
		frame := make([]float32, frames*channels)
		var played int64

		for {
			n, err := src.ReadSamples(buf)
			if n > 0 {
				m := media.Remix(frame, buf[:n], src.Channels(), channels)
				if _, werr := out.WriteSamples(ctx, frame[:m]); werr != nil {
					return quiet(werr)
				}
				played += int64(m / channels)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("decode error: %w", err)
			}
		}

		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for !drained() {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}

		logger.Info("playback finished", zap.String("frames", humanize.Comma(played)))
		return nil
	})
}
