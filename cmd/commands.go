package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"audioring/internal/dsp"
	"audioring/internal/media"
	"audioring/internal/session"
)

var errNoChannels = errors.New("command needs at least one channel")

func (a *app) toneCommand() *cobra.Command {
	var (
		frequency   float64
		gain        float32
		notes       []float64
		noteLength  time.Duration
		tremoloRate float64
		depth       float32
	)

	cmd := &cobra.Command{
		Use:   "tone",
		Short: "Play a sine tone, or a looping note sequence with --notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outputs := a.cfg.Audio.OutputChannels
			if outputs == 0 {
				return fmt.Errorf("%w: outputs", errNoChannels)
			}
			sess, err := a.sessionFor(0, outputs, 0)
			if err != nil {
				return err
			}
			rate := a.cfg.Audio.SampleRate

			var gen generator = dsp.NewSine(rate, frequency)
			if len(notes) > 0 {
				gen = dsp.NewSynth(rate, int(noteLength.Seconds()*rate), notes...)
			}
			var trem *dsp.Tremolo
			if tremoloRate > 0 {
				trem = dsp.NewTremolo(rate, tremoloRate, depth)
			}

			return a.runCompanion(cmd.Context(), sess,
				toneWorker(sess, gen, trem, a.cfg.Audio.FrameSize, outputs, gain))
		},
	}

	fs := cmd.Flags()
	fs.Float64Var(&frequency, "frequency", 440, "tone frequency in Hz")
	fs.Float32Var(&gain, "gain", 0.2, "output gain")
	fs.Float64SliceVar(&notes, "notes", nil, "MIDI notes to cycle through")
	fs.DurationVar(&noteLength, "note-length", 250*time.Millisecond, "length of each note")
	fs.Float64Var(&tremoloRate, "tremolo", 0, "tremolo rate in Hz, 0 disables it")
	fs.Float32Var(&depth, "depth", 0.5, "tremolo depth between 0 and 1")
	return cmd
}

func (a *app) loopbackCommand() *cobra.Command {
	var (
		tremoloRate float64
		depth       float32
	)

	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Play the default input on the default output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			audio := a.cfg.Audio
			if audio.InputChannels == 0 || audio.OutputChannels == 0 {
				return fmt.Errorf("%w: inputs and outputs", errNoChannels)
			}
			sess, err := a.sessionFor(audio.InputChannels, audio.OutputChannels, 0)
			if err != nil {
				return err
			}

			cfg := loopbackConfig{
				frames:      audio.FrameSize,
				inChannels:  audio.InputChannels,
				outChannels: audio.OutputChannels,
				sampleRate:  audio.SampleRate,
			}
			if tremoloRate > 0 {
				cfg.trem = dsp.NewTremolo(audio.SampleRate, tremoloRate, depth)
			}
			return a.runCompanion(cmd.Context(), sess, loopbackWorker(sess, sess, cfg, a.logger))
		},
	}

	fs := cmd.Flags()
	fs.Float64Var(&tremoloRate, "tremolo", 5, "tremolo rate in Hz, 0 disables it")
	fs.Float32Var(&depth, "depth", 0.5, "tremolo depth between 0 and 1")
	return cmd
}

func (a *app) recordCommand() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "record <file.wav>",
		Short: "Record the default input to a 16-bit WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audio := a.cfg.Audio
			if audio.InputChannels == 0 {
				return fmt.Errorf("%w: inputs", errNoChannels)
			}
			sess, err := a.sessionFor(audio.InputChannels, 0, 0)
			if err != nil {
				return err
			}
			return a.runCompanion(cmd.Context(), sess, recordWorker(sess, args[0],
				int(audio.SampleRate), audio.FrameSize, audio.InputChannels, duration, a.logger))
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long, 0 records until interrupted")
	return cmd
}

func (a *app) playCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "play <file>",
		Short: "Play a WAV, MP3 or Ogg Vorbis file on the default output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputs := a.cfg.Audio.OutputChannels
			if outputs == 0 {
				return fmt.Errorf("%w: outputs", errNoChannels)
			}

			src, err := media.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			// the stream runs at the file rate, so no resampling is needed
			sess, err := a.sessionFor(0, outputs, float64(src.SampleRate()))
			if err != nil {
				return err
			}
			drained := func() bool { return sess.Output().AvailableForRead() == 0 }

			return a.runCompanion(cmd.Context(), sess,
				playWorker(sess, src, a.cfg.Audio.FrameSize, outputs, drained, a.logger))
		},
	}
}

func printDevices(w io.Writer, devices []session.DeviceInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tHOST API\tIN\tOUT\tRATE\tDEFAULT")
	for _, d := range devices {
		def := ""
		switch {
		case d.DefaultInput && d.DefaultOutput:
			def = "in/out"
		case d.DefaultInput:
			def = "in"
		case d.DefaultOutput:
			def = "out"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.0f\t%s\n",
			d.Name, d.HostAPI, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate, def)
	}
	return tw.Flush()
}
