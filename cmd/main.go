package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"audioring/cmd/server"
	worker "audioring/internal"
	"audioring/internal/config"
	"audioring/internal/logging"
	"audioring/internal/session"
)

type app struct {
	configPath string
	logLevel   string
	audio      audioFlags

	cfg     *config.Config
	logger  *zap.Logger
	backend session.Backend
}

// audioFlags override the audio section of the config file when set.
type audioFlags struct {
	sampleRate float64
	frameSize  int
	inputs     int
	outputs    int
}

func (f *audioFlags) register(fs *pflag.FlagSet) {
	fs.Float64Var(&f.sampleRate, "sample-rate", 48000, "stream sample rate in Hz")
	fs.IntVar(&f.frameSize, "frames", 960, "frames per buffer")
	fs.IntVar(&f.inputs, "inputs", 1, "input channels (0-2)")
	fs.IntVar(&f.outputs, "outputs", 1, "output channels (0-2)")
}

func (f *audioFlags) apply(fs *pflag.FlagSet, cfg *config.AudioConfig) {
	if fs.Changed("sample-rate") {
		cfg.SampleRate = f.sampleRate
	}
	if fs.Changed("frames") {
		cfg.FrameSize = f.frameSize
	}
	if fs.Changed("inputs") {
		cfg.InputChannels = f.inputs
	}
	if fs.Changed("outputs") {
		cfg.OutputChannels = f.outputs
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{backend: session.PortAudio{}}

	root := &cobra.Command{
		Use:          "audioring",
		Short:        "Real-time audio over lock-free ring buffers",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Flags())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	fs := root.PersistentFlags()
	fs.StringVarP(&a.configPath, "config", "c", "", "JSON configuration file")
	fs.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	a.audio.register(fs)

	root.AddCommand(
		a.serveCommand(),
		a.devicesCommand(),
		a.toneCommand(),
		a.loopbackCommand(),
		a.recordCommand(),
		a.playCommand(),
	)
	return root
}

func (a *app) setup(fs *pflag.FlagSet) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.audio.apply(fs, &cfg.Audio)
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Stream the default input to the configured peers and play what they send",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv, err := server.NewServer(a.cfg, a.backend, a.logger)
			if err != nil {
				return err
			}
			return a.runServer(cmd.Context(), srv)
		},
	}
}

func (a *app) devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if err := a.backend.Initialize(); err != nil {
				return err
			}
			defer func() {
				if terr := a.backend.Terminate(); terr != nil && err == nil {
					err = terr
				}
			}()

			devices, err := a.backend.Devices()
			if err != nil {
				return err
			}
			return printDevices(cmd.OutOrStdout(), devices)
		},
	}
}

// runCompanion runs sess with companion. The run ends when companion returns,
// the session fails or the process is interrupted.
func (a *app) runCompanion(ctx context.Context, sess *session.Session, companion worker.Worker) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	finishing := worker.Func(companion.Name(), func(ctx context.Context) error {
		defer cancel()
		return companion.Start(ctx)
	})
	return a.runServer(ctx, server.New(a.backend, a.logger, sess, finishing))
}

func (a *app) runServer(ctx context.Context, srv *server.Server) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("running, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case <-srv.Done():
	}

	if err := srv.Stop(); err != nil && !errors.Is(err, session.ErrClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// sessionFor builds a session from the config with the channel layout of a
// single command.
func (a *app) sessionFor(inputs, outputs int, sampleRate float64) (*session.Session, error) {
	cfg := *a.cfg
	cfg.Audio.InputChannels = inputs
	cfg.Audio.OutputChannels = outputs
	if sampleRate > 0 {
		cfg.Audio.SampleRate = sampleRate
	}
	return server.NewSession(&cfg, a.backend, a.logger)
}
