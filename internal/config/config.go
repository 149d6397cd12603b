// Package config loads the JSON configuration file.
package config

import (
	"errors"
	"fmt"
	"time"

	ucfg "github.com/elastic/go-ucfg"
	ucfgjson "github.com/elastic/go-ucfg/json"

	"audioring/internal/logging"
)

var (
	ErrOpusSampleRate = errors.New("sample rate not supported by opus")
	ErrOpusFrameSize  = errors.New("frame size not supported by opus")
	ErrNoPeers        = errors.New("no peers configured")
)

type Config struct {
	Audio   AudioConfig    `config:"audio"`
	Network NetworkConfig  `config:"network"`
	Codec   CodecConfig    `config:"codec"`
	Jitter  JitterConfig   `config:"jitter"`
	Log     logging.Config `config:"log"`
}

type AudioConfig struct {
	SampleRate       float64       `config:"sample_rate" validate:"nonzero,positive"`
	FrameSize        int           `config:"frame_size" validate:"nonzero,positive"`
	InputChannels    int           `config:"input_channels" validate:"min=0,max=2"`
	OutputChannels   int           `config:"output_channels" validate:"min=0,max=2"`
	InputBufferSize  int           `config:"input_buffer_size" validate:"nonzero,positive"`
	OutputBufferSize int           `config:"output_buffer_size" validate:"nonzero,positive"`
	RetryInterval    time.Duration `config:"retry_interval"`
	StatsInterval    time.Duration `config:"stats_interval"`
}

type NetworkConfig struct {
	Peers       []string      `config:"peers"`
	Port        string        `config:"port"`
	ListenPort  string        `config:"listen_port"`
	ReadTimeout time.Duration `config:"read_timeout"`
}

type CodecConfig struct {
	Bitrate     int    `config:"bitrate" validate:"nonzero,positive"`
	PayloadType uint8  `config:"payload_type"`
	MTU         uint16 `config:"mtu"`
	Application string `config:"application"`
}

type JitterConfig struct {
	BufferTime    time.Duration `config:"buffer_time"`
	MaxStreams    int           `config:"max_streams" validate:"nonzero,positive"`
	MaxPackets    int           `config:"max_packets" validate:"nonzero,positive"`
	StreamTimeout time.Duration `config:"stream_timeout"`
}

func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:       48000,
			FrameSize:        960,
			InputChannels:    1,
			OutputChannels:   1,
			InputBufferSize:  30000,
			OutputBufferSize: 30000,
			RetryInterval:    500 * time.Microsecond,
			StatsInterval:    10 * time.Second,
		},
		Network: NetworkConfig{
			Port:        "4899",
			ListenPort:  "4899",
			ReadTimeout: 100 * time.Millisecond,
		},
		Codec: CodecConfig{
			Bitrate:     32000,
			PayloadType: 96,
			MTU:         1200,
			Application: "voip",
		},
		Jitter: JitterConfig{
			BufferTime:    30 * time.Millisecond,
			MaxStreams:    5,
			MaxPackets:    100,
			StreamTimeout: 10 * time.Second,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads path on top of the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	raw, err := ucfgjson.NewConfigWithFile(path, ucfg.PathSep("."))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := raw.Unpack(c); err != nil {
		return nil, fmt.Errorf("%s parsing error: %w", path, err)
	}
	return c, nil
}

// Parse is Load for an in-memory JSON document.
func Parse(data []byte) (*Config, error) {
	c := Default()
	raw, err := ucfgjson.NewConfig(data, ucfg.PathSep("."))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := raw.Unpack(c); err != nil {
		return nil, fmt.Errorf("failed to unpack config: %w", err)
	}
	return c, nil
}

// Validate is called by ucfg after unpacking.
func (c *Config) Validate() error {
	if c.Audio.RetryInterval <= 0 {
		return fmt.Errorf("audio.retry_interval must be positive, got %s", c.Audio.RetryInterval)
	}
	if c.Audio.InputChannels == 0 && c.Audio.OutputChannels == 0 {
		return errors.New("audio needs at least one input or output channel")
	}
	switch c.Codec.Application {
	case "voip", "audio", "lowdelay":
	default:
		return fmt.Errorf("codec.application %q is not one of voip, audio, lowdelay", c.Codec.Application)
	}
	if c.Codec.MTU != 0 && c.Codec.MTU <= 12 {
		return fmt.Errorf("codec.mtu %d leaves no room for an RTP payload", c.Codec.MTU)
	}
	return nil
}

// CheckVoice verifies the settings the network voice path depends on.
func (c *Config) CheckVoice() error {
	switch c.Audio.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("%w: %v", ErrOpusSampleRate, c.Audio.SampleRate)
	}

	// 2.5, 5, 10, 20, 40 or 60 ms
	tenths := c.Audio.FrameSize * 10000 / int(c.Audio.SampleRate)
	if c.Audio.FrameSize*10000%int(c.Audio.SampleRate) != 0 {
		return fmt.Errorf("%w: %d samples", ErrOpusFrameSize, c.Audio.FrameSize)
	}
	switch tenths {
	case 25, 50, 100, 200, 400, 600:
	default:
		return fmt.Errorf("%w: %d samples", ErrOpusFrameSize, c.Audio.FrameSize)
	}

	if len(c.Network.Peers) == 0 {
		return ErrNoPeers
	}
	return nil
}
