package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, 30000, c.Audio.InputBufferSize)
	assert.Equal(t, 500*time.Microsecond, c.Audio.RetryInterval)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"audio": {"sample_rate": 16000, "frame_size": 320, "retry_interval": "1ms"},
		"network": {"peers": ["10.0.0.2", "10.0.0.3"], "port": "5000"},
		"log": {"level": "debug"}
	}`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16000.0, c.Audio.SampleRate)
	assert.Equal(t, 320, c.Audio.FrameSize)
	assert.Equal(t, time.Millisecond, c.Audio.RetryInterval)
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, c.Network.Peers)
	assert.Equal(t, "5000", c.Network.Port)
	assert.Equal(t, "debug", c.Log.Level)

	// untouched keys keep their defaults
	assert.Equal(t, 1, c.Audio.InputChannels)
	assert.Equal(t, "4899", c.Network.ListenPort)
	assert.Equal(t, uint8(96), c.Codec.PayloadType)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	for name, doc := range map[string]string{
		"syntax":          `{"audio": `,
		"channels":        `{"audio": {"input_channels": 3}}`,
		"negative frames": `{"audio": {"frame_size": -1}}`,
		"zero frames":     `{"audio": {"frame_size": 0}}`,
		"zero buffer":     `{"audio": {"output_buffer_size": 0}}`,
		"no channels":     `{"audio": {"input_channels": 0, "output_channels": 0}}`,
		"retry interval":  `{"audio": {"retry_interval": "-1ms"}}`,
		"application":     `{"codec": {"application": "music"}}`,
		"mtu":             `{"codec": {"mtu": 12}}`,
		"jitter streams":  `{"jitter": {"max_streams": 0}}`,
		"jitter packets":  `{"jitter": {"max_packets": 0}}`,
	} {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestCheckVoice(t *testing.T) {
	t.Parallel()

	c := Default()
	require.ErrorIs(t, c.CheckVoice(), ErrNoPeers)

	c.Network.Peers = []string{"127.0.0.1"}
	require.NoError(t, c.CheckVoice())

	c.Audio.SampleRate = 44100
	require.ErrorIs(t, c.CheckVoice(), ErrOpusSampleRate)

	c.Audio.SampleRate = 16000
	for _, frames := range []int{40, 80, 160, 320, 640, 960} {
		c.Audio.FrameSize = frames
		assert.NoError(t, c.CheckVoice(), "frames %d", frames)
	}
	for _, frames := range []int{100, 256, 1000} {
		c.Audio.FrameSize = frames
		assert.ErrorIs(t, c.CheckVoice(), ErrOpusFrameSize, "frames %d", frames)
	}
}
