package session

// ProcessFunc is the real-time callback. in and out hold one non-interleaved
// slice per channel, all of the same frame count.
type ProcessFunc func(in, out [][]float32)

type StreamParams struct {
	InputChannels   int
	OutputChannels  int
	SampleRate      float64
	FramesPerBuffer int
}

type Stream interface {
	Start() error
	Stop() error
	Close() error
}

type DeviceInfo struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	DefaultInput      bool
	DefaultOutput     bool
}

// Backend is the native audio library: global lifecycle, device discovery
// and stream creation.
type Backend interface {
	Initialize() error
	Terminate() error
	Devices() ([]DeviceInfo, error)
	OpenStream(params StreamParams, process ProcessFunc) (Stream, error)
}
