package session

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortAudio drives the default input and output devices.
type PortAudio struct{}

func (PortAudio) Initialize() error { return portaudio.Initialize() }
func (PortAudio) Terminate() error  { return portaudio.Terminate() }

func (PortAudio) Devices() ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	// no default device is not an error here
	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	infos := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		info := DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			DefaultInput:      defIn != nil && d.Name == defIn.Name,
			DefaultOutput:     defOut != nil && d.Name == defOut.Name,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (PortAudio) OpenStream(params StreamParams, process ProcessFunc) (Stream, error) {
	stream, err := portaudio.OpenDefaultStream(
		params.InputChannels,
		params.OutputChannels,
		params.SampleRate,
		params.FramesPerBuffer,
		func(in, out [][]float32) { process(in, out) },
	)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
