package receiver

import "audioring/internal/media"

// mixer sums decoded frames of several streams with int16 saturation.
type mixer struct {
	frame   []int16
	out     []float32
	streams int
}

func newMixer(samples int) *mixer {
	return &mixer{
		frame: make([]int16, samples),
		out:   make([]float32, samples),
	}
}

func (m *mixer) Reset() {
	clear(m.frame)
	m.streams = 0
}

// Add mixes pcm into the frame. Samples beyond the frame are dropped; a
// short pcm leaves the tail untouched.
func (m *mixer) Add(pcm []int16) {
	mixAudio(m.frame, pcm)
	m.streams++
}

func (m *mixer) Streams() int { return m.streams }

// Float32 converts the mixed frame for the output ring. The slice is reused.
func (m *mixer) Float32() []float32 {
	for i, s := range m.frame {
		m.out[i] = media.Int16ToFloat32(s)
	}
	return m.out
}

func mixAudio(output, input []int16) {
	limit := min(len(input), len(output))

	for i := range limit {
		mixed := int32(output[i]) + int32(input[i])

		if mixed > 32767 {
			mixed = 32767
		} else if mixed < -32768 {
			mixed = -32768
		}

		output[i] = int16(mixed)
	}
}
