// Package dsp holds the small signal generators and effects used by the
// demo commands. Nothing here is safe for concurrent use.
package dsp

import "math"

// Sine is a phase-accumulating sine oscillator with output in [-1, 1].
type Sine struct {
	sampleRate float64
	frequency  float64
	phase      float64
	delta      float64
}

func NewSine(sampleRate, frequency float64) *Sine {
	s := &Sine{sampleRate: sampleRate}
	s.SetFrequency(frequency)
	return s
}

func (s *Sine) SetFrequency(frequency float64) {
	s.frequency = frequency
	if s.sampleRate > 0 {
		s.delta = frequency / s.sampleRate
	}
}

func (s *Sine) Frequency() float64 { return s.frequency }
func (s *Sine) Reset()             { s.phase = 0 }

func (s *Sine) Next() float32 {
	v := float32(math.Sin(2 * math.Pi * s.phase))
	s.phase += s.delta
	if s.phase >= 1 {
		s.phase -= math.Floor(s.phase)
	}
	return v
}

// Fill writes len(dst)/channels frames of interleaved samples scaled by gain,
// the same value on every channel.
func (s *Sine) Fill(dst []float32, channels int, gain float32) {
	channels = max(channels, 1)
	for f := 0; f+channels <= len(dst); f += channels {
		v := s.Next() * gain
		for ch := 0; ch < channels; ch++ {
			dst[f+ch] = v
		}
	}
}

// Tremolo modulates the amplitude with a low frequency sine. Depth 0 leaves
// the signal untouched, depth 1 swings the gain between 0 and 1.
type Tremolo struct {
	lfo   *Sine
	depth float32
}

func NewTremolo(sampleRate, rate float64, depth float32) *Tremolo {
	return &Tremolo{
		lfo:   NewSine(sampleRate, rate),
		depth: min(max(depth, 0), 1),
	}
}

func (t *Tremolo) Process(in float32) float32 {
	mod := (t.lfo.Next()+1)/2*t.depth + 1 - t.depth
	return in * mod
}

// ProcessFrames applies one modulation step per interleaved frame.
func (t *Tremolo) ProcessFrames(buf []float32, channels int) {
	channels = max(channels, 1)
	for f := 0; f+channels <= len(buf); f += channels {
		mod := (t.lfo.Next()+1)/2*t.depth + 1 - t.depth
		for ch := 0; ch < channels; ch++ {
			buf[f+ch] *= mod
		}
	}
}

// MIDIToFrequency converts a MIDI note number to Hz (A4 = 69 = 440 Hz).
func MIDIToFrequency(note float64) float64 {
	return 440 * math.Pow(2, (note-69)/12)
}

// Synth plays a looping sequence of MIDI notes, each held for noteFrames.
type Synth struct {
	osc        *Sine
	notes      []float64
	noteFrames int
	frame      int
	index      int
}

func NewSynth(sampleRate float64, noteFrames int, notes ...float64) *Synth {
	if len(notes) == 0 {
		notes = []float64{69}
	}
	s := &Synth{
		osc:        NewSine(sampleRate, MIDIToFrequency(notes[0])),
		notes:      notes,
		noteFrames: max(noteFrames, 1),
	}
	return s
}

func (s *Synth) Next() float32 {
	if s.frame == s.noteFrames {
		s.frame = 0
		s.index = (s.index + 1) % len(s.notes)
		s.osc.SetFrequency(MIDIToFrequency(s.notes[s.index]))
	}
	s.frame++
	return s.osc.Next()
}

func (s *Synth) Fill(dst []float32, channels int, gain float32) {
	channels = max(channels, 1)
	for f := 0; f+channels <= len(dst); f += channels {
		v := s.Next() * gain
		for ch := 0; ch < channels; ch++ {
			dst[f+ch] = v
		}
	}
}

// MinusInfinityDB is the floor reported for silence.
const MinusInfinityDB = -100.0

// RMS tracks the root mean square level of the last window samples.
type RMS struct {
	history []float32
	pos     int
	sum     float64
}

func NewRMS(window int) *RMS {
	return &RMS{history: make([]float32, max(window, 1))}
}

func (r *RMS) Add(x float32) {
	old := r.history[r.pos]
	r.sum += float64(x)*float64(x) - float64(old)*float64(old)
	r.history[r.pos] = x
	r.pos = (r.pos + 1) % len(r.history)
}

func (r *RMS) Value() float64 {
	return math.Sqrt(max(r.sum, 0) / float64(len(r.history)))
}

// Decibels returns Value in dBFS, clamped at MinusInfinityDB.
func (r *RMS) Decibels() float64 {
	return AmplitudeToDecibels(r.Value())
}

func AmplitudeToDecibels(gain float64) float64 {
	if gain <= 0 {
		return MinusInfinityDB
	}
	return max(MinusInfinityDB, 20*math.Log10(gain))
}
