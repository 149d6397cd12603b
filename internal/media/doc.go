// Package media reads audio files into interleaved float32 samples and writes
// captured samples to WAV.
//
// Supported inputs are picked by file extension:
//   - .wav (PCM, any bit depth go-audio/wav understands)
//   - .mp3 (always decoded to 16-bit stereo)
//   - .ogg, .oga (Vorbis)
//
// Samples are normalized to [-1, 1]. ReadSamples returns io.EOF once the
// stream is exhausted and no samples were read.
package media
