// Package audio converts between float samples, 16-bit PCM, and the
// text encoding used to move binary audio over a text transport.
package audio

import (
	"encoding/base64"
	"math"
)

// EncodeFloat32 converts float samples in [-1, 1] to signed 16-bit
// little-endian PCM. Out-of-range samples are clamped before quantizing;
// unclamped values would wrap around in 16-bit packing.
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		s := int16(math.Max(-32768, math.Min(32767, float64(f)*32768)))
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// DecodePCM16 converts interleaved signed 16-bit little-endian PCM into
// per-channel float sample slices, each sample divided by 32768.
func DecodePCM16(data []byte, channels int) [][]float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(data) / 2 / channels
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for frame := 0; frame < frames; frame++ {
		for ch := 0; ch < channels; ch++ {
			i := (frame*channels + ch) * 2
			s := int16(data[i]) | int16(data[i+1])<<8
			out[ch][frame] = float32(s) / 32768.0
		}
	}
	return out
}

// EncodeTransport encodes binary audio for a text-oriented channel.
func EncodeTransport(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeTransport reverses EncodeTransport. Round trips are exact.
func DecodeTransport(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(text)
}

// RMSEnergy computes the root-mean-square energy of s16le PCM audio.
// Returns a value between 0.0 and 1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute amplitude in s16le PCM audio.
// Returns a value between 0.0 and 1.0.
func PeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// float64 avoids overflow when negating -32768
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs / 32768.0
}
