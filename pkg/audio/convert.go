// Package audio provides PCM conversion helpers shared by the VAD, the
// transcription providers, and the session recorder. All functions assume
// 16-bit signed little-endian mono PCM, the only format on the wire.
package audio

import (
	"encoding/binary"
	"math"
)

// PCMToInt16 decodes 16-bit signed little-endian PCM bytes into samples.
// Any trailing odd byte is ignored.
func PCMToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return samples
}

// PCMToFloat32 converts 16-bit signed little-endian PCM bytes to float32
// samples normalised to [-1.0, 1.0]. Any trailing odd byte is ignored.
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// Int16ToPCM encodes samples as 16-bit signed little-endian PCM bytes.
func Int16ToPCM(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// RMS computes the root-mean-square amplitude of PCM bytes in the int16
// scale. Used by the energy-based voice classifier.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
