package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// DecodePCM16LE converts raw little-endian 16-bit PCM bytes to samples.
// A trailing odd byte is ignored.
func DecodePCM16LE(pcm []byte) []int16 {
	n := len(pcm) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return samples
}

// EncodePCM16LE converts samples back to raw little-endian bytes.
func EncodePCM16LE(samples []int16) []byte {
	pcm := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(s))
	}
	return pcm
}

// Duration returns the play time of raw PCM16LE mono audio.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / 2
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// RMS returns the root-mean-square amplitude of the samples, normalised
// to [0, 1]. An empty frame has zero energy.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
