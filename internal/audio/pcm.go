package audio

import "fmt"

// BytesToSamples converts little-endian PCM-16 bytes to samples.
// The input length must be even; frames with a trailing half-sample
// are rejected as malformed.
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm data length must be even, got %d bytes", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// SamplesToBytes converts PCM-16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(uint16(s) >> 8)
	}
	return data
}
