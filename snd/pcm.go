package snd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-audio/audio"
)

const bitDepth = 16

var ErrOddLength = errors.New("pcm16 data has odd length")

// DecodePCM16 views little-endian mono PCM16 bytes as an audio buffer.
func DecodePCM16(data []byte, sampleRate int) (*audio.IntBuffer, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(data))
	}

	samples := make([]int, len(data)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[2*i:])))
	}

	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}, nil
}

// EncodePCM16 is the inverse of DecodePCM16. Samples outside the int16
// range are clipped.
func EncodePCM16(buf *audio.IntBuffer) []byte {
	out := make([]byte, 2*len(buf.Data))
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(clip(s)))
	}
	return out
}

func clip(s int) int16 {
	switch {
	case s > math.MaxInt16:
		return math.MaxInt16
	case s < math.MinInt16:
		return math.MinInt16
	}
	return int16(s)
}

// RMS is the root mean square amplitude of the buffer.
func RMS(buf *audio.IntBuffer) float64 {
	if buf == nil || len(buf.Data) == 0 {
		return 0
	}
	var sum float64
	for _, s := range buf.Data {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(buf.Data)))
}
