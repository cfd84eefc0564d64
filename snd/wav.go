package snd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-audio/audio"
)

const WAVHeaderSize = 44

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV wraps a 16-bit buffer in a canonical RIFF/WAVE container.
func EncodeWAV(buf *audio.IntBuffer) ([]byte, error) {
	if buf == nil || buf.Format == nil {
		return nil, errors.New("buffer has no format")
	}
	if len(buf.Data) == 0 {
		return nil, errors.New("cannot encode empty audio")
	}
	if buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf(
			"sample rate must be positive, got %d",
			buf.Format.SampleRate,
		)
	}

	channels := uint16(buf.Format.NumChannels)
	if channels == 0 {
		channels = 1
	}
	pcm := EncodePCM16(buf)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(buf.Format.SampleRate),
		ByteRate:      uint32(buf.Format.SampleRate) * uint32(channels) * bitDepth / 8,
		BlockAlign:    channels * bitDepth / 8,
		BitsPerSample: bitDepth,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	out := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(pcm)))
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	out.Write(pcm)
	return out.Bytes(), nil
}
