// Package frame decodes the binary audio messages clients send over the
// websocket.
//
// Layout, all integers little-endian:
//
//	[0:4)        metadata length N (uint32)
//	[4:4+N)      metadata, UTF-8 JSON object, e.g. {"sampleRate": 48000}
//	[4+N:end)    raw PCM16 samples
package frame

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	HeaderSize        = 4
	DefaultSampleRate = 16000
)

var (
	ErrTooShort       = errors.New("frame shorter than header")
	ErrMetadataLength = errors.New("metadata length exceeds frame")
	ErrMetadata       = errors.New("undecodable metadata")
)

type Frame struct {
	SampleRate uint32
	Payload    []byte
}

type Metadata struct {
	SampleRate *uint32 `json:"sampleRate,omitempty"`
}

// Decode parses one inbound message. The returned payload aliases m.
func Decode(m []byte) (Frame, error) {
	if len(m) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrTooShort, len(m))
	}

	n := uint64(binary.LittleEndian.Uint32(m[:HeaderSize]))
	if uint64(len(m)-HeaderSize) < n {
		return Frame{}, fmt.Errorf(
			"%w: declared %d, have %d",
			ErrMetadataLength,
			n,
			len(m)-HeaderSize,
		)
	}

	end := HeaderSize + int(n)
	rate, err := sampleRate(m[HeaderSize:end])
	if err != nil {
		return Frame{}, err
	}

	return Frame{SampleRate: rate, Payload: m[end:]}, nil
}

func sampleRate(raw []byte) (uint32, error) {
	if len(raw) == 0 {
		return DefaultSampleRate, nil
	}
	if !utf8.Valid(raw) {
		return 0, fmt.Errorf("%w: not utf-8", ErrMetadata)
	}

	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMetadata, err)
	}
	if md.SampleRate == nil {
		return DefaultSampleRate, nil
	}
	if *md.SampleRate == 0 {
		return 0, fmt.Errorf("%w: sampleRate must be positive", ErrMetadata)
	}
	return *md.SampleRate, nil
}

// Encode builds a message in the layout Decode expects.
func Encode(sampleRate uint32, payload []byte) ([]byte, error) {
	md, err := json.Marshal(Metadata{SampleRate: &sampleRate})
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	buf := make([]byte, HeaderSize+len(md)+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(md)))
	copy(buf[HeaderSize:], md)
	copy(buf[HeaderSize+len(md):], payload)
	return buf, nil
}
