package frame

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(metadata string, payload []byte) []byte {
	m := make([]byte, HeaderSize, HeaderSize+len(metadata)+len(payload))
	binary.LittleEndian.PutUint32(m, uint32(len(metadata)))
	m = append(m, metadata...)
	return append(m, payload...)
}

func TestDecode(t *testing.T) {
	audio := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		name    string
		msg     []byte
		rate    uint32
		payload []byte
		err     error
	}{
		{
			name:    "empty metadata uses default rate",
			msg:     message("", audio),
			rate:    DefaultSampleRate,
			payload: audio,
		},
		{
			name:    "declared rate",
			msg:     message(`{"sampleRate":48000}`, audio),
			rate:    48000,
			payload: audio,
		},
		{
			name:    "object without sampleRate",
			msg:     message(`{"channels":1}`, audio),
			rate:    DefaultSampleRate,
			payload: audio,
		},
		{
			name:    "empty payload is valid",
			msg:     message(`{"sampleRate":44100}`, nil),
			rate:    44100,
			payload: []byte{},
		},
		{
			name: "shorter than header",
			msg:  []byte{0, 0, 0},
			err:  ErrTooShort,
		},
		{
			name: "nothing at all",
			msg:  nil,
			err:  ErrTooShort,
		},
		{
			name: "metadata length past the end",
			msg: func() []byte {
				m := make([]byte, 50)
				binary.LittleEndian.PutUint32(m, 1000)
				return m
			}(),
			err: ErrMetadataLength,
		},
		{
			name: "metadata length near uint32 max",
			msg:  []byte{0xff, 0xff, 0xff, 0xff, 1, 2},
			err:  ErrMetadataLength,
		},
		{
			name: "metadata is not json",
			msg:  message("sampleRate=8000", audio),
			err:  ErrMetadata,
		},
		{
			name: "metadata is not an object",
			msg:  message(`[16000]`, audio),
			err:  ErrMetadata,
		},
		{
			name: "zero sample rate",
			msg:  message(`{"sampleRate":0}`, audio),
			err:  ErrMetadata,
		},
		{
			name: "negative sample rate",
			msg:  message(`{"sampleRate":-8000}`, audio),
			err:  ErrMetadata,
		},
		{
			name: "invalid utf-8",
			msg:  message("\xff\xfe", audio),
			err:  ErrMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.msg)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				assert.Nil(t, f.Payload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rate, f.SampleRate)
			assert.Equal(t, tt.payload, f.Payload)
		})
	}
}

func TestDecodeRecoversExactPayload(t *testing.T) {
	for n := 0; n < 64; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i * 7)
		}
		msg, err := Encode(22050, payload)
		require.NoError(t, err)

		f, err := Decode(msg)
		require.NoError(t, err)
		assert.Equal(t, uint32(22050), f.SampleRate)
		assert.Equal(t, payload, f.Payload)
	}
}

func TestZeroLengthPrefixWithTenBytesOfAudio(t *testing.T) {
	msg := append([]byte{0, 0, 0, 0}, make([]byte, 10)...)

	f, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, uint32(16000), f.SampleRate)
	assert.Len(t, f.Payload, 10)
}
