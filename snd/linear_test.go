//go:build !cgo

package snd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearIdentity(t *testing.T) {
	buf, err := DecodePCM16(pcm(5, 10, 15, 20), 16000)
	require.NoError(t, err)

	out, err := Linear{}.Resample(buf, 16000)
	require.NoError(t, err)
	assert.Equal(t, buf.Data, out.Data)
}

func TestLinearLength(t *testing.T) {
	in := make([]int16, 480)
	for i := range in {
		in[i] = int16(i)
	}
	buf, err := DecodePCM16(pcm(in...), 48000)
	require.NoError(t, err)

	out, err := Linear{}.Resample(buf, 16000)
	require.NoError(t, err)
	assert.Len(t, out.Data, 160)
	assert.Equal(t, 16000, out.Format.SampleRate)
	// every third sample survives a 3:1 decimation of a ramp
	assert.Equal(t, 0, out.Data[0])
	assert.Equal(t, 3, out.Data[1])
	assert.Equal(t, 477, out.Data[159])
}

func TestLinearUpsampleInterpolates(t *testing.T) {
	buf, err := DecodePCM16(pcm(0, 100), 8000)
	require.NoError(t, err)

	out, err := Linear{}.Resample(buf, 16000)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 50, 100, 100}, out.Data)
}

func TestLinearEmptyResult(t *testing.T) {
	buf, err := DecodePCM16(pcm(1), 48000)
	require.NoError(t, err)

	_, err = Linear{}.Resample(buf, 16000)
	assert.ErrorIs(t, err, ErrEmptyResult)
}
