//go:build !cgo

package snd

import "github.com/go-audio/audio"

// NewResampler returns the default resampler. Without cgo that is Linear.
func NewResampler() Resampler {
	return Linear{}
}

// Linear resamples by linear interpolation between neighbouring samples.
type Linear struct{}

func (Linear) Resample(
	buf *audio.IntBuffer,
	dstRate int,
) (*audio.IntBuffer, error) {
	if err := checkRates(buf, dstRate); err != nil {
		return nil, err
	}
	srcRate := buf.Format.SampleRate
	if srcRate == dstRate {
		return buf, nil
	}

	n := len(buf.Data)
	m := int(int64(n) * int64(dstRate) / int64(srcRate))
	if m <= 0 {
		return nil, emptyResult(n, srcRate, dstRate)
	}

	out := make([]int, m)
	step := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= n-1 {
			out[i] = buf.Data[n-1]
			continue
		}
		frac := pos - float64(j)
		a, b := float64(buf.Data[j]), float64(buf.Data[j+1])
		out[i] = int(a + (b-a)*frac)
	}

	return &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: buf.Format.NumChannels,
			SampleRate:  dstRate,
		},
		Data:           out,
		SourceBitDepth: buf.SourceBitDepth,
	}, nil
}
