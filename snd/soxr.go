//go:build cgo

package snd

import (
	"bytes"
	"fmt"

	"github.com/go-audio/audio"
	soxr "github.com/zaf/resample"
)

// NewResampler returns the default resampler, Soxr.
func NewResampler() Resampler {
	return Soxr{}
}

// Soxr resamples through libsoxr at high quality. Each call runs its own
// resampler and flushes it, so frames do not share filter state.
type Soxr struct{}

func (Soxr) Resample(
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
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}

	var out bytes.Buffer
	r, err := soxr.New(&out, float64(srcRate), float64(dstRate), channels, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	if _, err := r.Write(EncodePCM16(buf)); err != nil {
		r.Close()
		return nil, fmt.Errorf("resampler write: %w", err)
	}
	// Close flushes the samples still held by the filter into out.
	if err := r.Close(); err != nil {
		return nil, fmt.Errorf("resampler flush: %w", err)
	}

	res, err := DecodePCM16(out.Bytes(), dstRate)
	if err != nil {
		return nil, err
	}
	if len(res.Data) == 0 {
		return nil, emptyResult(len(buf.Data), srcRate, dstRate)
	}
	res.Format.NumChannels = channels
	return res, nil
}
