package snd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/go-audio/audio"
)

var ErrEmptyResult = errors.New("resampling produced no samples")

// Resampler converts a buffer to another sample rate.
type Resampler interface {
	Resample(buf *audio.IntBuffer, dstRate int) (*audio.IntBuffer, error)
}

func checkRates(buf *audio.IntBuffer, dstRate int) error {
	if buf == nil || buf.Format == nil {
		return errors.New("buffer has no format")
	}
	if buf.Format.SampleRate <= 0 || dstRate <= 0 {
		return fmt.Errorf("invalid rates %d -> %d", buf.Format.SampleRate, dstRate)
	}
	return nil
}

func emptyResult(n, srcRate, dstRate int) error {
	return fmt.Errorf(
		"%w: %d samples at %d Hz -> %d Hz",
		ErrEmptyResult,
		n,
		srcRate,
		dstRate,
	)
}

// Adapter brings client audio to the recognizer's rate. Failures degrade
// to passing the original bytes through.
type Adapter struct {
	resampler Resampler
	target    int
	logger    *log.Logger
	onFailure func()
}

func NewAdapter(
	resampler Resampler,
	target int,
	logger *log.Logger,
	onFailure func(),
) *Adapter {
	if onFailure == nil {
		onFailure = func() {}
	}
	return &Adapter{
		resampler: resampler,
		target:    target,
		logger:    logger,
		onFailure: onFailure,
	}
}

func (a *Adapter) Target() int {
	return a.target
}

// Adapt returns pcm at the target rate. When srcRate already matches the
// resampler is not invoked.
func (a *Adapter) Adapt(pcm []byte, srcRate int) []byte {
	if srcRate == a.target || len(pcm) == 0 {
		return pcm
	}

	out, err := a.resample(pcm, srcRate)
	if err != nil {
		a.onFailure()
		a.logger.Error(
			"resample",
			"from", srcRate,
			"to", a.target,
			"bytes", len(pcm),
			"error", err,
		)
		return pcm
	}
	return out
}

func (a *Adapter) resample(pcm []byte, srcRate int) ([]byte, error) {
	buf, err := DecodePCM16(pcm, srcRate)
	if err != nil {
		return nil, err
	}
	res, err := a.resampler.Resample(buf, a.target)
	if err != nil {
		return nil, err
	}
	return EncodePCM16(res), nil
}
