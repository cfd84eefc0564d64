package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedTranscriber struct {
	mu      sync.Mutex
	replies []string
	fail    error
	wavs    [][]byte
}

func (s *scriptedTranscriber) Transcribe(
	ctx context.Context,
	wav []byte,
	partial func(string),
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wavs = append(s.wavs, wav)
	if s.fail != nil {
		err := s.fail
		s.fail = nil
		return "", err
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	partial(reply[:len(reply)/2])
	partial(reply)
	return reply, nil
}

func (s *scriptedTranscriber) segments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.wavs)
}

func tone(samples int, amplitude int16) []byte {
	out := make([]byte, 2*samples)
	for i := 0; i < samples; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

func newTestGemini(tr SegmentTranscriber) *Gemini {
	g := NewGemini(GeminiConfig{
		Model:      "test",
		Segment:    100 * time.Millisecond,
		SilenceRMS: 100,
	}, quietLogger())
	g.dial = func(context.Context) (SegmentTranscriber, func() error, error) {
		return tr, func() error { return nil }, nil
	}
	return g
}

func TestGeminiSegments(t *testing.T) {
	tr := &scriptedTranscriber{replies: []string{"first segment", "tail"}}
	g := newTestGemini(tr)

	var mu sync.Mutex
	var realtime []string
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := g.Start(ctx, Options{
		Language:   "en",
		SampleRate: 1000,
		OnRealtime: func(text string) {
			mu.Lock()
			defer mu.Unlock()
			realtime = append(realtime, text)
		},
	})
	require.NoError(t, err)

	// 100ms at 1kHz is 100 samples per segment
	require.NoError(t, rec.SendAudio(tone(40, 1000)))
	require.NoError(t, rec.SendAudio(tone(60, 1000)))

	text, err := rec.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first segment", text)

	// silence is never sent to the model
	require.NoError(t, rec.SendAudio(tone(100, 0)))
	require.NoError(t, rec.SendAudio(tone(30, 1000)))
	require.NoError(t, rec.Stop())

	text, err = rec.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tail", text)

	_, err = rec.Text(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, rec.Close())

	assert.Equal(t, 2, tr.segments())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first ", "first segment", "ta", "tail"}, realtime)
}

func TestGeminiFailedSegmentDoesNotEndSession(t *testing.T) {
	tr := &scriptedTranscriber{
		fail:    errors.New("503"),
		replies: []string{"second"},
	}
	g := newTestGemini(tr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := g.Start(ctx, Options{SampleRate: 1000})
	require.NoError(t, err)
	defer rec.Close()

	require.NoError(t, rec.SendAudio(tone(200, 1000)))

	text, err := rec.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", text)
}

func TestGeminiCloseWithoutStop(t *testing.T) {
	g := newTestGemini(&scriptedTranscriber{})

	rec, err := g.Start(context.Background(), Options{SampleRate: 16000})
	require.NoError(t, err)

	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	assert.ErrorIs(t, rec.SendAudio([]byte{0, 0}), ErrClosed)
}

func TestGeminiRequiresKey(t *testing.T) {
	g := NewGemini(GeminiConfig{Model: "m"}, quietLogger())
	_, err := g.Start(context.Background(), Options{SampleRate: 16000})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
