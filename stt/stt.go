// Package stt defines the speech recognizer capability the server drives
// and the engines that implement it.
package stt

import (
	"context"
	"errors"
)

var (
	ErrClosed     = errors.New("recognizer closed")
	ErrBufferFull = errors.New("audio buffer full")
	ErrNoAPIKey   = errors.New("missing api key")
)

type Options struct {
	Language string
	// SampleRate of the PCM16 mono audio passed to SendAudio.
	SampleRate int
	// OnRealtime receives provisional text for the sentence in progress.
	// It is called from the recognizer's own goroutine.
	OnRealtime func(text string)
}

type SpeechRecognizer interface {
	// SendAudio queues PCM16 audio without blocking.
	SendAudio(data []byte) error
	// Text blocks until the next finished sentence is available. Once the
	// session has ended it returns an error wrapping ErrClosed.
	Text(ctx context.Context) (string, error)
	// Stop ends the audio stream; SendAudio fails with ErrClosed after it.
	// Sentences the engine still produces stay readable through Text until
	// it reports ErrClosed. Nothing waits for them: Close ends the session
	// whether or not they were read.
	Stop() error
	// Close releases the session.
	Close() error
}

type SpeechRecognition interface {
	Start(ctx context.Context, opts Options) (SpeechRecognizer, error)
}

// sentences is the hand-off from an engine's goroutine to Text callers.
type sentences struct {
	ch      chan string
	closing chan struct{}
	err     error
}

func newSentences(size int) *sentences {
	return &sentences{
		ch:      make(chan string, size),
		closing: make(chan struct{}),
	}
}

// push reports false once the session is being released.
func (s *sentences) push(text string) bool {
	select {
	case s.ch <- text:
		return true
	case <-s.closing:
		return false
	}
}

// finish is called once by the producing goroutine. A nil err means the
// session ended normally.
func (s *sentences) finish(err error) {
	s.err = err
	close(s.ch)
}

func (s *sentences) next(ctx context.Context) (string, error) {
	select {
	case text, ok := <-s.ch:
		if !ok {
			if s.err != nil {
				return "", errors.Join(ErrClosed, s.err)
			}
			return "", ErrClosed
		}
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
