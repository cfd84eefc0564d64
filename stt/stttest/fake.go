// Package stttest provides an in-memory recognizer for tests.
package stttest

import (
	"context"
	"sync"

	"node.town/hark/stt"
)

// Result is one scripted outcome of Text.
type Result struct {
	Text  string
	Err   error
	Panic any
}

// Recognition hands out a fresh Recognizer per Start. StartErr fails Start;
// Gate, if set, blocks Start until closed.
type Recognition struct {
	StartErr error
	Gate     chan struct{}

	mu      sync.Mutex
	started *Recognizer
	starts  int
}

func (r *Recognition) Start(
	ctx context.Context,
	opts stt.Options,
) (stt.SpeechRecognizer, error) {
	if r.Gate != nil {
		select {
		case <-r.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	r.started = NewRecognizer(opts)
	return r.started, nil
}

// SetStartErr changes the outcome of later Start calls.
func (r *Recognition) SetStartErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartErr = err
}

// Recognizer returns the most recently started recognizer.
func (r *Recognition) Recognizer() *Recognizer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *Recognition) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

type Recognizer struct {
	opts    stt.Options
	results chan Result
	ended   chan struct{}
	endOnce sync.Once

	mu     sync.Mutex
	audio  [][]byte
	stops  int
	closes int
}

func NewRecognizer(opts stt.Options) *Recognizer {
	return &Recognizer{
		opts:    opts,
		results: make(chan Result, 64),
		ended:   make(chan struct{}),
	}
}

// Say queues the next outcome of Text.
func (r *Recognizer) Say(res Result) {
	r.results <- res
}

// Realtime invokes the realtime hook as an engine would.
func (r *Recognizer) Realtime(text string) {
	if r.opts.OnRealtime != nil {
		r.opts.OnRealtime(text)
	}
}

func (r *Recognizer) Options() stt.Options {
	return r.opts
}

func (r *Recognizer) SendAudio(data []byte) error {
	select {
	case <-r.ended:
		return stt.ErrClosed
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio = append(r.audio, append([]byte(nil), data...))
	return nil
}

func (r *Recognizer) Text(ctx context.Context) (string, error) {
	select {
	case res := <-r.results:
		if res.Panic != nil {
			panic(res.Panic)
		}
		return res.Text, res.Err
	case <-r.ended:
		return "", stt.ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Recognizer) Stop() error {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
	r.endOnce.Do(func() { close(r.ended) })
	return nil
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	r.closes++
	r.mu.Unlock()
	r.endOnce.Do(func() { close(r.ended) })
	return nil
}

func (r *Recognizer) Audio() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.audio...)
}

func (r *Recognizer) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

func (r *Recognizer) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}
