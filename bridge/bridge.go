// Package bridge runs the recognizer on its own goroutine and turns what
// it hears into hub events.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"node.town/hark/hub"
	"node.town/hark/metrics"
	"node.town/hark/stt"
)

var (
	ErrNotReady = errors.New("recognizer not ready")
	ErrStopped  = errors.New("bridge stopped")
)

const (
	failurePause      = 100 * time.Millisecond
	defaultRestart    = 250 * time.Millisecond
	maxRestartBackoff = 5 * time.Second
)

// Publisher schedules an event for broadcast without waiting for it.
type Publisher interface {
	Publish(ev hub.Event) bool
}

// Sink stores final sentences.
type Sink interface {
	Save(ctx context.Context, text string) error
}

type Config struct {
	Language   string
	SampleRate int
	// Normalize, if set, rewrites final sentences before they are stored
	// and broadcast.
	Normalize func(string) string
	Sinks     []Sink

	// RestartBackoff is the first pause before reconnecting a recognizer
	// session that ended without Stop. It doubles per failed attempt.
	RestartBackoff time.Duration
}

type Bridge struct {
	engine    stt.SpeechRecognition
	publisher Publisher
	config    Config
	logger    *log.Logger
	metrics   *metrics.Metrics

	ready     chan struct{}
	readyOnce sync.Once
	initErr   error

	mu       sync.Mutex
	rec      stt.SpeechRecognizer
	stopping bool

	running  atomic.Bool
	started  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

func New(
	engine stt.SpeechRecognition,
	publisher Publisher,
	config Config,
	logger *log.Logger,
	m *metrics.Metrics,
) *Bridge {
	if config.Normalize == nil {
		config.Normalize = func(s string) string { return s }
	}
	if config.RestartBackoff <= 0 {
		config.RestartBackoff = defaultRestart
	}
	return &Bridge{
		engine:    engine,
		publisher: publisher,
		config:    config,
		logger:    logger,
		metrics:   m,
		ready:     make(chan struct{}),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the worker. Only the first call has any effect.
func (b *Bridge) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go b.work(ctx)
}

// Ready is closed once initialization has finished, successfully or not.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Err reports why initialization failed. It is only meaningful after
// Ready is closed.
func (b *Bridge) Err() error {
	<-b.ready
	return b.initErr
}

// Live reports whether a recognizer session is currently accepting audio.
func (b *Bridge) Live() bool {
	return b.running.Load()
}

func (b *Bridge) signalReady(err error) {
	b.readyOnce.Do(func() {
		b.initErr = err
		close(b.ready)
	})
}

// Feed hands audio to the recognizer without blocking.
func (b *Bridge) Feed(pcm []byte) error {
	if !b.running.Load() {
		return ErrNotReady
	}
	b.mu.Lock()
	rec := b.rec
	b.mu.Unlock()
	if rec == nil {
		return ErrNotReady
	}

	if err := rec.SendAudio(pcm); err != nil {
		return err
	}
	b.metrics.AudioBytes.Add(float64(len(pcm)))
	return nil
}

// Stop ends the pull loop and releases the recognizer exactly once. It
// waits up to timeout for the worker to exit. Sentences the recognizer
// still holds are discarded, apart from one already being pulled.
func (b *Bridge) Stop(timeout time.Duration) {
	b.stopOnce.Do(func() {
		b.running.Store(false)
		close(b.stopped)

		b.mu.Lock()
		b.stopping = true
		rec := b.rec
		b.mu.Unlock()

		if rec == nil {
			// Still initializing; the worker releases whatever it gets.
			b.signalReady(ErrStopped)
			return
		}

		if err := rec.Stop(); err != nil {
			b.logger.Warn("stop recognizer", "error", err)
		}

		if b.started.Load() {
			select {
			case <-b.done:
			case <-time.After(timeout):
				b.logger.Warn("recognizer worker still busy", "waited", timeout)
			}
		}

		if err := rec.Close(); err != nil {
			b.logger.Warn("release recognizer", "error", err)
		}
		b.logger.Info("recognizer released")
	})
}

func (b *Bridge) work(ctx context.Context) {
	defer close(b.done)

	b.logger.Info("initializing recognizer", "language", b.config.Language)
	rec, err := b.start(ctx)
	if err != nil {
		b.logger.Error("initialize recognizer", "error", err)
		b.signalReady(fmt.Errorf("initialize recognizer: %w", err))
		return
	}
	if !b.adopt(rec) {
		b.logger.Info("stopped during initialization, releasing recognizer")
		return
	}

	b.logger.Info("recognizer ready")
	b.signalReady(nil)

	for rec != nil && b.pull(ctx, rec) {
		rec = b.restart(ctx, rec)
	}
}

func (b *Bridge) start(ctx context.Context) (stt.SpeechRecognizer, error) {
	return b.engine.Start(ctx, stt.Options{
		Language:   b.config.Language,
		SampleRate: b.config.SampleRate,
		OnRealtime: b.realtime,
	})
}

// adopt installs rec as the live session, or releases it and reports
// false when Stop got there first.
func (b *Bridge) adopt(rec stt.SpeechRecognizer) bool {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		_ = rec.Stop()
		_ = rec.Close()
		return false
	}
	b.rec = rec
	b.running.Store(true)
	b.mu.Unlock()
	return true
}

// restart releases a session that ended on its own and starts a new one,
// backing off between failed attempts. It returns nil once Stop or ctx
// ends the bridge.
func (b *Bridge) restart(ctx context.Context, old stt.SpeechRecognizer) stt.SpeechRecognizer {
	b.mu.Lock()
	if b.stopping {
		// Stop owns the release of old.
		b.mu.Unlock()
		return nil
	}
	b.rec = nil
	b.running.Store(false)
	b.mu.Unlock()

	_ = old.Stop()
	if err := old.Close(); err != nil {
		b.logger.Warn("release ended recognizer", "error", err)
	}

	backoff := b.config.RestartBackoff
	for attempt := 1; ; attempt++ {
		select {
		case <-b.stopped:
			return nil
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		b.metrics.RecognizerRestarts.Inc()
		rec, err := b.start(ctx)
		if err != nil {
			b.logger.Error("restart recognizer", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxRestartBackoff)
			continue
		}
		if !b.adopt(rec) {
			return nil
		}
		b.logger.Info("recognizer restarted", "attempt", attempt)
		return rec
	}
}

type outcome int

const (
	pulled outcome = iota
	failed
	closed
)

// pull delivers sentences until the session closes. It reports true when
// the session ended without Stop or ctx asking for it.
func (b *Bridge) pull(ctx context.Context, rec stt.SpeechRecognizer) bool {
	for b.running.Load() {
		text, result, err := b.next(ctx, rec)
		switch result {
		case pulled:
			b.final(ctx, text)

		case failed:
			b.metrics.PullErrors.Inc()
			b.logger.Error("pull sentence", "error", err)
			select {
			case <-b.stopped:
			case <-ctx.Done():
			case <-time.After(failurePause):
			}

		case closed:
			if b.requested(ctx) {
				return false
			}
			b.metrics.PullErrors.Inc()
			b.logger.Error("recognizer session ended", "reason", err)
			return true
		}
	}
	return false
}

func (b *Bridge) requested(ctx context.Context) bool {
	select {
	case <-b.stopped:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// next converts a Text call, including a panic inside it, into an outcome.
func (b *Bridge) next(
	ctx context.Context,
	rec stt.SpeechRecognizer,
) (text string, result outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, result, err = "", failed, fmt.Errorf("recognizer panic: %v", r)
		}
	}()

	text, err = rec.Text(ctx)
	switch {
	case err == nil:
		return text, pulled, nil
	case errors.Is(err, stt.ErrClosed), ctx.Err() != nil:
		return "", closed, err
	default:
		return "", failed, err
	}
}

func (b *Bridge) final(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	text = b.config.Normalize(text)

	b.logger.Info("sentence", "text", text)
	for _, sink := range b.config.Sinks {
		if err := sink.Save(ctx, text); err != nil {
			b.logger.Error("save sentence", "error", err)
		}
	}

	if !b.publisher.Publish(hub.Event{Type: hub.FullSentence, Text: text}) {
		b.logger.Warn("broadcast loop closed, sentence not sent", "text", text)
	}
}

func (b *Bridge) realtime(text string) {
	if !b.publisher.Publish(hub.Event{Type: hub.Realtime, Text: text}) {
		b.logger.Debug("broadcast loop closed, realtime text not sent")
	}
}
