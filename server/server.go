// Package server accepts audio over websockets, feeds it to the recognizer
// bridge and broadcasts what comes back.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"node.town/hark/bridge"
	"node.town/hark/hub"
	"node.town/hark/metrics"
	"node.town/hark/snd"
	"node.town/hark/stt"
)

var (
	ErrReadyTimeout   = errors.New("recognizer did not become ready in time")
	ErrInitFailed     = errors.New("recognizer failed to initialize")
	ErrAlreadyStarted = errors.New("server already started")
	ErrNotReady       = errors.New("server not ready")
)

type Config struct {
	Addr            string
	Path            string
	ReadyTimeout    time.Duration
	SendTimeout     time.Duration
	ShutdownTimeout time.Duration
	QueueSize       int
	MaxMessageBytes int64
	// SampleRate the recognizer expects; client audio is resampled to it.
	SampleRate int
	Language   string
	Metrics    bool

	Sinks     []bridge.Sink
	Normalize func(string) string
	Resampler snd.Resampler

	// RestartBackoff paces reconnecting a recognizer session that ended
	// on its own.
	RestartBackoff time.Duration
}

func (c *Config) setDefaults() {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 30 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Resampler == nil {
		c.Resampler = snd.NewResampler()
	}
}

// Server owns the recognizer bridge, the broadcast hub and the HTTP
// listener, and sequences their startup and shutdown.
type Server struct {
	config  Config
	logger  *log.Logger
	metrics *metrics.Metrics

	loop     *hub.Loop
	hub      *hub.Hub
	bridge   *bridge.Bridge
	adapter  *snd.Adapter
	upgrader websocket.Upgrader
	http     *http.Server

	mu      sync.Mutex
	state   State
	clients sync.WaitGroup

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  chan struct{}
}

func New(
	config Config,
	engine stt.SpeechRecognition,
	logger *log.Logger,
	m *metrics.Metrics,
) *Server {
	config.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	loop := hub.NewLoop(config.QueueSize, logger.WithPrefix("hub"))
	h := hub.New(loop, logger.WithPrefix("hub"), m)

	s := &Server{
		config:  config,
		logger:  logger,
		metrics: m,
		loop:    loop,
		hub:     h,
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.bridge = bridge.New(engine, h, bridge.Config{
		Language:   config.Language,
		SampleRate: config.SampleRate,
		Normalize:  config.Normalize,
		Sinks:      config.Sinks,

		RestartBackoff: config.RestartBackoff,
	}, logger.WithPrefix("hear"), m)
	s.adapter = snd.NewAdapter(
		config.Resampler,
		config.SampleRate,
		logger,
		m.ResampleFailures.Inc,
	)
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	m.State.Set(float64(Uninitialized))
	return s
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transition(state)
}

// transition must be called with mu held.
func (s *Server) transition(state State) {
	if s.state == state {
		return
	}
	s.logger.Info("state", "from", s.state, "to", state)
	s.state = state
	s.metrics.State.Set(float64(state))
}

// Start launches the recognizer and waits, bounded by ReadyTimeout, for it
// to report readiness. On failure the server ends up Stopped.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Uninitialized {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.transition(Initializing)
	s.mu.Unlock()

	s.bridge.Start(s.ctx)

	timer := time.NewTimer(s.config.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-s.bridge.Ready():
		if err := s.bridge.Err(); err != nil {
			s.logger.Error("startup aborted", "error", err)
			s.Stop()
			return fmt.Errorf("%w: %w", ErrInitFailed, err)
		}
	case <-timer.C:
		s.logger.Error(
			"startup aborted",
			"error", ErrReadyTimeout,
			"timeout", s.config.ReadyTimeout,
		)
		s.Stop()
		return ErrReadyTimeout
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Initializing {
		return ErrInitFailed
	}
	s.transition(Ready)
	return nil
}

// Serve starts the broadcast loop and accepts clients on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.state != Ready {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("%w: %s", ErrNotReady, s.state)
	}
	s.transition(Running)
	s.mu.Unlock()

	go s.loop.Run(s.ctx)

	s.logger.Info("listening", "addr", ln.Addr().String(), "path", s.config.Path)
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run starts the server, serves until ctx is done, then stops.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.Stop()
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	select {
	case <-ctx.Done():
		s.Stop()
		return <-served
	case err := <-served:
		s.Stop()
		return err
	case <-s.stopped:
		return <-served
	}
}

// Stop shuts everything down. Only the first call does anything; later
// calls wait for it to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		defer close(s.stopped)

		s.mu.Lock()
		serving := s.state == Running
		s.transition(Stopping)
		s.mu.Unlock()

		s.bridge.Stop(s.config.ShutdownTimeout)

		ctx, cancel := context.WithTimeout(
			context.Background(),
			s.config.ShutdownTimeout,
		)
		defer cancel()

		if serving {
			if err := s.hub.Disconnect(ctx); err != nil {
				s.logger.Warn("disconnect clients", "error", err)
			}
		}
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}

		s.cancel()
		s.loop.Close()
		s.waitClients(ctx)
		s.setState(Stopped)
	})
	<-s.stopped
}

func (s *Server) waitClients(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.clients.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("client readers still running after shutdown")
	}
}

// Hub exposes the broadcast hub, mostly for tests.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}
