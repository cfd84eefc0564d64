package stt

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	SpeechmaticsURL = "wss://eu2.rt.speechmatics.com/v2"
	PingInterval    = 30 * time.Second
	PongTimeout     = 60 * time.Second
	audioQueueSize  = 100
)

type TranscriptionConfig struct {
	Language       string  `json:"language"`
	EnablePartials bool    `json:"enable_partials,omitempty"`
	MaxDelay       float64 `json:"max_delay,omitempty"`
}

type AudioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type StartRecognitionMessage struct {
	Message             string              `json:"message"`
	AudioFormat         AudioFormat         `json:"audio_format"`
	TranscriptionConfig TranscriptionConfig `json:"transcription_config"`
}

type EndOfStreamMessage struct {
	Message   string `json:"message"`
	LastSeqNo int    `json:"last_seq_no"`
}

type RTResult struct {
	Alternatives []struct {
		Confidence float64 `json:"confidence"`
		Content    string  `json:"content"`
	} `json:"alternatives"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Type       string  `json:"type"`
	IsEOS      bool    `json:"is_eos"`
	AttachesTo string  `json:"attaches_to,omitempty"`
}

// RTMessage is any message the realtime API sends back.
type RTMessage struct {
	Message  string     `json:"message"`
	Results  []RTResult `json:"results,omitempty"`
	Metadata struct {
		Transcript string  `json:"transcript"`
		StartTime  float64 `json:"start_time"`
		EndTime    float64 `json:"end_time"`
	} `json:"metadata"`
	SeqNo  int    `json:"seq_no,omitempty"`
	ID     string `json:"id,omitempty"`
	Type   string `json:"type,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type SpeechmaticsConfig struct {
	APIKey   string
	URL      string
	MaxDelay float64
	Partials bool
}

// Speechmatics streams audio to the Speechmatics realtime API.
type Speechmatics struct {
	config SpeechmaticsConfig
	dialer *websocket.Dialer
	logger *log.Logger
}

func NewSpeechmatics(
	config SpeechmaticsConfig,
	logger *log.Logger,
) *Speechmatics {
	if config.URL == "" {
		config.URL = SpeechmaticsURL
	}
	return &Speechmatics{
		config: config,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// Start connects, sends StartRecognition and waits for RecognitionStarted.
func (s *Speechmatics) Start(
	ctx context.Context,
	opts Options,
) (SpeechRecognizer, error) {
	if s.config.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer %s", s.config.APIKey))

	url := strings.TrimSuffix(s.config.URL, "/") + "/" + opts.Language
	ws, _, err := s.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("connect to speechmatics: %w", err)
	}

	start := StartRecognitionMessage{
		Message: "StartRecognition",
		AudioFormat: AudioFormat{
			Type:       "raw",
			Encoding:   "pcm_s16le",
			SampleRate: opts.SampleRate,
		},
		TranscriptionConfig: TranscriptionConfig{
			Language:       opts.Language,
			EnablePartials: s.config.Partials,
			MaxDelay:       s.config.MaxDelay,
		},
	}
	if err := ws.WriteJSON(start); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send StartRecognition: %w", err)
	}

	if err := awaitStarted(ctx, ws); err != nil {
		ws.Close()
		return nil, err
	}

	session := &speechmaticsSession{
		ws:         ws,
		audio:      make(chan []byte, audioQueueSize),
		out:        newSentences(64),
		onRealtime: opts.OnRealtime,
		logger:     s.logger,
		done:       make(chan struct{}),
	}
	if session.onRealtime == nil {
		session.onRealtime = func(string) {}
	}

	go session.write()
	go session.read()
	go session.keepAlive()

	s.logger.Info("recognition started", "engine", "speechmatics", "url", url)
	return session, nil
}

// awaitStarted reads until the handshake completes. Cancelling ctx closes
// ws to unblock the read.
func awaitStarted(ctx context.Context, ws *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	for {
		var msg RTMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("await RecognitionStarted: %w", ctx.Err())
			}
			return fmt.Errorf("await RecognitionStarted: %w", err)
		}
		switch msg.Message {
		case "RecognitionStarted":
			return nil
		case "Error":
			return fmt.Errorf("speechmatics %s: %s", msg.Type, msg.Reason)
		}
	}
}

type speechmaticsSession struct {
	ws         *websocket.Conn
	audio      chan []byte
	out        *sentences
	onRealtime func(string)
	logger     *log.Logger

	mu       sync.Mutex
	isClosed bool

	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func (s *speechmaticsSession) SendAudio(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed {
		return ErrClosed
	}
	select {
	case s.audio <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

func (s *speechmaticsSession) Text(ctx context.Context) (string, error) {
	return s.out.next(ctx)
}

// Stop closes the audio queue; the writer then sends EndOfStream and the
// reader finishes once EndOfTranscript arrives.
func (s *speechmaticsSession) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.isClosed = true
		close(s.audio)
		s.mu.Unlock()
	})
	return nil
}

func (s *speechmaticsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.Stop()
		close(s.out.closing)

		_ = s.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = s.ws.Close()
		<-s.done
	})
	return err
}

// write is the only goroutine that writes data frames.
func (s *speechmaticsSession) write() {
	seq := 0
	for data := range s.audio {
		if err := s.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
			s.logger.Error("send audio", "error", err)
			continue
		}
		seq++
	}

	end := EndOfStreamMessage{Message: "EndOfStream", LastSeqNo: seq}
	if err := s.ws.WriteJSON(end); err != nil {
		s.logger.Warn("send EndOfStream", "error", err)
	}
}

func (s *speechmaticsSession) keepAlive() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			err := s.ws.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(PongTimeout),
			)
			if err != nil {
				s.logger.Warn("ping", "error", err)
				return
			}
		}
	}
}

func (s *speechmaticsSession) read() {
	defer close(s.done)

	var sentence sentenceBuilder
	flush := func() bool {
		text := sentence.take()
		if text == "" {
			return true
		}
		return s.out.push(text)
	}

	for {
		var msg RTMessage
		if err := s.ws.ReadJSON(&msg); err != nil {
			flush()
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
			) && !s.releasing() {
				s.out.finish(fmt.Errorf("speechmatics connection: %w", err))
				return
			}
			s.out.finish(nil)
			return
		}

		switch msg.Message {
		case "AddPartialTranscript":
			if text := sentence.preview(msg.Results); text != "" {
				s.onRealtime(text)
			}

		case "AddTranscript":
			for _, r := range msg.Results {
				if sentence.add(r) && !flush() {
					s.out.finish(nil)
					return
				}
			}
			if text := sentence.preview(nil); text != "" {
				s.onRealtime(text)
			}

		case "EndOfTranscript":
			flush()
			s.out.finish(nil)
			return

		case "Error":
			s.logger.Error("speechmatics", "type", msg.Type, "reason", msg.Reason)
			flush()
			s.out.finish(fmt.Errorf("speechmatics %s: %s", msg.Type, msg.Reason))
			return

		case "Warning", "Info":
			s.logger.Warn("speechmatics", "type", msg.Type, "reason", msg.Reason)

		case "AudioAdded", "RecognitionStarted":

		default:
			s.logger.Debug("unhandled message", "message", msg.Message)
		}
	}
}

func (s *speechmaticsSession) releasing() bool {
	select {
	case <-s.out.closing:
		return true
	default:
		return false
	}
}

// sentenceBuilder joins final words into sentences. A sentence ends on an
// end-of-sentence result or a terminal punctuation mark.
type sentenceBuilder struct {
	b strings.Builder
}

func appendResult(b *strings.Builder, r RTResult) {
	if len(r.Alternatives) == 0 {
		return
	}
	content := r.Alternatives[0].Content
	if r.Type != "punctuation" && b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(content)
}

// add reports whether r completed a sentence.
func (s *sentenceBuilder) add(r RTResult) bool {
	appendResult(&s.b, r)
	if r.IsEOS {
		return true
	}
	if r.Type == "punctuation" && len(r.Alternatives) > 0 {
		switch r.Alternatives[0].Content {
		case ".", "!", "?":
			return true
		}
	}
	return false
}

// preview is the committed text followed by provisional results.
func (s *sentenceBuilder) preview(partial []RTResult) string {
	var b strings.Builder
	b.WriteString(s.b.String())
	for _, r := range partial {
		appendResult(&b, r)
	}
	return strings.TrimSpace(b.String())
}

func (s *sentenceBuilder) take() string {
	text := strings.TrimSpace(s.b.String())
	s.b.Reset()
	return text
}

var _ SpeechRecognizer = (*speechmaticsSession)(nil)
