package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"node.town/hark/snd"
)

const geminiPrompt = `Transcribe this audio segment as accurately as possible, with good grammar and punctuation.

Reply with the transcript only. If nothing is said, reply with nothing.`

type GeminiConfig struct {
	APIKey     string
	Model      string
	Segment    time.Duration
	SilenceRMS float64
}

// SegmentTranscriber turns one WAV segment into text, reporting the text
// accumulated so far through partial.
type SegmentTranscriber interface {
	Transcribe(ctx context.Context, wav []byte, partial func(string)) (string, error)
}

// Gemini transcribes fixed-length segments of audio with a Gemini model.
type Gemini struct {
	config GeminiConfig
	logger *log.Logger
	// dial is swapped out in tests.
	dial func(ctx context.Context) (SegmentTranscriber, func() error, error)
}

func NewGemini(config GeminiConfig, logger *log.Logger) *Gemini {
	g := &Gemini{config: config, logger: logger}
	g.dial = g.dialGenAI
	return g
}

func (g *Gemini) dialGenAI(
	ctx context.Context,
) (SegmentTranscriber, func() error, error) {
	if g.config.APIKey == "" {
		return nil, nil, ErrNoAPIKey
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.config.APIKey))
	if err != nil {
		return nil, nil, fmt.Errorf("create genai client: %w", err)
	}

	model := client.GenerativeModel(g.config.Model)
	model.GenerationConfig.SetTemperature(0.1)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(geminiPrompt)},
	}
	return &genaiTranscriber{model: model}, client.Close, nil
}

func (g *Gemini) Start(
	ctx context.Context,
	opts Options,
) (SpeechRecognizer, error) {
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", opts.SampleRate)
	}
	transcriber, release, err := g.dial(ctx)
	if err != nil {
		return nil, err
	}

	segment := g.config.Segment
	if segment <= 0 {
		segment = 5 * time.Second
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &geminiSession{
		transcriber:  transcriber,
		release:      release,
		segmentBytes: 2 * int(int64(opts.SampleRate)*int64(segment)/int64(time.Second)),
		sampleRate:   opts.SampleRate,
		silenceRMS:   g.config.SilenceRMS,
		onRealtime:   opts.OnRealtime,
		audio:        make(chan []byte, audioQueueSize),
		out:          newSentences(16),
		logger:       g.logger,
		ctx:          runCtx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	if s.onRealtime == nil {
		s.onRealtime = func(string) {}
	}
	if s.segmentBytes < 2 {
		s.segmentBytes = 2
	}

	go s.run()

	g.logger.Info(
		"recognition started",
		"engine", "gemini",
		"model", g.config.Model,
		"segment", segment,
	)
	return s, nil
}

type geminiSession struct {
	transcriber  SegmentTranscriber
	release      func() error
	segmentBytes int
	sampleRate   int
	silenceRMS   float64
	onRealtime   func(string)
	logger       *log.Logger

	audio chan []byte
	out   *sentences

	mu       sync.Mutex
	isClosed bool

	ctx       context.Context
	cancel    context.CancelFunc
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func (s *geminiSession) SendAudio(data []byte) error {
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

func (s *geminiSession) Text(ctx context.Context) (string, error) {
	return s.out.next(ctx)
}

// Stop flushes whatever partial segment has been collected.
func (s *geminiSession) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.isClosed = true
		close(s.audio)
		s.mu.Unlock()
	})
	return nil
}

func (s *geminiSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.Stop()
		close(s.out.closing)
		s.cancel()
		<-s.done
		if s.release != nil {
			err = s.release()
		}
	})
	return err
}

func (s *geminiSession) run() {
	defer close(s.done)

	var pending []byte
	for data := range s.audio {
		pending = append(pending, data...)
		for len(pending) >= s.segmentBytes {
			if !s.transcribe(pending[:s.segmentBytes]) {
				s.out.finish(nil)
				return
			}
			pending = append([]byte(nil), pending[s.segmentBytes:]...)
		}
	}

	if len(pending) >= 2 && !s.transcribe(pending[:len(pending)&^1]) {
		s.out.finish(nil)
		return
	}
	s.out.finish(nil)
}

// transcribe reports false once the session is being released.
func (s *geminiSession) transcribe(pcm []byte) bool {
	buf, err := snd.DecodePCM16(pcm, s.sampleRate)
	if err != nil {
		s.logger.Error("decode segment", "error", err)
		return true
	}
	if rms := snd.RMS(buf); rms < s.silenceRMS {
		s.logger.Debug("skip silent segment", "rms", rms)
		return true
	}

	wav, err := snd.EncodeWAV(buf)
	if err != nil {
		s.logger.Error("encode segment", "error", err)
		return true
	}

	text, err := s.transcriber.Transcribe(s.ctx, wav, s.onRealtime)
	if err != nil {
		if s.ctx.Err() != nil {
			return false
		}
		s.logger.Error("transcribe segment", "error", err)
		return true
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	return s.out.push(text)
}

type genaiTranscriber struct {
	model *genai.GenerativeModel
}

func (t *genaiTranscriber) Transcribe(
	ctx context.Context,
	wav []byte,
	partial func(string),
) (string, error) {
	stream := t.model.GenerateContentStream(
		ctx,
		genai.Blob{MIMEType: "audio/wav", Data: wav},
	)

	var text strings.Builder
	for {
		resp, err := stream.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("stream: %w", err)
		}

		text.WriteString(responseText(resp))
		if soFar := strings.TrimSpace(text.String()); soFar != "" {
			partial(soFar)
		}
	}
	return text.String(), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	return text.String()
}

var _ SpeechRecognizer = (*geminiSession)(nil)
