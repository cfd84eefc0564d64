// Package config loads hark settings from flags, environment and
// hark.yaml through viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

const (
	EngineSpeechmatics = "speechmatics"
	EngineGemini       = "gemini"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server      Server      `mapstructure:"server"`
	Audio       Audio       `mapstructure:"audio"`
	Recognizer  Recognizer  `mapstructure:"recognizer"`
	Transcripts Transcripts `mapstructure:"transcripts"`
	Metrics     Metrics     `mapstructure:"metrics"`
	Log         Log         `mapstructure:"log"`
}

type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Path            string        `mapstructure:"path"`
	ReadyTimeout    time.Duration `mapstructure:"ready_timeout"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	QueueSize       int           `mapstructure:"queue_size"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is host:port for net.Listen.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type Audio struct {
	SampleRate int `mapstructure:"sample_rate"`
}

type Recognizer struct {
	Engine         string        `mapstructure:"engine"`
	Language       string        `mapstructure:"language"`
	RestartBackoff time.Duration `mapstructure:"restart_backoff"`
	Speechmatics   Speechmatics  `mapstructure:"speechmatics"`
	Gemini         Gemini        `mapstructure:"gemini"`
}

type Speechmatics struct {
	APIKey   string  `mapstructure:"api_key"`
	URL      string  `mapstructure:"url"`
	MaxDelay float64 `mapstructure:"max_delay"`
	Partials bool    `mapstructure:"partials"`
}

type Gemini struct {
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Segment    time.Duration `mapstructure:"segment"`
	SilenceRMS float64       `mapstructure:"silence_rms"`
}

type Transcripts struct {
	Dir              string `mapstructure:"dir"`
	DatabaseURL      string `mapstructure:"database_url"`
	NormalizeNumbers bool   `mapstructure:"normalize_numbers"`
}

type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
}

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8001)
	v.SetDefault("server.path", "/")
	v.SetDefault("server.ready_timeout", 30*time.Second)
	v.SetDefault("server.send_timeout", 5*time.Second)
	v.SetDefault("server.queue_size", 256)
	v.SetDefault("server.max_message_bytes", 1<<20)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("audio.sample_rate", 16000)

	v.SetDefault("recognizer.engine", EngineSpeechmatics)
	v.SetDefault("recognizer.language", "en")
	v.SetDefault("recognizer.restart_backoff", 250*time.Millisecond)
	v.SetDefault("recognizer.speechmatics.api_key", "")
	v.SetDefault("recognizer.speechmatics.url", "wss://eu2.rt.speechmatics.com/v2")
	v.SetDefault("recognizer.speechmatics.max_delay", 0.7)
	v.SetDefault("recognizer.speechmatics.partials", true)
	v.SetDefault("recognizer.gemini.api_key", "")
	v.SetDefault("recognizer.gemini.model", "gemini-1.5-flash")
	v.SetDefault("recognizer.gemini.segment", 5*time.Second)
	v.SetDefault("recognizer.gemini.silence_rms", 200.0)

	v.SetDefault("transcripts.dir", "")
	v.SetDefault("transcripts.database_url", "")
	v.SetDefault("transcripts.normalize_numbers", false)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load decodes v into a Config. It does not validate.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

func invalid(field string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, field, fmt.Sprintf(format, args...))
}

// Validate checks the settings needed to run the server.
func (c Config) Validate() error {
	s := c.Server
	if s.Port < 1 || s.Port > 65535 {
		return invalid("server.port", "%d out of range", s.Port)
	}
	durations := []struct {
		field string
		d     time.Duration
	}{
		{"server.ready_timeout", s.ReadyTimeout},
		{"server.send_timeout", s.SendTimeout},
		{"server.shutdown_timeout", s.ShutdownTimeout},
		{"recognizer.restart_backoff", c.Recognizer.RestartBackoff},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return invalid(d.field, "must be positive, got %s", d.d)
		}
	}
	if s.QueueSize <= 0 {
		return invalid("server.queue_size", "must be positive, got %d", s.QueueSize)
	}
	if s.MaxMessageBytes <= 0 {
		return invalid("server.max_message_bytes", "must be positive, got %d", s.MaxMessageBytes)
	}
	if c.Audio.SampleRate <= 0 {
		return invalid("audio.sample_rate", "must be positive, got %d", c.Audio.SampleRate)
	}

	switch c.Recognizer.Engine {
	case EngineSpeechmatics:
		if c.Recognizer.Speechmatics.APIKey == "" {
			return invalid("recognizer.speechmatics.api_key", "required")
		}
	case EngineGemini:
		if c.Recognizer.Gemini.APIKey == "" {
			return invalid("recognizer.gemini.api_key", "required")
		}
		if c.Recognizer.Gemini.Segment <= 0 {
			return invalid("recognizer.gemini.segment", "must be positive, got %s", c.Recognizer.Gemini.Segment)
		}
	default:
		return invalid("recognizer.engine", "unknown engine %q", c.Recognizer.Engine)
	}
	return nil
}
