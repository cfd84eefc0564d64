package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestDefaults(t *testing.T) {
	c, err := Load(defaults(t))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8001", c.Server.Addr())
	assert.Equal(t, "/", c.Server.Path)
	assert.Equal(t, 30*time.Second, c.Server.ReadyTimeout)
	assert.Equal(t, 5*time.Second, c.Server.SendTimeout)
	assert.Equal(t, 10*time.Second, c.Server.ShutdownTimeout)
	assert.Equal(t, 256, c.Server.QueueSize)
	assert.Equal(t, int64(1<<20), c.Server.MaxMessageBytes)
	assert.Equal(t, 16000, c.Audio.SampleRate)
	assert.Equal(t, EngineSpeechmatics, c.Recognizer.Engine)
	assert.Equal(t, "en", c.Recognizer.Language)
	assert.Equal(t, 250*time.Millisecond, c.Recognizer.RestartBackoff)
	assert.Equal(t, 0.7, c.Recognizer.Speechmatics.MaxDelay)
	assert.True(t, c.Recognizer.Speechmatics.Partials)
	assert.Equal(t, "gemini-1.5-flash", c.Recognizer.Gemini.Model)
	assert.Equal(t, 5*time.Second, c.Recognizer.Gemini.Segment)
	assert.Equal(t, 200.0, c.Recognizer.Gemini.SilenceRMS)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, "info", c.Log.Level)

	// no API key yet
	assert.ErrorIs(t, c.Validate(), ErrInvalid)
}

func TestLoadFromYAMLAndEnv(t *testing.T) {
	v := defaults(t)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
server:
  port: 9000
  ready_timeout: 2s
recognizer:
  engine: gemini
  gemini:
    api_key: from-file
    segment: 3s
transcripts:
  normalize_numbers: true
`)))

	t.Setenv("HARK_SERVER_HOST", "0.0.0.0")
	v.SetEnvPrefix("hark")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", c.Server.Addr())
	assert.Equal(t, 2*time.Second, c.Server.ReadyTimeout)
	assert.Equal(t, EngineGemini, c.Recognizer.Engine)
	assert.Equal(t, "from-file", c.Recognizer.Gemini.APIKey)
	assert.Equal(t, 3*time.Second, c.Recognizer.Gemini.Segment)
	assert.True(t, c.Transcripts.NormalizeNumbers)
	assert.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) Config {
		v := defaults(t)
		v.Set("recognizer.speechmatics.api_key", "key")
		c, err := Load(v)
		require.NoError(t, err)
		require.NoError(t, c.Validate())
		return c
	}

	tests := []struct {
		field  string
		mutate func(c *Config)
	}{
		{"server.port", func(c *Config) { c.Server.Port = 0 }},
		{"server.port", func(c *Config) { c.Server.Port = 70000 }},
		{"server.ready_timeout", func(c *Config) { c.Server.ReadyTimeout = 0 }},
		{"server.send_timeout", func(c *Config) { c.Server.SendTimeout = -time.Second }},
		{"server.shutdown_timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }},
		{"server.queue_size", func(c *Config) { c.Server.QueueSize = 0 }},
		{"recognizer.restart_backoff", func(c *Config) { c.Recognizer.RestartBackoff = 0 }},
		{"server.max_message_bytes", func(c *Config) { c.Server.MaxMessageBytes = 0 }},
		{"audio.sample_rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"recognizer.engine", func(c *Config) { c.Recognizer.Engine = "whisper" }},
		{"recognizer.speechmatics.api_key", func(c *Config) { c.Recognizer.Speechmatics.APIKey = "" }},
		{"recognizer.gemini.api_key", func(c *Config) { c.Recognizer.Engine = EngineGemini }},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			c := valid(t)
			tt.mutate(&c)
			err := c.Validate()
			assert.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tt.field)
		})
	}
}
