package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/hark/bridge"
	"node.town/hark/config"
	"node.town/hark/db"
	"node.town/hark/metrics"
	"node.town/hark/server"
	"node.town/hark/stt"
	"node.town/hark/transcript"
	"node.town/hark/txt"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transcription server",
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.String("host", "localhost", "listen host")
	flags.Int("port", 8001, "listen port")
	flags.String("engine", config.EngineSpeechmatics, "speechmatics or gemini")
	flags.String("language", "en", "recognition language")
	flags.String("transcripts", "", "directory for transcript files")

	viper.BindPFlag("server.host", flags.Lookup("host"))
	viper.BindPFlag("server.port", flags.Lookup("port"))
	viper.BindPFlag("recognizer.engine", flags.Lookup("engine"))
	viper.BindPFlag("recognizer.language", flags.Lookup("language"))
	viper.BindPFlag("transcripts.dir", flags.Lookup("transcripts"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logs, closer, err := createLoggers(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signalContext(logs.main)
	defer stop()

	sinks, cleanup, err := openSinks(ctx, cfg.Transcripts, logs.data)
	if err != nil {
		logs.main.Error("open transcript sinks", "error", err)
		return err
	}
	defer cleanup()

	var normalize func(string) string
	if cfg.Transcripts.NormalizeNumbers {
		normalize = txt.NormalizeNumbers
	}

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr(),
		Path:            cfg.Server.Path,
		ReadyTimeout:    cfg.Server.ReadyTimeout,
		SendTimeout:     cfg.Server.SendTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		QueueSize:       cfg.Server.QueueSize,
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		SampleRate:      cfg.Audio.SampleRate,
		Language:        cfg.Recognizer.Language,
		Metrics:         cfg.Metrics.Enabled,
		Sinks:           sinks,
		Normalize:       normalize,
		RestartBackoff:  cfg.Recognizer.RestartBackoff,
	}, newEngine(cfg.Recognizer, logs.hear), logs.main, metrics.New())

	if err := srv.Run(ctx); err != nil {
		logs.main.Error("server", "error", err)
		return err
	}
	logs.main.Info("bye")
	return nil
}

// signalContext is cancelled on the first SIGINT or SIGTERM. Later
// signals are logged and otherwise ignored while shutdown proceeds.
func signalContext(logger *log.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		first := true
		for {
			select {
			case sig := <-sigs:
				if first {
					logger.Info("shutting down", "signal", sig)
					cancel()
					first = false
				} else {
					logger.Info("already shutting down", "signal", sig)
				}
			case <-done:
				return
			}
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		close(done)
		cancel()
	}
}

func newEngine(c config.Recognizer, logger *log.Logger) stt.SpeechRecognition {
	switch c.Engine {
	case config.EngineGemini:
		return stt.NewGemini(stt.GeminiConfig{
			APIKey:     c.Gemini.APIKey,
			Model:      c.Gemini.Model,
			Segment:    c.Gemini.Segment,
			SilenceRMS: c.Gemini.SilenceRMS,
		}, logger)
	default:
		return stt.NewSpeechmatics(stt.SpeechmaticsConfig{
			APIKey:   c.Speechmatics.APIKey,
			URL:      c.Speechmatics.URL,
			MaxDelay: c.Speechmatics.MaxDelay,
			Partials: c.Speechmatics.Partials,
		}, logger)
	}
}

func openSinks(
	ctx context.Context,
	c config.Transcripts,
	logger *log.Logger,
) ([]bridge.Sink, func(), error) {
	var sinks []bridge.Sink
	cleanup := func() {}

	if c.Dir != "" {
		file, err := transcript.NewFileSink(c.Dir, time.Now())
		if err != nil {
			return nil, nil, err
		}
		logger.Info("writing transcript", "path", file.Path())
		sinks = append(sinks, file)
	}

	if c.DatabaseURL != "" {
		store, err := db.Open(ctx, c.DatabaseURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if _, err := store.StartSession(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		sinks = append(sinks, store)
		cleanup = store.Close
	}

	return sinks, cleanup, nil
}
