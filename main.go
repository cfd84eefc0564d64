package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/hark/config"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default hark.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-file", "", "also append logs to this file")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(transcriptsCmd)
	rootCmd.AddCommand(setupCmd)
}

func initConfig() {
	logger = log.New(os.Stdout)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("load .env", "error", err)
	}

	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix("hark")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if file, _ := rootCmd.PersistentFlags().GetString("config"); file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("hark")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "hark"))
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logger.Warn("read config", "error", err)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "hark",
	Short: "hark streams live transcription to websocket clients",
	Long: `hark accepts PCM16 audio over a websocket, feeds it to a speech
recognizer, and broadcasts realtime and full-sentence transcripts to every
connected client.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig decodes the merged flag, env and file settings.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

type loggers struct {
	main *log.Logger
	hear *log.Logger
	data *log.Logger
}

func createLoggers(c config.Log) (loggers, io.Closer, error) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer = io.NopCloser(nil)
	)
	if c.File != "" {
		file, err := os.OpenFile(c.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return loggers{}, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, file)
		closer = file
	}

	level, err := log.ParseLevel(c.Level)
	if err != nil {
		closer.Close()
		return loggers{}, nil, fmt.Errorf("log level %q: %w", c.Level, err)
	}

	logger = log.New(out)
	logger.SetLevel(level)
	logger.SetReportTimestamp(true)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	for _, lvl := range []log.Level{log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel} {
		styles.Levels[lvl] = styles.Levels[lvl].
			MaxWidth(6).
			MarginRight(1).
			Bold(false)
	}
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))
	logger.SetStyles(styles)

	return loggers{
		main: logger.WithPrefix("main"),
		hear: logger.WithPrefix("hear"),
		data: logger.WithPrefix("data"),
	}, closer, nil
}
