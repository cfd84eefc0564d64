package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/hark/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively write hark.yaml",
	RunE:  runSetup,
}

func init() {
	setupCmd.Flags().String("out", "hark.yaml", "file to write")
}

// setupAnswers holds what the setup form asks for.
type setupAnswers struct {
	Engine string
	APIKey string
	Host   string
	Port   string
}

func runSetup(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")

	answers := setupAnswers{
		Engine: viper.GetString("recognizer.engine"),
		Host:   viper.GetString("server.host"),
		Port:   strconv.Itoa(viper.GetInt("server.port")),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Speech recognition engine").
				Options(
					huh.NewOption("Speechmatics realtime", config.EngineSpeechmatics),
					huh.NewOption("Google Gemini", config.EngineGemini),
				).
				Value(&answers.Engine),
			huh.NewInput().
				Title("API key for the engine").
				Password(true).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("required")
					}
					return nil
				}).
				Value(&answers.APIKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Listen host").
				Value(&answers.Host),
			huh.NewInput().
				Title("Listen port").
				Validate(validatePort).
				Value(&answers.Port),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup form: %w", err)
	}

	v, err := answers.viper()
	if err != nil {
		return err
	}
	if err := v.WriteConfigAs(out); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	logger.Info("setup complete", "file", out)
	return nil
}

func validatePort(s string) error {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// viper returns a fresh viper holding the answers, ready to be written.
func (a setupAnswers) viper() (*viper.Viper, error) {
	if err := validatePort(a.Port); err != nil {
		return nil, err
	}
	port, _ := strconv.Atoi(a.Port)

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("server.host", a.Host)
	v.Set("server.port", port)
	v.Set("recognizer.engine", a.Engine)
	switch a.Engine {
	case config.EngineGemini:
		v.Set("recognizer.gemini.api_key", a.APIKey)
	case config.EngineSpeechmatics:
		v.Set("recognizer.speechmatics.api_key", a.APIKey)
	default:
		return nil, fmt.Errorf("unknown engine %q", a.Engine)
	}
	return v, nil
}
