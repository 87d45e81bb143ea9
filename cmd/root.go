// Package cmd wires the sightline command-line interface.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sightline/sightline/internal/client"
	"github.com/sightline/sightline/internal/config"
	"github.com/sightline/sightline/internal/log"
)

// Flag overrides applied on top of the loaded configuration.
var (
	flagServerURL string
	flagMode      string
)

var rootCmd = &cobra.Command{
	Use:   "sightline",
	Short: "Sightline - terminal client for a GUI task agent",
	Long: `Sightline drives a visual GUI agent from the terminal.

Upload a screenshot, describe a task in plain language, and watch the
agent's reasoning and actions stream back round by round.

Running sightline without a subcommand starts the interactive session.`,
	SilenceUsage: true,
	RunE:         runChat,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "agent server URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagMode, "mode", "", "delivery mode: workflow or predict (overrides config)")
}

// loadConfig resolves configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if flagServerURL != "" {
		cfg.Server.URL = flagServerURL
	}
	if flagMode != "" {
		cfg.Mode = flagMode
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup builds the shared dependency chain for all subcommands.
func setup() (*config.Config, log.Logger, *client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := log.New(log.Config{Level: level, JSON: cfg.Log.JSON})

	api := client.New(cfg.Server.URL, cfg.Server.Timeout, logger)
	return cfg, logger, api, nil
}

// unaryTimeout bounds one-shot subcommands (upload, stop, history).
func unaryTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.Timeout > 0 {
		return cfg.Server.Timeout
	}
	return config.DefaultServerTimeout
}
