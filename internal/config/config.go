// Package config provides application configuration with multi-source
// priority:
//
//  1. Environment variables (SIGHTLINE_*, runtime override)
//  2. Config file (~/.sightline/config.yaml)
//  3. Defaults (work against a local agent server out of the box)
//
// Errors use sentinel values so callers can branch with errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Delivery modes. Each deployment runs exactly one of them; the controller
// supports both.
const (
	// ModeWorkflow is whole-task delivery: the server drives the full
	// multi-round workflow and each textual update arrives as a complete
	// message.
	ModeWorkflow = "workflow"

	// ModePredict is incremental delivery: the server answers for a single
	// uploaded image and textual updates arrive as token deltas.
	ModePredict = "predict"
)

// Defaults.
const (
	DefaultServerURL     = "http://127.0.0.1:5000"
	DefaultServerTimeout = 30 * time.Second
	DefaultStreamTimeout = 5 * time.Minute
	DefaultMaxLength     = 1024
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidServerURL indicates the server URL is missing or unparseable.
	ErrInvalidServerURL = errors.New("invalid server URL")

	// ErrInvalidMode indicates the delivery mode is not workflow or predict.
	ErrInvalidMode = errors.New("invalid delivery mode")

	// ErrInvalidMaxLength indicates the predict max length is out of range.
	ErrInvalidMaxLength = errors.New("invalid max length")

	// ErrInvalidTimeout indicates a non-positive timeout.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidLogLevel indicates an unrecognized log level name.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

// Config is the resolved application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Mode    string        `mapstructure:"mode"`
	Predict PredictConfig `mapstructure:"predict"`
	Clear   ClearConfig   `mapstructure:"clear"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig locates the agent server.
type ServerConfig struct {
	URL string `mapstructure:"url"`

	// Timeout bounds unary requests (upload, stop, clear, undo, history).
	Timeout time.Duration `mapstructure:"timeout"`

	// StreamTimeout bounds one full request cycle.
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
}

// PredictConfig holds incremental-mode parameters.
type PredictConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

// ClearConfig controls the clear action. The two observed deployments
// disagree on whether clear rotates the session id, so it stays
// configurable; when unset, workflow mode rotates and predict mode does not.
type ClearConfig struct {
	RotateSession bool `mapstructure:"rotate_session"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Load reads configuration from defaults, the config file, and environment
// variables, then validates it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.url", DefaultServerURL)
	v.SetDefault("server.timeout", DefaultServerTimeout)
	v.SetDefault("server.stream_timeout", DefaultStreamTimeout)
	v.SetDefault("mode", ModeWorkflow)
	v.SetDefault("predict.max_length", DefaultMaxLength)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".sightline"))
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SIGHTLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file is fine; defaults and env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Clear behavior defaults by mode when not set explicitly: the
	// whole-task deployment rotates the session id on clear, the
	// incremental one keeps it.
	if !v.IsSet("clear.rotate_session") {
		cfg.Clear.RotateSession = cfg.Mode == ModeWorkflow
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against the sentinel error taxonomy.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidServerURL, c.Server.URL)
	}

	if c.Mode != ModeWorkflow && c.Mode != ModePredict {
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidMode, c.Mode, ModeWorkflow, ModePredict)
	}

	if c.Server.Timeout <= 0 {
		return fmt.Errorf("%w: server.timeout %v", ErrInvalidTimeout, c.Server.Timeout)
	}
	if c.Server.StreamTimeout <= 0 {
		return fmt.Errorf("%w: server.stream_timeout %v", ErrInvalidTimeout, c.Server.StreamTimeout)
	}

	if c.Predict.MaxLength <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxLength, c.Predict.MaxLength)
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel resolves the configured level name to a slog.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
}
