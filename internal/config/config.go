// Package config loads client configuration from defaults, an optional YAML
// file, CTF_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ctf-platform/ctf/internal/logger"
)

// Config holds all client configuration.
type Config struct {
	// APIURL is the base URL of the platform REST API.
	APIURL string `mapstructure:"api_url"`
	// WSURL is the base URL of the terminal-stream endpoint. Derived from
	// APIURL when empty.
	WSURL string `mapstructure:"ws_url"`
	// StateDir holds the state database, logs and recordings.
	StateDir string `mapstructure:"state_dir"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Terminal  TerminalConfig  `mapstructure:"terminal"`
	Logging   logger.Config   `mapstructure:"logging"`
}

// ReconnectConfig bounds how the terminal bridge re-establishes a dropped stream.
type ReconnectConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

// TerminalConfig configures the local terminal view.
type TerminalConfig struct {
	Scrollback int    `mapstructure:"scrollback"`
	EscapeKey  string `mapstructure:"escape_key"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_url", "http://localhost:8000")
	v.SetDefault("ws_url", "")
	v.SetDefault("state_dir", defaultStateDir())
	v.SetDefault("request_timeout", 20*time.Second)
	v.SetDefault("connect_timeout", 10*time.Second)

	v.SetDefault("reconnect.max_attempts", 5)
	v.SetDefault("reconnect.initial_interval", 500*time.Millisecond)
	v.SetDefault("reconnect.max_interval", 10*time.Second)
	v.SetDefault("reconnect.multiplier", 2.0)

	v.SetDefault("terminal.scrollback", 64*1024)
	v.SetDefault("terminal.escape_key", "^]")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output_path", "")
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".ctf"
	}
	return filepath.Join(dir, "ctf")
}

// New returns a viper instance with defaults and environment bindings set up.
// Callers may bind flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CTF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file and unmarshals the result. An empty
// configFile searches for config.yaml in the working directory and StateDir.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("state_dir"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if u, err := url.Parse(cfg.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "api_url must be an http(s) URL")
	}
	if cfg.WSURL != "" {
		if u, err := url.Parse(cfg.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errs = append(errs, "ws_url must be a ws(s) URL")
		}
	}
	if cfg.StateDir == "" {
		errs = append(errs, "state_dir is required")
	}
	if cfg.ConnectTimeout <= 0 {
		errs = append(errs, "connect_timeout must be positive")
	}
	if cfg.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "reconnect.max_attempts must not be negative")
	}
	if cfg.Reconnect.Multiplier < 1 {
		errs = append(errs, "reconnect.multiplier must be at least 1")
	}
	if _, err := ParseEscapeKey(cfg.Terminal.EscapeKey); err != nil {
		errs = append(errs, err.Error())
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// TerminalURL returns the terminal-stream base URL, deriving ws(s):// from
// the API URL when none is configured.
func (c *Config) TerminalURL() string {
	if c.WSURL != "" {
		return strings.TrimRight(c.WSURL, "/")
	}
	u := strings.Replace(c.APIURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimRight(u, "/")
}

// Host returns the host name of the API URL.
func (c *Config) Host() string {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// DBPath returns the path of the state database.
func (c *Config) DBPath() string {
	return filepath.Join(c.StateDir, "ctf.db")
}

// LogPath returns the log file used while a terminal session owns the screen.
func (c *Config) LogPath() string {
	return filepath.Join(c.StateDir, "ctf.log")
}

// RecordingDir returns the default directory for session recordings.
func (c *Config) RecordingDir() string {
	return filepath.Join(c.StateDir, "recordings")
}

// ParseEscapeKey parses a caret-notation control key such as "^]" into its
// byte value. "none" disables the escape key and yields 0.
func ParseEscapeKey(s string) (byte, error) {
	switch {
	case s == "" || strings.EqualFold(s, "none"):
		return 0, nil
	case len(s) == 2 && s[0] == '^' && s[1] >= '@' && s[1] <= '_':
		return s[1] - '@', nil
	case len(s) == 2 && s[0] == '^' && s[1] >= 'a' && s[1] <= 'z':
		return s[1] - 'a' + 1, nil
	}
	return 0, fmt.Errorf("terminal.escape_key %q must be caret notation like ^] or none", s)
}
