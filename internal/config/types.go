package config

import (
	"time"

	"github.com/rileyhilliard/gpuctl/internal/session"
	"github.com/rileyhilliard/gpuctl/internal/telemetry"
)

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the complete .gpuctl.yaml configuration file.
type Config struct {
	Version int           `yaml:"version" mapstructure:"version"`
	API     APIConfig     `yaml:"api" mapstructure:"api"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
}

// APIConfig describes how to reach the deployment backend and authenticate.
type APIConfig struct {
	// BaseURL is the REST base, e.g. https://api.example.com. Socket URLs are
	// derived from it (https -> wss).
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Token is a fixed bearer token. TokenFile is read instead when set.
	Token     string `yaml:"token,omitempty" mapstructure:"token"`
	TokenFile string `yaml:"token_file,omitempty" mapstructure:"token_file"`

	// TokenEndpoint issues a short-lived token per connection attempt. It is
	// called with APIKey as the bearer credential. Relative paths resolve
	// against BaseURL.
	TokenEndpoint string `yaml:"token_endpoint,omitempty" mapstructure:"token_endpoint"`
	APIKey        string `yaml:"api_key,omitempty" mapstructure:"api_key"`

	// TokenInQuery also sends the token as a ?token= parameter, for gateways
	// that drop headers on upgrade.
	TokenInQuery bool `yaml:"token_in_query" mapstructure:"token_in_query"`

	// Timeout bounds REST calls.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SessionConfig tunes reconnect behavior. See session.Options.
type SessionConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	CapDelay     time.Duration `yaml:"cap_delay" mapstructure:"cap_delay"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ReadLimit    int64         `yaml:"read_limit" mapstructure:"read_limit"`
}

// MetricsConfig controls the telemetry view.
type MetricsConfig struct {
	// HistorySize is how many samples the rolling history keeps.
	HistorySize int `yaml:"history_size" mapstructure:"history_size"`
}

// LogConfig controls diagnostic logging on stderr.
type LogConfig struct {
	// Level: "debug", "info", "warn" or "error".
	Level string `yaml:"level" mapstructure:"level"`
}

// OutputConfig controls terminal output formatting.
type OutputConfig struct {
	// Color mode: "auto", "always", or "never".
	// "auto" disables color when output is piped.
	Color string `yaml:"color" mapstructure:"color"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	opts := session.DefaultOptions()
	return &Config{
		Version: CurrentConfigVersion,
		API: APIConfig{
			Timeout: 15 * time.Second,
		},
		Session: SessionConfig{
			MaxAttempts:  opts.MaxAttempts,
			BaseDelay:    opts.BaseDelay,
			CapDelay:     opts.CapDelay,
			DialTimeout:  opts.DialTimeout,
			WriteTimeout: opts.WriteTimeout,
			ReadLimit:    opts.ReadLimit,
		},
		Metrics: MetricsConfig{
			HistorySize: telemetry.DefaultHistorySize,
		},
		Log: LogConfig{
			Level: "warn",
		},
		Output: OutputConfig{
			Color: "auto",
		},
	}
}

// SessionOptions converts the session section for session.New.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		MaxAttempts:  c.Session.MaxAttempts,
		BaseDelay:    c.Session.BaseDelay,
		CapDelay:     c.Session.CapDelay,
		DialTimeout:  c.Session.DialTimeout,
		WriteTimeout: c.Session.WriteTimeout,
		ReadLimit:    c.Session.ReadLimit,
		TokenInQuery: c.API.TokenInQuery,
	}
}
