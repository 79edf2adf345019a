package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rileyhilliard/gpuctl/internal/errors"
)

// Limits enforced by Validate.
const (
	MaxHistorySize = 10000
	MaxAttempts    = 100
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validColorModes = map[string]bool{"auto": true, "always": true, "never": true}

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but gpuctl only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade gpuctl")
	}

	if err := validateAPI(cfg.API); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'api' section in your "+ConfigFileName)
	}
	if err := validateSession(cfg.Session); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'session' section in your "+ConfigFileName)
	}

	if cfg.Metrics.HistorySize < 1 || cfg.Metrics.HistorySize > MaxHistorySize {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("metrics.history_size must be between 1 and %d, got %d", MaxHistorySize, cfg.Metrics.HistorySize),
			"30 samples is the usual window")
	}

	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown log level %q", cfg.Log.Level),
			"Use one of: debug, info, warn, error")
	}

	if !validColorModes[cfg.Output.Color] {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown color mode %q", cfg.Output.Color),
			"Use one of: auto, always, never")
	}

	return nil
}

// RequireAPI checks that the settings needed to open sessions are present.
// Commands that talk to a deployment call it after Validate.
func RequireAPI(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return errors.New(errors.ErrConfig,
			"No API base URL configured",
			"Run 'gpuctl init' or set GPUCTL_API_BASE_URL")
	}
	if cfg.API.Token == "" && cfg.API.TokenFile == "" && cfg.API.TokenEndpoint == "" {
		return errors.New(errors.ErrAuth,
			"No credentials configured",
			"Set api.token, api.token_file or api.token_endpoint (or GPUCTL_API_TOKEN)")
	}
	return nil
}

func validateAPI(a APIConfig) error {
	if a.BaseURL != "" {
		u, err := url.Parse(a.BaseURL)
		if err != nil {
			return fmt.Errorf("api.base_url is not a URL: %w", err)
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("api.base_url must use http or https, got %q", a.BaseURL)
		}
		if u.Host == "" {
			return fmt.Errorf("api.base_url has no host: %q", a.BaseURL)
		}
	}
	if a.TokenEndpoint != "" && a.APIKey == "" {
		return fmt.Errorf("api.token_endpoint needs api.api_key")
	}
	if a.Timeout < 0 {
		return fmt.Errorf("api.timeout cannot be negative")
	}
	return nil
}

func validateSession(s SessionConfig) error {
	if s.MaxAttempts < 1 || s.MaxAttempts > MaxAttempts {
		return fmt.Errorf("session.max_attempts must be between 1 and %d, got %d", MaxAttempts, s.MaxAttempts)
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"session.base_delay", s.BaseDelay},
		{"session.cap_delay", s.CapDelay},
		{"session.dial_timeout", s.DialTimeout},
		{"session.write_timeout", s.WriteTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.d)
		}
	}
	if s.CapDelay < s.BaseDelay {
		return fmt.Errorf("session.cap_delay (%s) is shorter than session.base_delay (%s)", s.CapDelay, s.BaseDelay)
	}
	if s.ReadLimit <= 0 {
		return fmt.Errorf("session.read_limit must be positive")
	}
	return nil
}
