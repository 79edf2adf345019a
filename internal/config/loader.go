package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/rileyhilliard/gpuctl/internal/errors"
)

const (
	// ConfigFileName is the project config file name.
	ConfigFileName = ".gpuctl.yaml"
	// GlobalConfigDir is the directory for global config, under $HOME.
	GlobalConfigDir = ".config/gpuctl"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
	// EnvPrefix prefixes environment overrides: GPUCTL_API_BASE_URL sets
	// api.base_url.
	EnvPrefix = "GPUCTL"
)

// Load reads config from the specified path. Environment overrides apply on
// top of the file.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Run 'gpuctl init' to create a config file, or specify one with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. .gpuctl.yaml in current directory
// 3. .gpuctl.yaml in parent directories (stops at git root or home)
// 4. ~/.config/gpuctl/config.yaml
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		explicit = ExpandTilde(explicit)
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	home, _ := os.UserHomeDir()
	dir := cwd
	for {
		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir || (home != "" && parent == home) {
			break
		}
		dir = parent
	}

	if home != "" {
		globalConfig := filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", nil
}

// LoadOrDefault loads the config Find locates, or defaults plus environment
// overrides when there is none.
func LoadOrDefault(explicit string) (*Config, string, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, "", err
	}

	if path == "" {
		cfg, err := parseConfig(newViper(), "environment")
		return cfg, "", err
	}

	cfg, err := Load(path)
	return cfg, path, err
}

// GlobalPath returns where the global config file lives.
func GlobalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(GlobalConfigDir, GlobalConfigFile)
	}
	return filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
}

// newViper returns a viper instance with defaults registered for every key,
// so that environment overrides are seen by Unmarshal.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("version", d.Version)

	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.token", d.API.Token)
	v.SetDefault("api.token_file", d.API.TokenFile)
	v.SetDefault("api.token_endpoint", d.API.TokenEndpoint)
	v.SetDefault("api.api_key", d.API.APIKey)
	v.SetDefault("api.token_in_query", d.API.TokenInQuery)
	v.SetDefault("api.timeout", d.API.Timeout)

	v.SetDefault("session.max_attempts", d.Session.MaxAttempts)
	v.SetDefault("session.base_delay", d.Session.BaseDelay)
	v.SetDefault("session.cap_delay", d.Session.CapDelay)
	v.SetDefault("session.dial_timeout", d.Session.DialTimeout)
	v.SetDefault("session.write_timeout", d.Session.WriteTimeout)
	v.SetDefault("session.read_limit", d.Session.ReadLimit)

	v.SetDefault("metrics.history_size", d.Metrics.HistorySize)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("output.color", d.Output.Color)
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, source string) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+source)
	}

	cfg.API.BaseURL = strings.TrimSpace(cfg.API.BaseURL)
	cfg.API.TokenFile = ExpandTilde(cfg.API.TokenFile)
	return cfg, nil
}

// ResolveToken returns the configured static token, reading TokenFile when
// it is set.
func (c *Config) ResolveToken() (string, error) {
	if c.API.TokenFile == "" {
		return strings.TrimSpace(c.API.Token), nil
	}
	data, err := os.ReadFile(c.API.TokenFile)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrAuth,
			"Cannot read token file "+c.API.TokenFile,
			"Check api.token_file in your config")
	}
	return strings.TrimSpace(string(data)), nil
}
