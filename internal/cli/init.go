package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/rileyhilliard/gpuctl/internal/config"
	"github.com/rileyhilliard/gpuctl/internal/errors"
	"github.com/rileyhilliard/gpuctl/internal/ui"
)

// Auth modes offered by init.
const (
	authToken     = "token"
	authTokenFile = "token_file"
	authEndpoint  = "token_endpoint"
)

// InitOptions holds options for the init command.
type InitOptions struct {
	BaseURL        string
	Token          string
	TokenFile      string
	TokenEndpoint  string
	APIKey         string
	Global         bool // write ~/.config/gpuctl/config.yaml instead of ./.gpuctl.yaml
	Overwrite      bool
	NonInteractive bool
	Dir            string // project directory; defaults to the current one
}

// Init creates a new config file.
func Init(opts InitOptions) error {
	configPath, err := initPath(opts)
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil && !opts.Overwrite {
		if opts.NonInteractive {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Config file already exists: %s", configPath),
				"Use --force to overwrite")
		}

		var overwrite bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Config file '%s' already exists. Overwrite?", configPath)).
					Value(&overwrite),
			),
		)
		if err := form.Run(); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get user input",
				"Try running with --force to overwrite")
		}
		if !overwrite {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if !opts.NonInteractive {
		if err := promptInit(&opts); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get user input",
				"Check terminal compatibility or use --non-interactive")
		}
	}

	cfg, err := buildInitConfig(opts)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if err := config.Save(cfg, configPath); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to write config",
			"Check write permissions for "+filepath.Dir(configPath))
	}

	fmt.Printf("%s Created %s\n", ui.SymbolSuccess, configPath)
	if !opts.Global && cfg.API.Token != "" {
		fmt.Printf("  The file holds your token; keep it out of version control.\n")
	}
	return nil
}

func initPath(opts InitOptions) (string, error) {
	if opts.Global {
		return config.GlobalPath(), nil
	}
	dir := opts.Dir
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot determine current directory",
				"Use --global to write the global config instead")
		}
	}
	return filepath.Join(dir, config.ConfigFileName), nil
}

// buildInitConfig turns answers into a config.
func buildInitConfig(opts InitOptions) (*config.Config, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New(errors.ErrConfig,
			"API base URL is required",
			"Provide --base-url or run interactively")
	}

	cfg := config.DefaultConfig()
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	cfg.API.Token = strings.TrimSpace(opts.Token)
	cfg.API.TokenFile = strings.TrimSpace(opts.TokenFile)
	cfg.API.TokenEndpoint = strings.TrimSpace(opts.TokenEndpoint)
	cfg.API.APIKey = strings.TrimSpace(opts.APIKey)
	return cfg, nil
}

// promptInit fills opts interactively. Values passed as flags become the
// defaults.
func promptInit(opts *InitOptions) error {
	mode := authToken
	switch {
	case opts.TokenEndpoint != "":
		mode = authEndpoint
	case opts.TokenFile != "":
		mode = authTokenFile
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Description("REST endpoint of the deployment dashboard").
				Placeholder("https://api.example.com/v1").
				Value(&opts.BaseURL).
				Validate(validateBaseURL),
			huh.NewSelect[string]().
				Title("How should gpuctl authenticate?").
				Options(
					huh.NewOption("Fixed token", authToken),
					huh.NewOption("Token read from a file", authTokenFile),
					huh.NewOption("Short-lived tokens from an endpoint", authEndpoint),
				).
				Value(&mode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("API token").
				EchoMode(huh.EchoModePassword).
				Value(&opts.Token),
		).WithHideFunc(func() bool { return mode != authToken }),
		huh.NewGroup(
			huh.NewInput().
				Title("Token file").
				Placeholder("~/.config/gpuctl/token").
				Value(&opts.TokenFile),
		).WithHideFunc(func() bool { return mode != authTokenFile }),
		huh.NewGroup(
			huh.NewInput().
				Title("Token endpoint").
				Description("Absolute URL, or a path relative to the base URL").
				Placeholder("/auth/session-token").
				Value(&opts.TokenEndpoint),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&opts.APIKey),
		).WithHideFunc(func() bool { return mode != authEndpoint }),
	)

	if err := form.Run(); err != nil {
		return err
	}

	// Only the chosen mode's answers are kept.
	switch mode {
	case authToken:
		opts.TokenFile, opts.TokenEndpoint, opts.APIKey = "", "", ""
	case authTokenFile:
		opts.Token, opts.TokenEndpoint, opts.APIKey = "", "", ""
	case authEndpoint:
		opts.Token, opts.TokenFile = "", ""
	}
	return nil
}

func validateBaseURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return fmt.Errorf("enter a full URL such as https://api.example.com")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("use http or https")
	}
	return nil
}
