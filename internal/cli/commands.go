package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/gpuctl/internal/errors"
)

// Command-specific flags
var (
	initOpts  InitOptions
	initForce bool
)

// terminalCmd attaches to a deployment shell
var terminalCmd = &cobra.Command{
	Use:     "terminal <deployment>",
	Aliases: []string{"ssh", "shell"},
	Short:   "Open an interactive shell on a deployment",
	Long: `Attach the local terminal to a shell on the deployment.

The session reconnects by itself after network drops. Window size is sent
on connect and again after every reconnect. When the retries run out,
press Enter to try again.

Press Ctrl-] to detach. The exit status is 2 when the session had failed
by the time you detached, 0 otherwise.

Examples:
  gpuctl terminal dep-123
  gpuctl terminal dep-123 --verbose`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return terminalCommand(ctx, args[0])
	},
}

// monitorCmd starts the TUI telemetry dashboard
var monitorCmd = &cobra.Command{
	Use:   "monitor <deployment>",
	Short: "Live GPU and system telemetry for a deployment",
	Long: `Start an interactive dashboard showing the latest telemetry sample
and sparklines over the recent history (metrics.history_size samples).

Readings the server does not report are shown as a dash, never as zero.

Keyboard shortcuts:
  q / Ctrl+C  Quit
  r           Reconnect (after failure or disconnect)
  ?           Show help

Examples:
  gpuctl monitor dep-123
  gpuctl monitor dep-123 --metrics-addr :9108`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return monitorCommand(ctx, args[0])
	},
}

// initCmd creates a new config file
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .gpuctl.yaml configuration",
	Long: `Create a config file with the API endpoint and credentials.

Writes .gpuctl.yaml in the current directory, or the global config with
--global. Prompts for anything not given as a flag.

Examples:
  gpuctl init
  gpuctl init --global
  gpuctl init --non-interactive --base-url https://api.example.com --token-file ~/.gpuctl-token`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		initOpts.Overwrite = initForce
		return Init(initOpts)
	},
}

// configCmd groups config helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change configuration",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one config value, keeping the rest of the file",
	Long: `Set a dotted key in the active config file. Comments and layout of
the rest of the file are preserved.

Examples:
  gpuctl config set session.max_attempts 5
  gpuctl config set api.base_url https://api.example.com`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return configSet(cmd, args[0], args[1])
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file in use",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if loadedPath == "" {
			cmd.Println("no config file (defaults and environment only)")
			return
		}
		cmd.Println(loadedPath)
	},
}

// completionCmd generates shell completion scripts
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion scripts for gpuctl.

Examples:
  # Bash
  gpuctl completion bash > /etc/bash_completion.d/gpuctl

  # Zsh
  gpuctl completion zsh > "${fpath[1]}/_gpuctl"

  # Fish
  gpuctl completion fish > ~/.config/fish/completions/gpuctl.fish`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletion(out)
		default:
			return errors.New(errors.ErrConfig,
				"Unknown shell: "+args[0],
				"Supported shells: bash, zsh, fish, powershell")
		}
	},
}

func init() {
	initCmd.Flags().StringVar(&initOpts.BaseURL, "base-url", "", "API base URL")
	initCmd.Flags().StringVar(&initOpts.Token, "token", "", "fixed API token")
	initCmd.Flags().StringVar(&initOpts.TokenFile, "token-file", "", "file holding the API token")
	initCmd.Flags().StringVar(&initOpts.TokenEndpoint, "token-endpoint", "", "endpoint issuing short-lived tokens")
	initCmd.Flags().StringVar(&initOpts.APIKey, "api-key", "", "API key for the token endpoint")
	initCmd.Flags().BoolVar(&initOpts.Global, "global", false, "write the global config instead of ./.gpuctl.yaml")
	initCmd.Flags().BoolVar(&initOpts.NonInteractive, "non-interactive", false, "skip prompts")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing config")

	initCmd.Annotations = map[string]string{skipConfig: "true"}
	completionCmd.Annotations = map[string]string{skipConfig: "true"}

	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)

	rootCmd.AddCommand(terminalCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(completionCmd)
}

// signalContext is cancelled on SIGTERM or SIGHUP. SIGINT is left alone: in
// the terminal it is a keystroke for the remote shell, and the dashboard
// handles Ctrl+C itself.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGHUP)
}

// configSet updates one key in the active config file.
func configSet(cmd *cobra.Command, key, value string) error {
	path := loadedPath
	if path == "" {
		return errors.New(errors.ErrConfig,
			"No config file to update",
			"Run 'gpuctl init' first")
	}
	if err := setConfigValue(path, key, value); err != nil {
		return err
	}
	cmd.Printf("%s = %s (%s)\n", key, value, path)
	return nil
}
