package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rileyhilliard/gpuctl/internal/config"
	"github.com/rileyhilliard/gpuctl/internal/errors"
	"github.com/rileyhilliard/gpuctl/internal/logger"
	"github.com/rileyhilliard/gpuctl/internal/session"
	"github.com/rileyhilliard/gpuctl/internal/ui"
)

// Global flags
var (
	cfgFile     string
	verbose     bool
	noColor     bool
	metricsAddr string
)

// Loaded by PersistentPreRunE.
var (
	loadedConfig *config.Config
	loadedPath   string
)

var rootCmd = &cobra.Command{
	Use:   "gpuctl",
	Short: "Terminal and live telemetry for GPU deployments",
	Long: `gpuctl opens resilient streaming sessions to GPU deployments.

Sessions reconnect on their own after network drops, with capped
exponential backoff, and stop after a configured number of attempts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .gpuctl.yaml, then ~/.config/gpuctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus session metrics on this address (e.g. :9108)")
}

// Execute runs the root command and exits with the right code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if code, ok := errors.GetExitCode(err); ok {
			os.Exit(code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// skipConfig marks commands that run without loading config.
const skipConfig = "gpuctl/skip-config"

// loadConfig reads and validates config, then applies output settings.
func loadConfig(cmd *cobra.Command) error {
	if cmd.Annotations[skipConfig] != "" {
		applyColorMode("auto")
		return nil
	}

	cfg, path, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	loadedConfig, loadedPath = cfg, path

	applyColorMode(cfg.Output.Color)
	return nil
}

// applyColorMode honors --no-color, NO_COLOR and output.color.
func applyColorMode(mode string) {
	if noColor || os.Getenv("NO_COLOR") != "" {
		ui.DisableColors()
		return
	}
	switch mode {
	case "never":
		ui.DisableColors()
	case "auto":
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			ui.DisableColors()
		}
	}
}

// newLogger returns the stderr logger for a component.
func newLogger(cfg *config.Config, component string) logger.Logger {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return logger.NewConsole(level, component)
}

// serveMetrics exposes session metrics on addr until ctx ends. It returns
// nil metrics when addr is empty.
func serveMetrics(ctx context.Context, addr string, log logger.Logger) (*session.Metrics, error) {
	if addr == "" {
		return nil, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot listen on "+addr,
			"Pick a free address for --metrics-addr")
	}

	metrics := session.NewMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics on http://%s/metrics", ln.Addr())
	return metrics, nil
}
