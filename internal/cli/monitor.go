package cli

import (
	"context"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rileyhilliard/gpuctl/internal/errors"
	"github.com/rileyhilliard/gpuctl/internal/logger"
	"github.com/rileyhilliard/gpuctl/internal/monitor"
	"github.com/rileyhilliard/gpuctl/internal/session"
	"github.com/rileyhilliard/gpuctl/internal/telemetry"
)

// monitorCommand starts the TUI telemetry dashboard.
func monitorCommand(ctx context.Context, deployment string) error {
	cfg := loadedConfig

	// stderr would draw over the alt screen, so the dashboard logs to a file
	// when --verbose is set and nowhere otherwise.
	log := logger.Noop()
	if verbose {
		path := filepath.Join(os.TempDir(), "gpuctl-monitor.log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot open debug log "+path,
				"Run without --verbose")
		}
		defer f.Close()
		log = logger.New(f, "debug", "monitor")
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	if a.metrics, err = serveMetrics(ctx, metricsAddr, log); err != nil {
		return err
	}

	title, err := a.describe(ctx, deployment)
	if err != nil {
		return err
	}

	sess, err := a.newSession(deployment, session.ChannelMetrics)
	if err != nil {
		return err
	}

	stream := telemetry.New(sess, telemetry.Options{
		Capacity: cfg.Metrics.HistorySize,
		Logger:   log,
	})
	defer stream.Close()

	model := monitor.NewModel(stream, title)
	stream.Connect()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()

	stream.Disconnect()

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.WrapWithCode(err, errors.ErrSession,
			"Dashboard stopped unexpectedly",
			"Try a larger terminal window, or run with --verbose")
	}
	return nil
}
