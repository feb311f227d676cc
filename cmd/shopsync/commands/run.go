package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/shopsync/internal/daemon"
)

// RunCmd implements the 'run' command: the continuous sync loop.
type RunCmd struct {
	Interval time.Duration `help:"Override the configured sync interval (e.g. 30s, 5m)" placeholder:"DURATION"`
}

func (r *RunCmd) Run(_ *Global, root *CLI) error {
	d, cfg, err := bootstrap(root.Config, r.Interval)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	daemon.StartMonitor(ctx, cfg.Monitoring.ListenAddr)

	slog.Info("Sync loop starting, press Ctrl+C to stop")
	if err := d.Start(ctx); err != nil {
		return err
	}
	slog.Info("Sync loop stopped")
	return nil
}
