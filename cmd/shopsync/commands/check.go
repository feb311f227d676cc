package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
)

// CheckCmd implements the 'check' command: verify everything the daemon
// needs without mutating anything or spending classification tokens.
type CheckCmd struct{}

func (c *CheckCmd) Run(_ *Global, root *CLI) error {
	d, _, err := bootstrap(root.Config, 0)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := d.CheckHealth(ctx); err != nil {
		return err
	}
	slog.Info("All health checks passed")
	return nil
}
