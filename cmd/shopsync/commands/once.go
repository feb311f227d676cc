package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
)

// OnceCmd implements the 'once' command: a single cycle, then exit. Intended
// for cron-style scheduling and manual runs.
type OnceCmd struct{}

func (o *OnceCmd) Run(_ *Global, root *CLI) error {
	d, _, err := bootstrap(root.Config, 0)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := d.RunCycle(ctx)
	if err != nil {
		return err
	}
	slog.Info("Single cycle finished",
		slog.Int("processed", res.Processed),
		slog.Int("skipped", res.Skipped),
		slog.Int("duplicates_removed", res.DuplicatesRemoved))
	return nil
}
