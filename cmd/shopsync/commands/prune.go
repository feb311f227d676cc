package commands

import (
	"log/slog"
	"time"

	"git.home.luguber.info/inful/shopsync/internal/config"
	"git.home.luguber.info/inful/shopsync/internal/state"
)

// PruneCmd implements the 'prune' command: drop state records for items not
// seen on the remote list recently. The sync cycle itself never deletes
// records; this is the explicit operator hook that keeps the state file from
// growing without bound.
type PruneCmd struct {
	OlderThan time.Duration `help:"Remove records last seen longer ago than this" default:"720h"`
	DryRun    bool          `help:"Report what would be removed without saving"`
}

func (p *PruneCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}

	st, err := state.Load(cfg.State.Path)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-p.OlderThan)
	pruned := st.PruneBefore(cutoff)
	slog.Info("Prune computed",
		slog.Int("pruned", pruned),
		slog.Int("remaining", st.Len()),
		slog.Time("cutoff", cutoff))

	if p.DryRun || pruned == 0 {
		return nil
	}
	return st.Save()
}
