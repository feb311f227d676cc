// Package commands defines the shopsync CLI surface.
package commands

import (
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/shopsync/internal/classify"
	"git.home.luguber.info/inful/shopsync/internal/config"
	"git.home.luguber.info/inful/shopsync/internal/daemon"
	"git.home.luguber.info/inful/shopsync/internal/logfields"
	"git.home.luguber.info/inful/shopsync/internal/retry"
	"git.home.luguber.info/inful/shopsync/internal/state"
	"git.home.luguber.info/inful/shopsync/internal/synerr"
	"git.home.luguber.info/inful/shopsync/internal/taxonomy"
	"git.home.luguber.info/inful/shopsync/internal/todoist"
)

// Global carries state shared across subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run   RunCmd   `cmd:"" help:"Run the sync loop continuously"`
	Once  OnceCmd  `cmd:"" help:"Run a single sync cycle and exit"`
	Check CheckCmd `cmd:"" help:"Verify connectivity and configuration without syncing"`
	Prune PruneCmd `cmd:"" help:"Remove stale records from the local state file"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// bootstrap loads configuration and wires the full daemon stack. A corrupt
// state file is logged and replaced with an empty store rather than aborting;
// any other failure is fatal. A positive intervalOverride replaces
// sync.interval from the config file and is validated the same way.
func bootstrap(configPath string, intervalOverride time.Duration) (*daemon.Daemon, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if intervalOverride > 0 {
		cfg.Sync.Interval = intervalOverride.String()
		if _, err := cfg.Interval(); err != nil {
			return nil, nil, err
		}
	}

	tx, err := taxonomy.Load(cfg.Taxonomy.Path)
	if err != nil {
		return nil, nil, err
	}

	st, err := state.Load(cfg.State.Path)
	if err != nil {
		if synerr.KindOf(err) != synerr.KindStateCorrupt {
			return nil, nil, err
		}
		slog.Warn("State file unreadable, starting from an empty store",
			slog.String("path", cfg.State.Path), logfields.Error(err))
	}

	policy := retry.DefaultPolicy()
	remote := todoist.New(cfg.Todoist.APIToken, cfg.Todoist.BaseURL, policy)
	classifier := classify.New(cfg.Classifier.APIKey, cfg.Classifier.Model, tx, policy)

	d, err := daemon.New(cfg, tx, st, remote, classifier)
	if err != nil {
		return nil, nil, err
	}

	interval, _ := cfg.Interval()
	slog.Info("Configuration loaded", slog.String("summary", cfg.Summary(interval, tx.Len())))
	return d, cfg, nil
}
