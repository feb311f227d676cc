// Package daemon drives the synchronization loop: fetch remote items, run
// the reconciliation engine, persist local state, repeat on an interval.
// One cycle runs to completion before the next begins; cycles never overlap.
package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/shopsync/internal/config"
	"git.home.luguber.info/inful/shopsync/internal/engine"
	"git.home.luguber.info/inful/shopsync/internal/logfields"
	"git.home.luguber.info/inful/shopsync/internal/state"
	"git.home.luguber.info/inful/shopsync/internal/synerr"
	"git.home.luguber.info/inful/shopsync/internal/taxonomy"
	"git.home.luguber.info/inful/shopsync/internal/todoist"
)

// RemoteAPI is the full remote surface the orchestrator needs: the engine's
// mutation slice plus project resolution and item listing.
type RemoteAPI interface {
	engine.RemoteList
	ResolveProject(ctx context.Context, projectID, projectName string) (todoist.Project, error)
	FetchItems(ctx context.Context, projectID string) ([]todoist.Item, error)
}

// Daemon owns one store and one engine. Not safe for concurrent RunCycle
// calls; the scheduler's singleton mode guarantees serial execution.
type Daemon struct {
	cfg       *config.Config
	tx        *taxonomy.Taxonomy
	store     *state.Store
	remote    RemoteAPI
	eng       *engine.Engine
	interval  time.Duration
	scheduler gocron.Scheduler

	// lastSnapshot is the hash of the remote state after the last fully
	// successful cycle; a matching fetch means nothing to do.
	lastSnapshot string
}

// New wires a daemon from loaded configuration and collaborators.
func New(cfg *config.Config, tx *taxonomy.Taxonomy, st *state.Store, remote RemoteAPI, classifier engine.Classifier) (*Daemon, error) {
	interval, err := cfg.Interval()
	if err != nil {
		return nil, err
	}
	return &Daemon{
		cfg:      cfg,
		tx:       tx,
		store:    st,
		remote:   remote,
		eng:      engine.New(remote, classifier, tx, cfg.Sync.ClassifyConcurrency),
		interval: interval,
	}, nil
}

// Interval is the effective delay between cycles in continuous mode.
func (d *Daemon) Interval() time.Duration { return d.interval }

// RunCycle executes one fetch → reconcile → persist pass.
//
// The returned result is always valid. A non-nil error is either cycle-fatal
// (engine aborted; whatever progress was made is already persisted) or a
// state-persist failure (reconciliation finished, the save retries next
// cycle). Neither should stop a continuous-mode loop.
func (d *Daemon) RunCycle(ctx context.Context) (*engine.CycleResult, error) {
	cycleID := uuid.NewString()
	start := time.Now()
	log := slog.With(logfields.CycleID(cycleID))
	log.Info("Starting sync cycle")

	project, err := d.remote.ResolveProject(ctx, d.cfg.Todoist.ProjectID, d.cfg.Todoist.ProjectName)
	if err != nil {
		recordCycle(nil, outcomeError)
		return &engine.CycleResult{}, err
	}

	items, err := d.remote.FetchItems(ctx, project.ID)
	if err != nil {
		recordCycle(nil, outcomeError)
		return &engine.CycleResult{}, err
	}

	snapshot := snapshotHash(items)
	if snapshot == d.lastSnapshot {
		log.Info("No changes detected, skipping reconciliation")
		recordCycle(nil, outcomeUnchanged)
		return &engine.CycleResult{}, nil
	}

	res, engErr := d.eng.Reconcile(ctx, project.ID, items, d.store)

	// Persist whatever the engine accomplished, even after a fatal error:
	// progress capture keeps the next cycle from re-paying for finished work.
	saveErr := d.store.Save()
	if saveErr != nil {
		log.Warn("Failed to persist local state, will retry next cycle", logfields.Error(saveErr))
	}

	elapsed := time.Since(start)
	switch {
	case engErr != nil:
		log.Error("Cycle aborted", logfields.Error(engErr), logfields.DurationMS(float64(elapsed.Milliseconds())))
		recordCycle(res, outcomeError)
		return res, engErr
	case saveErr != nil:
		recordCycle(res, outcomeDegraded)
		return res, saveErr
	}

	d.lastSnapshot = snapshot
	outcome := outcomeOK
	if res.Degraded > 0 {
		outcome = outcomeDegraded
	}
	recordCycle(res, outcome)
	log.Info("Cycle completed",
		slog.Int("processed", res.Processed),
		slog.Int("skipped", res.Skipped),
		slog.Int("degraded", res.Degraded),
		slog.Int("duplicates_removed", res.DuplicatesRemoved),
		slog.Int("mutations", res.MutationsApplied),
		logfields.DurationMS(float64(elapsed.Milliseconds())))
	return res, nil
}

// Start runs the loop until ctx is cancelled. The first cycle fires
// immediately; subsequent cycles follow the configured interval. Errors are
// logged and the loop proceeds to the next tick.
func (d *Daemon) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	d.scheduler = s

	_, err = s.NewJob(
		gocron.DurationJob(d.interval),
		gocron.NewTask(d.runScheduled, ctx),
		gocron.WithName("sync-cycle"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule sync job: %w", err)
	}

	slog.Info("Starting sync loop", slog.Duration("interval", d.interval))
	s.Start()

	<-ctx.Done()
	return d.Stop()
}

func (d *Daemon) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := d.RunCycle(ctx); err != nil {
		if synerr.IsProcessFatal(err) {
			// Config errors cannot appear mid-loop; log loudly if one does.
			slog.Error("Unexpected configuration failure mid-loop", logfields.Error(err))
		}
		slog.Error("Sync cycle failed, continuing on next interval", logfields.Error(err))
	}
}

// Stop shuts the scheduler down, letting a running cycle finish its commit
// point.
func (d *Daemon) Stop() error {
	if d.scheduler == nil {
		return nil
	}
	slog.Info("Stopping sync loop")
	return d.scheduler.Shutdown()
}

// snapshotHash produces a stable digest of the remote state relevant to
// reconciliation. Order-insensitive: items are hashed sorted by id.
func snapshotHash(items []todoist.Item) string {
	rows := make([]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, it.ID+"\x00"+it.Content+"\x00"+it.SectionID)
	}
	sort.Strings(rows)

	h := sha256.New()
	for _, r := range rows {
		h.Write([]byte(r))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
