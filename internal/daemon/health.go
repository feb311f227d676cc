package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/shopsync/internal/logfields"
)

// healthCheck is one named probe. Probes are cheap and read-only: no
// classification calls are made and no remote state is mutated.
type healthCheck struct {
	name string
	run  func(ctx context.Context) error
}

// CheckHealth verifies the daemon could run: remote reachability, project
// resolution, section listing, state-file writability and taxonomy shape.
// All probes run even after a failure; the returned error joins every
// failure so the operator sees the full picture in one pass.
func (d *Daemon) CheckHealth(ctx context.Context) error {
	var projectID string

	checks := []healthCheck{
		{"todoist project", func(ctx context.Context) error {
			p, err := d.remote.ResolveProject(ctx, d.cfg.Todoist.ProjectID, d.cfg.Todoist.ProjectName)
			if err != nil {
				return err
			}
			projectID = p.ID
			slog.Info("Project resolved", logfields.Project(p.Name), slog.String("id", p.ID))
			return nil
		}},
		{"todoist sections", func(ctx context.Context) error {
			if projectID == "" {
				return errors.New("skipped: project not resolved")
			}
			sections, err := d.remote.FetchSections(ctx, projectID)
			if err != nil {
				return err
			}
			slog.Info("Sections listed", slog.Int("count", len(sections)))
			return nil
		}},
		{"state file", func(_ context.Context) error {
			return d.store.CheckWritable()
		}},
		{"taxonomy", func(_ context.Context) error {
			slog.Info("Taxonomy loaded", slog.Int("categories", d.tx.Len()))
			return nil
		}},
		{"classifier credentials", func(_ context.Context) error {
			if d.cfg.Classifier.APIKey == "" {
				return errors.New("classifier.api_key is empty")
			}
			return nil
		}},
	}

	var failures []error
	for _, c := range checks {
		if err := c.run(ctx); err != nil {
			slog.Error("Health check failed", slog.String("check", c.name), logfields.Error(err))
			failures = append(failures, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		slog.Info("Health check passed", slog.String("check", c.name))
	}
	return errors.Join(failures...)
}
