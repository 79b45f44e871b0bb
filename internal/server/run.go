package server

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
	"github.com/JakeFAU/creator-outreach-sync/internal/report"
)

// ErrMigrationsUnsupported is returned by Migrate without a Postgres store.
var ErrMigrationsUnsupported = errors.New("migrations require a postgres store")

// RunContacts performs one contact-extraction run: load the blocklist and
// credentials, select candidates, dispatch them, commit the watermark and
// report the outcome.
func (a *App) RunContacts(ctx context.Context) (report.RunCompleted, error) {
	summary, err := a.runContacts(ctx)
	event := a.reporter.Record(ctx, summary, err)
	return event, err
}

func (a *App) runContacts(ctx context.Context) (outreach.RunSummary, error) {
	var summary outreach.RunSummary
	if err := a.blocklist.Load(ctx); err != nil {
		return summary, fmt.Errorf("load blocklist: %w", err)
	}
	if a.pool != nil {
		if err := a.pool.Load(ctx); err != nil {
			return summary, fmt.Errorf("load credentials: %w", err)
		}
	}
	st, err := a.tracker.LoadWatermark(ctx)
	if err != nil {
		return summary, err
	}
	candidates, err := a.selector.Select(ctx, st)
	if err != nil {
		return summary, fmt.Errorf("select candidates: %w", err)
	}
	summary, err = a.dispatcher.Run(ctx, candidates)
	if err != nil {
		return summary, err
	}
	if err := a.tracker.CommitWatermark(ctx, summary); err != nil {
		return summary, err
	}
	a.logger.Info("contact run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("candidates", summary.Candidates),
		zap.Int("processed", summary.Processed),
		zap.Bool("truncated", summary.Truncated),
		zap.Bool("dry_run", summary.DryRun),
	)
	return summary, nil
}

// SyncSnapshots loads an upstream snapshot and merges it into the store.
// An empty source falls back to sync.source.
func (a *App) SyncSnapshots(ctx context.Context, source string) (outreach.SnapshotReport, error) {
	if source == "" {
		source = a.cfg.Sync.Source
	}
	if source == "" {
		return outreach.SnapshotReport{}, errors.New("snapshot source is required")
	}
	snap, err := a.snapshots.Load(ctx, source)
	if err != nil {
		return outreach.SnapshotReport{}, err
	}
	if a.cfg.Pipeline.DryRun {
		a.logger.Info("dry run, snapshot not merged",
			zap.Int("creators", len(snap.Creators)),
			zap.Int("projects", len(snap.Projects)),
		)
		return outreach.SnapshotReport{}, nil
	}
	rep, err := a.merger.MergeSnapshots(ctx, snap)
	if err != nil {
		return rep, fmt.Errorf("merge snapshot: %w", err)
	}
	if err := a.tracker.AdvanceProjectWatermark(ctx, rep.LatestProjectCreatedAt); err != nil {
		return rep, err
	}
	return rep, nil
}

// Migrate applies the Postgres schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.pg == nil {
		return ErrMigrationsUnsupported
	}
	if err := a.pg.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema migrated")
	return nil
}

// State returns the current pipeline watermark.
func (a *App) State(ctx context.Context) (outreach.PipelineState, error) {
	return a.tracker.LoadWatermark(ctx)
}
