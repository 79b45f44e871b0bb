// Package merger writes extraction results and upstream snapshots back to
// storage without clobbering human-owned outreach state.
package merger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/metrics"
	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

const defaultChunkSize = 500

// Config tunes the merger.
type Config struct {
	// ChunkSize is how many snapshot entities are written between progress logs.
	ChunkSize int
}

// Merger applies hash-guarded, field-level upserts one entity at a time.
type Merger struct {
	outreach  outreach.OutreachStore
	snapshots outreach.SnapshotStore
	clock     outreach.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Merger. snapshots may be nil when only results are merged.
func New(store outreach.OutreachStore, snapshots outreach.SnapshotStore, clock outreach.Clock, cfg Config, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	return &Merger{
		outreach:  store,
		snapshots: snapshots,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("merger"),
	}
}

// MergeResults folds a batch of extraction results into creator_outreach.
// Entity failures are isolated in the report; an unreachable store aborts.
func (m *Merger) MergeResults(ctx context.Context, results []outreach.ExtractionResult) (outreach.MergeReport, error) {
	var report outreach.MergeReport
	for _, res := range results {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("merge results: %w", err)
		}
		if err := m.mergePatch(ctx, "outreach", res.Patch(), &report); err != nil {
			return report, err
		}
	}
	m.logger.Debug("results merged",
		zap.Int("results", len(results)),
		zap.Int("inserted", report.Inserted),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// MergeSnapshots upserts creators and projects guarded by data_hash and
// refreshes every creator's derived social flags.
func (m *Merger) MergeSnapshots(ctx context.Context, snap outreach.Snapshot) (outreach.SnapshotReport, error) {
	var report outreach.SnapshotReport
	if m.snapshots == nil {
		return report, errors.New("merge snapshots: no snapshot store configured")
	}

	for i, creator := range snap.Creators {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("merge snapshots: %w", err)
		}
		id := strconv.FormatInt(creator.ID, 10)
		if creator.DataHash == "" {
			report.Creators.Fail(id, errors.New("creator has no data_hash"))
			metrics.ObserveMerge("creator", "failed")
			continue
		}
		outcome, err := m.snapshots.UpsertCreator(ctx, creator)
		if err != nil {
			if errors.Is(err, outreach.ErrStorageUnavailable) {
				return report, fmt.Errorf("upsert creator %d: %w", creator.ID, err)
			}
			report.Creators.Fail(id, err)
			metrics.ObserveMerge("creator", "failed")
			continue
		}
		report.Creators.Record(outcome)
		metrics.ObserveMerge("creator", string(outcome))

		flags := outreach.DeriveFlags(creator.Websites)
		patch := outreach.OutreachPatch{CreatorID: creator.ID, Flags: &flags}
		if err := m.mergePatch(ctx, "outreach", patch, &report.Outreach); err != nil {
			return report, err
		}
		m.progress("creators", i+1, len(snap.Creators))
	}

	for i, project := range snap.Projects {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("merge snapshots: %w", err)
		}
		id := strconv.FormatInt(project.ID, 10)
		if project.DataHash == "" {
			report.Projects.Fail(id, errors.New("project has no data_hash"))
			metrics.ObserveMerge("project", "failed")
			continue
		}
		outcome, err := m.snapshots.UpsertProject(ctx, project)
		if err != nil {
			if errors.Is(err, outreach.ErrStorageUnavailable) {
				return report, fmt.Errorf("upsert project %d: %w", project.ID, err)
			}
			report.Projects.Fail(id, err)
			metrics.ObserveMerge("project", "failed")
			continue
		}
		report.Projects.Record(outcome)
		metrics.ObserveMerge("project", string(outcome))
		if project.CreatedAtSource != nil &&
			(report.LatestProjectCreatedAt == nil || project.CreatedAtSource.After(*report.LatestProjectCreatedAt)) {
			latest := *project.CreatedAtSource
			report.LatestProjectCreatedAt = &latest
		}
		m.progress("projects", i+1, len(snap.Projects))
	}

	m.logger.Info("snapshot merged",
		zap.Any("creators", report.Creators),
		zap.Any("projects", report.Projects),
		zap.Any("outreach", report.Outreach),
	)
	return report, nil
}

func (m *Merger) mergePatch(ctx context.Context, entity string, patch outreach.OutreachPatch, report *outreach.MergeReport) error {
	outcome, err := m.outreach.MutateOutreach(ctx, patch.CreatorID, func(existing *outreach.CreatorOutreach) (outreach.CreatorOutreach, bool, error) {
		next, changed := Apply(existing, patch, m.clock.Now())
		return next, changed, nil
	})
	if err != nil {
		if errors.Is(err, outreach.ErrStorageUnavailable) || ctx.Err() != nil {
			return fmt.Errorf("merge creator %d: %w", patch.CreatorID, err)
		}
		m.logger.Warn("merge failed", zap.Int64("creator_id", patch.CreatorID), zap.Error(err))
		report.Fail(strconv.FormatInt(patch.CreatorID, 10), err)
		metrics.ObserveMerge(entity, "failed")
		return nil
	}
	report.Record(outcome)
	metrics.ObserveMerge(entity, string(outcome))
	return nil
}

func (m *Merger) progress(kind string, done, total int) {
	if done%m.cfg.ChunkSize == 0 || done == total {
		m.logger.Info("snapshot progress", zap.String("entity", kind), zap.Int("done", done), zap.Int("total", total))
	}
}
