// Package state keeps the pipeline watermark: when the last run happened and
// which site fingerprint it covered.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

const singletonID = 1

// Tracker reads and advances the singleton pipeline_state row.
type Tracker struct {
	store  outreach.StateStore
	hasher outreach.Hasher
	clock  outreach.Clock
	logger *zap.Logger
}

// New constructs a Tracker.
func New(store outreach.StateStore, hasher outreach.Hasher, clock outreach.Clock, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, hasher: hasher, clock: clock, logger: logger.Named("state")}
}

// runNotes is the JSON stored in run_notes.
type runNotes struct {
	RunID        string                         `json:"run_id"`
	StartedAt    time.Time                      `json:"started_at"`
	FinishedAt   time.Time                      `json:"finished_at"`
	Truncated    bool                           `json:"truncated"`
	Candidates   int                            `json:"candidates"`
	Processed    int                            `json:"processed"`
	StatusCounts map[outreach.ContactStatus]int `json:"status_counts"`
	Merge        outreach.MergeReport           `json:"merge"`
	Errors       []outreach.ItemError           `json:"errors,omitempty"`
}

// LoadWatermark returns the singleton row, creating it with defaults first if
// it is missing.
func (t *Tracker) LoadWatermark(ctx context.Context) (outreach.PipelineState, error) {
	st, err := t.store.GetPipelineState(ctx)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, outreach.ErrNotFound) {
		return outreach.PipelineState{}, fmt.Errorf("load pipeline state: %w", err)
	}
	st = outreach.PipelineState{ID: singletonID}
	if err := t.store.InsertPipelineState(ctx, st); err != nil {
		return outreach.PipelineState{}, fmt.Errorf("create pipeline state: %w", err)
	}
	t.logger.Info("created pipeline state row")
	return st, nil
}

// CommitWatermark records a finished contact run. Dry runs are ignored.
// Truncated runs only advance last_run_at and run_notes so the next run
// still sees the skipped creators as pending.
func (t *Tracker) CommitWatermark(ctx context.Context, summary outreach.RunSummary) error {
	if summary.DryRun {
		t.logger.Info("dry run, watermark not committed", zap.String("run_id", summary.RunID))
		return nil
	}
	st, err := t.LoadWatermark(ctx)
	if err != nil {
		return err
	}

	finished := summary.FinishedAt
	if finished.IsZero() {
		finished = t.clock.Now()
	}
	st.ID = singletonID
	st.LastRunAt = &finished
	if !summary.Truncated {
		started := summary.StartedAt
		st.LastContactCheckAt = &started
		fingerprint, err := t.Fingerprint(summary.SiteHashes)
		if err != nil {
			return err
		}
		// a run that processed nothing keeps the previous fingerprint
		if fingerprint != "" {
			st.LastSiteHash = fingerprint
		}
	}

	notes, err := json.Marshal(runNotes{
		RunID:        summary.RunID,
		StartedAt:    summary.StartedAt,
		FinishedAt:   finished,
		Truncated:    summary.Truncated,
		Candidates:   summary.Candidates,
		Processed:    summary.Processed,
		StatusCounts: summary.StatusCounts,
		Merge:        summary.Merge,
		Errors:       summary.Errors,
	})
	if err != nil {
		return fmt.Errorf("encode run notes: %w", err)
	}
	st.RunNotes = notes

	if err := t.store.SavePipelineState(ctx, st); err != nil {
		return fmt.Errorf("save pipeline state: %w", err)
	}
	t.logger.Info("watermark committed",
		zap.String("run_id", summary.RunID),
		zap.Bool("truncated", summary.Truncated),
		zap.String("site_hash", st.LastSiteHash),
	)
	return nil
}

// AdvanceProjectWatermark moves last_project_created_at forward to latest.
// Older or nil values are ignored.
func (t *Tracker) AdvanceProjectWatermark(ctx context.Context, latest *time.Time) error {
	if latest == nil {
		return nil
	}
	st, err := t.LoadWatermark(ctx)
	if err != nil {
		return err
	}
	if st.LastProjectCreatedAt != nil && !latest.After(*st.LastProjectCreatedAt) {
		return nil
	}
	value := *latest
	st.ID = singletonID
	st.LastProjectCreatedAt = &value
	if err := t.store.SavePipelineState(ctx, st); err != nil {
		return fmt.Errorf("save pipeline state: %w", err)
	}
	t.logger.Info("project watermark advanced", zap.Time("last_project_created_at", value))
	return nil
}

// Fingerprint digests a set of site hashes independent of their order.
func (t *Tracker) Fingerprint(siteHashes []string) (string, error) {
	if len(siteHashes) == 0 {
		return "", nil
	}
	sorted := slices.Clone(siteHashes)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	digest, err := t.hasher.Hash([]byte(strings.Join(sorted, "\n")))
	if err != nil {
		return "", fmt.Errorf("fingerprint site hashes: %w", err)
	}
	return digest, nil
}
