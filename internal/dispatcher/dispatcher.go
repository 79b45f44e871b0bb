// Package dispatcher runs extraction over selected candidates in bounded
// concurrent batches and hands each finished batch to the merger.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/creator-outreach-sync/internal/credentials"
	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

const (
	defaultConcurrency = 100
	defaultBatchSize   = 20
	maxErrorSamples    = 10
)

// ErrNoActiveCredentials aborts a run that starts with an empty credential pool.
var ErrNoActiveCredentials = errors.New("no active credential at run start")

// Extractor processes one candidate.
type Extractor interface {
	Extract(ctx context.Context, cand outreach.Candidate) outreach.ExtractionResult
}

// ResultMerger persists one batch of results.
type ResultMerger interface {
	MergeResults(ctx context.Context, results []outreach.ExtractionResult) (outreach.MergeReport, error)
}

// PoolStats exposes credential pool counts.
type PoolStats interface {
	Stats() credentials.Stats
}

// Config tunes a run.
type Config struct {
	Concurrency int
	BatchSize   int
	// MaxItems caps how many candidates are scheduled. Zero means no cap.
	MaxItems int
	// Deadline stops scheduling new items once this much time has passed and
	// cancels items still running at that point.
	Deadline time.Duration
	DryRun   bool
}

// Dispatcher fans candidates out to the extractor.
type Dispatcher struct {
	extractor Extractor
	merger    ResultMerger
	pool      PoolStats
	ids       outreach.IDGenerator
	clock     outreach.Clock
	cfg       Config
	logger    *zap.Logger
}

// New creates a Dispatcher. pool may be nil when the backend needs no credentials.
func New(
	extractor Extractor,
	merger ResultMerger,
	pool PoolStats,
	ids outreach.IDGenerator,
	clock outreach.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Dispatcher{
		extractor: extractor,
		merger:    merger,
		pool:      pool,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("dispatcher"),
	}
}

// Run processes candidates batch by batch. Each batch is merged before the
// next starts, so a run cut short by MaxItems or Deadline still persists
// everything it finished. The returned error is set only for run-level
// failures; the summary is populated either way.
func (d *Dispatcher) Run(ctx context.Context, candidates []outreach.Candidate) (outreach.RunSummary, error) {
	runID, err := d.ids.NewID()
	if err != nil {
		return outreach.RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	started := d.clock.Now()
	summary := outreach.RunSummary{
		RunID:        runID,
		StartedAt:    started,
		DryRun:       d.cfg.DryRun,
		Candidates:   len(candidates),
		StatusCounts: make(map[outreach.ContactStatus]int),
	}
	logger := d.logger.With(zap.String("run_id", runID))

	if d.pool != nil && len(candidates) > 0 {
		if stats := d.pool.Stats(); stats.Active == 0 {
			summary.FinishedAt = d.clock.Now()
			logger.Error("aborting run", zap.Int("credentials_total", stats.Total), zap.Error(ErrNoActiveCredentials))
			return summary, ErrNoActiveCredentials
		}
	}

	items := candidates
	if d.cfg.MaxItems > 0 && len(items) > d.cfg.MaxItems {
		items = items[:d.cfg.MaxItems]
		summary.Truncated = true
	}
	var deadline time.Time
	workCtx, cancel := ctx, context.CancelFunc(func() {})
	if d.cfg.Deadline > 0 {
		deadline = started.Add(d.cfg.Deadline)
		// Bounds in-flight items and their retry waits; merges keep ctx.
		workCtx, cancel = context.WithTimeout(ctx, d.cfg.Deadline)
	}
	defer cancel()

	logger.Info("run started",
		zap.Int("candidates", len(candidates)),
		zap.Int("scheduled", len(items)),
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Int("concurrency", d.cfg.Concurrency),
		zap.Bool("dry_run", d.cfg.DryRun),
	)

	for batchStart := 0; batchStart < len(items); batchStart += d.cfg.BatchSize {
		batchEnd := min(batchStart+d.cfg.BatchSize, len(items))
		results, stopped := d.runBatch(ctx, workCtx, items[batchStart:batchEnd], deadline)
		if ctxErr := ctx.Err(); ctxErr != nil {
			summary.FinishedAt = d.clock.Now()
			summary.Truncated = true
			return summary, fmt.Errorf("run %s canceled: %w", runID, ctxErr)
		}
		record(&summary, results)

		if !d.cfg.DryRun && len(results) > 0 {
			report, err := d.merger.MergeResults(ctx, results)
			summary.Merge.Add(report)
			if err != nil {
				summary.FinishedAt = d.clock.Now()
				logger.Error("aborting run, merge failed", zap.Error(err))
				return summary, fmt.Errorf("merge batch: %w", err)
			}
		}
		logger.Info("batch finished",
			zap.Int("batch_start", batchStart),
			zap.Int("results", len(results)),
			zap.Int("processed", summary.Processed),
		)
		if stopped {
			summary.Truncated = true
			logger.Warn("deadline reached, no further items scheduled", zap.Int("processed", summary.Processed))
			break
		}
	}

	summary.FinishedAt = d.clock.Now()
	logger.Info("run finished",
		zap.Int("processed", summary.Processed),
		zap.Bool("truncated", summary.Truncated),
		zap.Any("status_counts", summary.StatusCounts),
		zap.Int("merge_failed", summary.Merge.Failed),
		zap.Duration("elapsed", summary.FinishedAt.Sub(started)),
	)
	return summary, nil
}

// runBatch extracts every item in batch, up to Concurrency at once. A worker
// slot is taken before the deadline is checked, so an item that waited for a
// slot past the deadline is never started. Items run under a context that
// expires at the deadline; ones it cut short with an error are dropped and left
// for the next run. It reports whether the batch stopped early.
func (d *Dispatcher) runBatch(ctx, workCtx context.Context, batch []outreach.Candidate, deadline time.Time) ([]outreach.ExtractionResult, bool) {
	results := make([]outreach.ExtractionResult, len(batch))
	finished := make([]bool, len(batch))
	stopped := false

	slots := semaphore.NewWeighted(int64(d.cfg.Concurrency))
	var g errgroup.Group
	for i, cand := range batch {
		if err := slots.Acquire(workCtx, 1); err != nil {
			stopped = true
			break
		}
		if workCtx.Err() != nil || d.pastDeadline(deadline) {
			slots.Release(1)
			stopped = true
			break
		}
		g.Go(func() error {
			defer slots.Release(1)
			res := d.extractor.Extract(workCtx, cand)
			if res.Status == outreach.ContactError && workCtx.Err() != nil && ctx.Err() == nil {
				return nil
			}
			results[i] = res
			finished[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for i, done := range finished {
		if done {
			out = append(out, results[i])
		}
	}
	if len(out) < len(batch) && workCtx.Err() != nil {
		stopped = true
	}
	return out, stopped
}

func (d *Dispatcher) pastDeadline(deadline time.Time) bool {
	return !deadline.IsZero() && !d.clock.Now().Before(deadline)
}

func record(summary *outreach.RunSummary, results []outreach.ExtractionResult) {
	for _, res := range results {
		summary.Processed++
		summary.StatusCounts[res.Status]++
		if res.SiteHash != "" {
			summary.SiteHashes = append(summary.SiteHashes, res.SiteHash)
		}
		if res.Error == "" || len(summary.Errors) >= maxErrorSamples {
			continue
		}
		if res.Status == outreach.ContactError || res.Status == outreach.ContactBlocked {
			summary.Errors = append(summary.Errors, outreach.ItemError{
				CreatorID: res.CreatorID,
				Status:    res.Status,
				Message:   res.Error,
			})
		}
	}
}
