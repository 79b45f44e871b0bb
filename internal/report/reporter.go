// Package report archives run summaries and announces finished runs.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

// EventRunCompleted is the event_type attribute of published run events.
const EventRunCompleted = "outreach.run.completed"

// RunCompleted is the published event for one contact run.
type RunCompleted struct {
	EventType  string              `json:"event_type"`
	RunID      string              `json:"run_id"`
	Summary    outreach.RunSummary `json:"summary"`
	ArchiveURI string              `json:"archive_uri,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Attributes are set on the Pub/Sub message for subscription filtering.
func (e RunCompleted) Attributes() map[string]string {
	attrs := map[string]string{
		"event_type": e.EventType,
		"run_id":     e.RunID,
		"dry_run":    fmt.Sprint(e.Summary.DryRun),
		"truncated":  fmt.Sprint(e.Summary.Truncated),
	}
	if e.Error != "" {
		attrs["failed"] = "true"
	}
	return attrs
}

// Config selects where summaries go. Empty Topic disables publishing.
type Config struct {
	Prefix string
	Topic  string
}

// Reporter archives and publishes summaries and remembers the latest one.
// blobs and publisher may be nil.
type Reporter struct {
	blobs     outreach.BlobStore
	publisher outreach.Publisher
	cfg       Config
	logger    *zap.Logger

	mu   sync.RWMutex
	last *RunCompleted
}

// New constructs a Reporter.
func New(blobs outreach.BlobStore, publisher outreach.Publisher, cfg Config, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{blobs: blobs, publisher: publisher, cfg: cfg, logger: logger.Named("report")}
}

// Record stores the summary of a finished run. runErr is the run-level error,
// if any. Archive and publish failures are logged, never returned: losing a
// report must not fail a run whose results are already merged.
func (r *Reporter) Record(ctx context.Context, summary outreach.RunSummary, runErr error) RunCompleted {
	event := RunCompleted{EventType: EventRunCompleted, RunID: summary.RunID, Summary: summary}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	logger := r.logger.With(zap.String("run_id", summary.RunID))

	if r.blobs != nil {
		uri, err := r.archive(ctx, event)
		if err != nil {
			logger.Warn("archive run summary failed", zap.Error(err))
		} else {
			event.ArchiveURI = uri
		}
	}
	if r.publisher != nil && r.cfg.Topic != "" {
		id, err := r.publisher.Publish(ctx, r.cfg.Topic, event)
		if err != nil {
			logger.Warn("publish run event failed", zap.Error(err))
		} else {
			logger.Info("run event published", zap.String("message_id", id))
		}
	}

	r.mu.Lock()
	r.last = &event
	r.mu.Unlock()
	return event
}

// Last returns the most recently recorded run.
func (r *Reporter) Last() (RunCompleted, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return RunCompleted{}, false
	}
	return *r.last, true
}

func (r *Reporter) archive(ctx context.Context, event RunCompleted) (string, error) {
	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode run summary: %w", err)
	}
	started := event.Summary.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	key := path.Join(r.cfg.Prefix, started.Format("2006/01/02"), event.RunID+".json")
	uri, err := r.blobs.PutObject(ctx, key, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return uri, nil
}
