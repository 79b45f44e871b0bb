// Package snapshot reads upstream creator/project snapshots from a local file
// or a gs:// object.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
	"github.com/JakeFAU/creator-outreach-sync/internal/storage/gcs"
)

// BucketOpener returns a blob store for a GCS bucket.
type BucketOpener func(ctx context.Context, bucket string) (outreach.BlobStore, error)

// Loader fetches and decodes snapshots.
type Loader struct {
	hasher     outreach.Hasher
	openBucket BucketOpener
	logger     *zap.Logger
}

// New constructs a Loader. openBucket may be nil when only local paths are used.
func New(hasher outreach.Hasher, openBucket BucketOpener, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{hasher: hasher, openBucket: openBucket, logger: logger.Named("snapshot")}
}

// Load reads source and returns the decoded snapshot with every data_hash set.
func (l *Loader) Load(ctx context.Context, source string) (outreach.Snapshot, error) {
	data, err := l.read(ctx, source)
	if err != nil {
		return outreach.Snapshot{}, err
	}
	snap, filled, err := Decode(data, l.hasher)
	if err != nil {
		return outreach.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", source, err)
	}
	l.logger.Info("snapshot loaded",
		zap.String("source", source),
		zap.Int("creators", len(snap.Creators)),
		zap.Int("projects", len(snap.Projects)),
		zap.Int("hashes_computed", filled),
	)
	return snap, nil
}

func (l *Loader) read(ctx context.Context, source string) ([]byte, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("snapshot source is required")
	}
	if strings.HasPrefix(source, "gs://") {
		if l.openBucket == nil {
			return nil, fmt.Errorf("read %s: no gcs client configured", source)
		}
		bucket, object, err := gcs.ParseURI(source)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot uri: %w", err)
		}
		store, err := l.openBucket(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
		}
		data, err := store.GetObject(ctx, object)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", source, err)
		}
		return data, nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}
	return data, nil
}

// Decode parses snapshot JSON and computes data_hash for entities that lack
// one. It returns how many hashes it computed.
func Decode(data []byte, hasher outreach.Hasher) (outreach.Snapshot, int, error) {
	var snap outreach.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return outreach.Snapshot{}, 0, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	filled := 0
	for i := range snap.Creators {
		c := &snap.Creators[i]
		if c.DataHash != "" {
			continue
		}
		hash, err := contentHash(hasher, creatorContent(*c))
		if err != nil {
			return outreach.Snapshot{}, 0, fmt.Errorf("hash creator %d: %w", c.ID, err)
		}
		c.DataHash = hash
		filled++
	}
	for i := range snap.Projects {
		p := &snap.Projects[i]
		if p.DataHash != "" {
			continue
		}
		hash, err := contentHash(hasher, projectContent(*p))
		if err != nil {
			return outreach.Snapshot{}, 0, fmt.Errorf("hash project %d: %w", p.ID, err)
		}
		p.DataHash = hash
		filled++
	}
	return snap, filled, nil
}

// creatorContent drops fields that change without the creator changing.
func creatorContent(c outreach.Creator) outreach.Creator {
	c.DataHash = ""
	c.UpdatedAt = time.Time{}
	return c
}

func projectContent(p outreach.Project) outreach.Project {
	p.DataHash = ""
	return p
}

func contentHash(hasher outreach.Hasher, value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}
	return hasher.Hash(encoded)
}
