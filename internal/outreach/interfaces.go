package outreach

import (
	"context"
	"io"
	"time"
)

// CandidateSource lists creators joined with their outreach rows.
type CandidateSource interface {
	ListCandidateRows(ctx context.Context) ([]CandidateRow, error)
}

// CredentialStore persists extraction-service credentials.
type CredentialStore interface {
	ListActiveCredentials(ctx context.Context) ([]Credential, error)
	// MarkCredentialExhausted flips an active credential to exhausted and
	// reports whether this call performed the transition.
	MarkCredentialExhausted(ctx context.Context, id string, at time.Time) (bool, error)
}

// BlocklistStore persists blocked domains.
type BlocklistStore interface {
	ListBlockedDomains(ctx context.Context) ([]BlockedDomain, error)
	UpsertBlockedDomain(ctx context.Context, entry BlockedDomain) error
}

// MutateFunc receives the locked row (nil when absent) and returns the row to
// persist plus whether anything changed.
type MutateFunc func(existing *CreatorOutreach) (CreatorOutreach, bool, error)

// OutreachStore writes creator_outreach rows one creator at a time.
type OutreachStore interface {
	MutateOutreach(ctx context.Context, creatorID int64, fn MutateFunc) (UpsertOutcome, error)
}

// SnapshotStore upserts upstream creator and project snapshots guarded by data_hash.
type SnapshotStore interface {
	UpsertCreator(ctx context.Context, creator Creator) (UpsertOutcome, error)
	UpsertProject(ctx context.Context, project Project) (UpsertOutcome, error)
}

// StateStore persists the pipeline watermark.
type StateStore interface {
	GetPipelineState(ctx context.Context) (PipelineState, error)
	InsertPipelineState(ctx context.Context, state PipelineState) error
	SavePipelineState(ctx context.Context, state PipelineState) error
}

// MapRequest asks the extraction service for URLs on a site.
type MapRequest struct {
	URL    string
	Search string
	Limit  int
}

// ScrapeResult is the scraped content of one page.
type ScrapeResult struct {
	URL        string
	StatusCode int
	HTML       string
	Markdown   string
	Links      []string
}

// ExtractionClient is the two-phase content-extraction service.
type ExtractionClient interface {
	Map(ctx context.Context, apiKey string, req MapRequest) ([]string, error)
	Scrape(ctx context.Context, apiKey string, pageURL string) (ScrapeResult, error)
}

// DomainChecker answers blocklist lookups.
type DomainChecker interface {
	IsBlocked(domain string) (BlockedDomain, bool)
}

// BlobStore reads and writes opaque artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes run events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes hex digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
