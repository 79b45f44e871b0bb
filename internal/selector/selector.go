// Package selector decides which creators need a contact check this run.
package selector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

// Reasons recorded on selected candidates.
const (
	ReasonNew         = "new"
	ReasonNotChecked  = "not_checked"
	ReasonSiteChanged = "site_changed"
	ReasonStale       = "stale"
)

// Config tunes selection.
type Config struct {
	// StaleAfter re-queues rows checked longer ago than this. Zero disables it.
	StaleAfter time.Duration
	// MaxAttempts skips failing rows after this many attempts unless their site
	// changed. Zero means unlimited.
	MaxAttempts int
	// Limit caps the candidate list. Zero means unlimited.
	Limit int
}

// Selector applies the change-detection rules to the creator/outreach join.
type Selector struct {
	source  outreach.CandidateSource
	checker outreach.DomainChecker
	hasher  outreach.Hasher
	clock   outreach.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Selector. checker may be nil.
func New(
	source outreach.CandidateSource,
	checker outreach.DomainChecker,
	hasher outreach.Hasher,
	clock outreach.Clock,
	cfg Config,
	logger *zap.Logger,
) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		source:  source,
		checker: checker,
		hasher:  hasher,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("selector"),
	}
}

// Select returns the creators to process, highest priority first.
func (s *Selector) Select(ctx context.Context, state outreach.PipelineState) ([]outreach.Candidate, error) {
	rows, err := s.source.ListCandidateRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list candidate rows: %w", err)
	}
	now := s.clock.Now()
	reasons := make(map[string]int)
	var (
		candidates []outreach.Candidate
		noSite     int
	)
	for _, row := range rows {
		site := outreach.CanonicalSite(row.Creator.Websites, s.checker)
		if site == "" {
			noSite++
			continue
		}
		siteHash, err := outreach.SiteHash(s.hasher, site)
		if err != nil {
			return nil, fmt.Errorf("hash site for creator %d: %w", row.Creator.ID, err)
		}
		reason, ok := s.qualify(row.Outreach, siteHash, now)
		if !ok {
			continue
		}
		reasons[reason]++
		cand := outreach.Candidate{
			CreatorID: row.Creator.ID,
			Slug:      row.Creator.Slug,
			Name:      row.Creator.Name,
			Site:      site,
			Sites:     outreach.Sites(row.Creator.Websites, s.checker),
			Domain:    outreach.DomainOf(site),
			SiteHash:  siteHash,
			Reason:    reason,
		}
		if row.Outreach != nil {
			cand.Priority = row.Outreach.Priority
			cand.PreviousAttempts = row.Outreach.ContactAttempts
		}
		candidates = append(candidates, cand)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatorID < candidates[j].CreatorID
	})
	selected := len(candidates)
	if s.cfg.Limit > 0 && len(candidates) > s.cfg.Limit {
		candidates = candidates[:s.cfg.Limit]
	}

	fields := []zap.Field{
		zap.Int("creators", len(rows)),
		zap.Int("qualified", selected),
		zap.Int("returned", len(candidates)),
		zap.Int("without_site", noSite),
		zap.Any("reasons", reasons),
	}
	if state.LastContactCheckAt != nil {
		fields = append(fields, zap.Time("last_contact_check_at", *state.LastContactCheckAt))
	}
	s.logger.Info("candidates selected", fields...)
	return candidates, nil
}

// qualify applies the rules to one row and returns why it is selected.
func (s *Selector) qualify(row *outreach.CreatorOutreach, siteHash string, now time.Time) (string, bool) {
	if row == nil {
		return ReasonNew, true
	}
	if row.ContactStatus == "" || row.ContactStatus == outreach.ContactNotChecked {
		return ReasonNotChecked, true
	}
	if siteHash != "" && row.SiteHash != siteHash {
		return ReasonSiteChanged, true
	}
	if row.ContactStatus == outreach.ContactCompleted && row.Email != "" && row.HasContactForm {
		return "", false
	}
	if s.cfg.MaxAttempts > 0 && row.ContactStatus == outreach.ContactError && row.ContactAttempts >= s.cfg.MaxAttempts {
		return "", false
	}
	if row.LastContactCheckAt == nil {
		return ReasonStale, true
	}
	if s.cfg.StaleAfter > 0 && now.Sub(*row.LastContactCheckAt) >= s.cfg.StaleAfter {
		return ReasonStale, true
	}
	return "", false
}
