// Package blocklist keeps the shared set of domains the extraction service refuses.
package blocklist

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/metrics"
	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

// Sources recorded on blocked_domains.source.
const (
	SourceService  = "firecrawl"
	SourceOperator = "config"
)

var notSupportedPhrases = []string{
	"not currently supported",
	"website not supported",
	"this website is not currently supported",
	"please reach out to help@firecrawl.com",
}

// IsNotSupportedMessage reports whether msg is the service's "domain not supported" wording.
func IsNotSupportedMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, phrase := range notSupportedPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Config tunes the blocklist.
type Config struct {
	StaticPatterns []string
	// DryRun keeps new entries in memory only.
	DryRun bool
}

// Blocklist caches stored entries and writes new ones through to the store.
type Blocklist struct {
	store  outreach.BlocklistStore
	clock  outreach.Clock
	static *patternMatcher
	dryRun bool
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]outreach.BlockedDomain
}

// New constructs a Blocklist. Call Load before the first lookup.
func New(store outreach.BlocklistStore, clock outreach.Clock, cfg Config, logger *zap.Logger) *Blocklist {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Blocklist{
		store:   store,
		clock:   clock,
		static:  newPatternMatcher(cfg.StaticPatterns),
		dryRun:  cfg.DryRun,
		logger:  logger.Named("blocklist"),
		entries: make(map[string]outreach.BlockedDomain),
	}
}

// Load replaces the cache with the stored entries.
func (b *Blocklist) Load(ctx context.Context) error {
	rows, err := b.store.ListBlockedDomains(ctx)
	if err != nil {
		return fmt.Errorf("list blocked domains: %w", err)
	}
	entries := make(map[string]outreach.BlockedDomain, len(rows))
	for _, row := range rows {
		domain := outreach.NormalizeDomain(row.Domain)
		if domain == "" {
			continue
		}
		row.Domain = domain
		entries[domain] = row
	}
	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()
	b.logger.Info("blocklist loaded", zap.Int("domains", len(entries)))
	return nil
}

// IsBlocked reports whether domain is blocked, returning the matching entry.
func (b *Blocklist) IsBlocked(domain string) (outreach.BlockedDomain, bool) {
	domain = outreach.NormalizeDomain(domain)
	if domain == "" {
		return outreach.BlockedDomain{}, false
	}
	b.mu.RLock()
	entry, ok := b.entries[domain]
	b.mu.RUnlock()
	if ok {
		return entry, true
	}
	if b.static.matches(domain) {
		return outreach.BlockedDomain{Domain: domain, Reason: "blocked by operator pattern", Source: SourceOperator}, true
	}
	return outreach.BlockedDomain{}, false
}

// Block records domain as unsupported. Repeated calls update the reason in place.
func (b *Blocklist) Block(ctx context.Context, domain, reason, source, notes string) (outreach.BlockedDomain, error) {
	domain = outreach.NormalizeDomain(domain)
	if domain == "" {
		return outreach.BlockedDomain{}, fmt.Errorf("block domain: empty domain")
	}
	if source == "" {
		source = SourceService
	}
	now := b.clock.Now()
	entry := outreach.BlockedDomain{
		Domain:    domain,
		Reason:    reason,
		Source:    source,
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	b.mu.RLock()
	existing, known := b.entries[domain]
	b.mu.RUnlock()
	if known {
		entry.CreatedAt = existing.CreatedAt
		if entry.Notes == "" {
			entry.Notes = existing.Notes
		}
	}

	if !b.dryRun {
		if err := b.store.UpsertBlockedDomain(ctx, entry); err != nil {
			return outreach.BlockedDomain{}, fmt.Errorf("upsert blocked domain %s: %w", domain, err)
		}
	}

	b.mu.Lock()
	b.entries[domain] = entry
	b.mu.Unlock()

	if !known {
		metrics.ObserveDomainBlocked()
		b.logger.Info("domain blocked",
			zap.String("domain", domain),
			zap.String("reason", reason),
			zap.Bool("dry_run", b.dryRun),
		)
	}
	return entry, nil
}

// Len returns the number of cached entries.
func (b *Blocklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
