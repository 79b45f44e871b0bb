package postgres

import (
	"context"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

const listBlockedDomains = `
SELECT domain, reason, source, COALESCE(notes, ''), created_at, updated_at
FROM firecrawl_blocked_domains
ORDER BY domain`

const upsertBlockedDomain = `
INSERT INTO firecrawl_blocked_domains (domain, reason, source, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (domain) DO UPDATE SET
	reason = EXCLUDED.reason,
	source = EXCLUDED.source,
	notes = COALESCE(EXCLUDED.notes, firecrawl_blocked_domains.notes),
	updated_at = EXCLUDED.updated_at`

// ListBlockedDomains returns every blocked domain.
func (s *Store) ListBlockedDomains(ctx context.Context) ([]outreach.BlockedDomain, error) {
	rows, err := s.db.Query(ctx, listBlockedDomains)
	if err != nil {
		return nil, wrapErr("query blocked domains", err)
	}
	defer rows.Close()

	var out []outreach.BlockedDomain
	for rows.Next() {
		var entry outreach.BlockedDomain
		if err := rows.Scan(&entry.Domain, &entry.Reason, &entry.Source, &entry.Notes, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, wrapErr("scan blocked domain", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate blocked domains", err)
	}
	return out, nil
}

// UpsertBlockedDomain inserts or refreshes one entry. Empty notes keep the
// stored ones.
func (s *Store) UpsertBlockedDomain(ctx context.Context, entry outreach.BlockedDomain) error {
	at := entry.UpdatedAt
	if at.IsZero() {
		at = s.clock.Now()
	}
	if _, err := s.db.Exec(ctx, upsertBlockedDomain,
		entry.Domain, entry.Reason, entry.Source, nullString(entry.Notes), at,
	); err != nil {
		return wrapErr("upsert blocked domain", err)
	}
	return nil
}
