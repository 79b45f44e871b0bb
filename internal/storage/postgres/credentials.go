package postgres

import (
	"context"
	"time"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

const listActiveCredentials = `
SELECT id, COALESCE(email, ''), api_key, status, exhausted_at, last_used_at
FROM firecrawl_accounts
WHERE status = 'active'
ORDER BY last_used_at NULLS FIRST, id`

const markCredentialExhausted = `
UPDATE firecrawl_accounts
SET status = 'exhausted', exhausted_at = $2
WHERE id = $1 AND status = 'active'`

// ListActiveCredentials returns usable credentials, least recently used first.
func (s *Store) ListActiveCredentials(ctx context.Context) ([]outreach.Credential, error) {
	rows, err := s.db.Query(ctx, listActiveCredentials)
	if err != nil {
		return nil, wrapErr("query credentials", err)
	}
	defer rows.Close()

	var out []outreach.Credential
	for rows.Next() {
		var (
			cred   outreach.Credential
			status string
		)
		if err := rows.Scan(&cred.ID, &cred.Email, &cred.APIKey, &status, &cred.ExhaustedAt, &cred.LastUsedAt); err != nil {
			return nil, wrapErr("scan credential", err)
		}
		cred.Status = outreach.CredentialStatus(status)
		out = append(out, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate credentials", err)
	}
	return out, nil
}

// MarkCredentialExhausted retires an active credential. It reports false when
// the credential was already exhausted or does not exist.
func (s *Store) MarkCredentialExhausted(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, markCredentialExhausted, id, at)
	if err != nil {
		return false, wrapErr("mark credential exhausted", err)
	}
	return tag.RowsAffected() == 1, nil
}
