package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

const listCandidateRows = `
SELECT c.id, c.slug, c.name, c.websites, c.data_hash, c.updated_at, to_jsonb(o)
FROM creators c
LEFT JOIN creator_outreach o ON o.creator_id = c.id
WHERE jsonb_array_length(c.websites) > 0
ORDER BY c.id`

// ListCandidateRows returns creators that list at least one website, joined
// with their outreach rows.
func (s *Store) ListCandidateRows(ctx context.Context) ([]outreach.CandidateRow, error) {
	rows, err := s.db.Query(ctx, listCandidateRows)
	if err != nil {
		return nil, wrapErr("query candidate rows", err)
	}
	defer rows.Close()

	var out []outreach.CandidateRow
	for rows.Next() {
		var (
			row         outreach.CandidateRow
			websites    []byte
			outreachRaw []byte
		)
		if err := rows.Scan(
			&row.Creator.ID,
			&row.Creator.Slug,
			&row.Creator.Name,
			&websites,
			&row.Creator.DataHash,
			&row.Creator.UpdatedAt,
			&outreachRaw,
		); err != nil {
			return nil, wrapErr("scan candidate row", err)
		}
		if len(websites) > 0 {
			if err := json.Unmarshal(websites, &row.Creator.Websites); err != nil {
				return nil, fmt.Errorf("decode websites for creator %d: %w", row.Creator.ID, err)
			}
		}
		if row.Outreach, err = decodeOutreach(outreachRaw); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate candidate rows", err)
	}
	return out, nil
}
