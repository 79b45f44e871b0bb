package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

// The WHERE clause skips the update when data_hash is unchanged, which makes
// RETURNING yield no row. xmax = 0 distinguishes a fresh insert.
const upsertCreator = `
INSERT INTO creators (id, slug, name, websites, data_hash, payload, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	slug = EXCLUDED.slug,
	name = EXCLUDED.name,
	websites = EXCLUDED.websites,
	data_hash = EXCLUDED.data_hash,
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at
WHERE creators.data_hash IS DISTINCT FROM EXCLUDED.data_hash
RETURNING (xmax = 0)`

const upsertProject = `
INSERT INTO projects (id, creator_id, name, state, created_at_source, data_hash, payload, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	creator_id = EXCLUDED.creator_id,
	name = EXCLUDED.name,
	state = EXCLUDED.state,
	created_at_source = EXCLUDED.created_at_source,
	data_hash = EXCLUDED.data_hash,
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at
WHERE projects.data_hash IS DISTINCT FROM EXCLUDED.data_hash
RETURNING (xmax = 0)`

// UpsertCreator writes a creator snapshot unless its data_hash is unchanged.
func (s *Store) UpsertCreator(ctx context.Context, creator outreach.Creator) (outreach.UpsertOutcome, error) {
	websites := creator.Websites
	if websites == nil {
		websites = []outreach.Website{}
	}
	encoded, err := json.Marshal(websites)
	if err != nil {
		return "", fmt.Errorf("encode websites for creator %d: %w", creator.ID, err)
	}
	updatedAt := creator.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.clock.Now()
	}
	return s.guardedUpsert(ctx, "upsert creator", upsertCreator,
		creator.ID, creator.Slug, creator.Name, encoded, creator.DataHash, nullJSON(creator.Payload), updatedAt,
	)
}

// UpsertProject writes a project snapshot unless its data_hash is unchanged.
func (s *Store) UpsertProject(ctx context.Context, project outreach.Project) (outreach.UpsertOutcome, error) {
	return s.guardedUpsert(ctx, "upsert project", upsertProject,
		project.ID, project.CreatorID, project.Name, project.State, project.CreatedAtSource,
		project.DataHash, nullJSON(project.Payload), s.clock.Now(),
	)
}

func (s *Store) guardedUpsert(ctx context.Context, op, query string, args ...any) (outreach.UpsertOutcome, error) {
	var inserted bool
	err := s.db.QueryRow(ctx, query, args...).Scan(&inserted)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return outreach.OutcomeUnchanged, nil
	case err != nil:
		return "", wrapErr(op, err)
	case inserted:
		return outreach.OutcomeInserted, nil
	default:
		return outreach.OutcomeUpdated, nil
	}
}
