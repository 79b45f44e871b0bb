package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

const getPipelineState = `
SELECT id, last_run_at, last_project_created_at, last_contact_check_at,
	COALESCE(last_site_hash, ''), run_notes
FROM pipeline_state WHERE id = 1`

const insertPipelineState = `
INSERT INTO pipeline_state (id, last_run_at, last_project_created_at, last_contact_check_at, last_site_hash, run_notes)
VALUES (1, $1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`

const savePipelineState = `
INSERT INTO pipeline_state (id, last_run_at, last_project_created_at, last_contact_check_at, last_site_hash, run_notes)
VALUES (1, $1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	last_run_at = EXCLUDED.last_run_at,
	last_project_created_at = EXCLUDED.last_project_created_at,
	last_contact_check_at = EXCLUDED.last_contact_check_at,
	last_site_hash = EXCLUDED.last_site_hash,
	run_notes = EXCLUDED.run_notes`

// GetPipelineState reads the singleton row or returns outreach.ErrNotFound.
func (s *Store) GetPipelineState(ctx context.Context) (outreach.PipelineState, error) {
	var (
		state outreach.PipelineState
		notes []byte
	)
	err := s.db.QueryRow(ctx, getPipelineState).Scan(
		&state.ID,
		&state.LastRunAt,
		&state.LastProjectCreatedAt,
		&state.LastContactCheckAt,
		&state.LastSiteHash,
		&notes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return outreach.PipelineState{}, outreach.ErrNotFound
	}
	if err != nil {
		return outreach.PipelineState{}, wrapErr("get pipeline state", err)
	}
	state.RunNotes = nullJSON(notes)
	return state, nil
}

// InsertPipelineState creates the singleton row if it is missing.
func (s *Store) InsertPipelineState(ctx context.Context, state outreach.PipelineState) error {
	if _, err := s.db.Exec(ctx, insertPipelineState, stateArgs(state)...); err != nil {
		return wrapErr("insert pipeline state", err)
	}
	return nil
}

// SavePipelineState overwrites the singleton row.
func (s *Store) SavePipelineState(ctx context.Context, state outreach.PipelineState) error {
	if _, err := s.db.Exec(ctx, savePipelineState, stateArgs(state)...); err != nil {
		return wrapErr("save pipeline state", err)
	}
	return nil
}

func stateArgs(state outreach.PipelineState) []any {
	return []any{
		state.LastRunAt,
		state.LastProjectCreatedAt,
		state.LastContactCheckAt,
		nullString(state.LastSiteHash),
		nullJSON(state.RunNotes),
	}
}
