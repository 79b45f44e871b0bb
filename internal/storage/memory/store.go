package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

// Store implements every pipeline store interface in memory for development/testing.
type Store struct {
	mu          sync.RWMutex
	creators    map[int64]outreach.Creator
	projects    map[int64]outreach.Project
	outreach    map[int64]outreach.CreatorOutreach
	credentials map[string]outreach.Credential
	blocked     map[string]outreach.BlockedDomain
	state       *outreach.PipelineState

	lockMu   sync.Mutex
	rowLocks map[int64]*sync.Mutex
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		creators:    make(map[int64]outreach.Creator),
		projects:    make(map[int64]outreach.Project),
		outreach:    make(map[int64]outreach.CreatorOutreach),
		credentials: make(map[string]outreach.Credential),
		blocked:     make(map[string]outreach.BlockedDomain),
		rowLocks:    make(map[int64]*sync.Mutex),
	}
}

// PutCreator seeds a creator directly, bypassing the hash guard.
func (s *Store) PutCreator(creator outreach.Creator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creators[creator.ID] = creator
}

// PutOutreach seeds an outreach row directly.
func (s *Store) PutOutreach(row outreach.CreatorOutreach) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outreach[row.CreatorID] = cloneOutreach(row)
}

// PutCredential seeds a credential.
func (s *Store) PutCredential(cred outreach.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[cred.ID] = cred
}

// Outreach returns the stored row for creatorID.
func (s *Store) Outreach(creatorID int64) (outreach.CreatorOutreach, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.outreach[creatorID]
	return cloneOutreach(row), ok
}

// Credential returns the stored credential with id.
func (s *Store) Credential(id string) (outreach.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.credentials[id]
	return cred, ok
}

// ListCandidateRows returns every creator joined with its outreach row, ordered by id.
func (s *Store) ListCandidateRows(_ context.Context) ([]outreach.CandidateRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]outreach.CandidateRow, 0, len(s.creators))
	for id, creator := range s.creators {
		row := outreach.CandidateRow{Creator: creator}
		if existing, ok := s.outreach[id]; ok {
			cp := cloneOutreach(existing)
			row.Outreach = &cp
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Creator.ID < rows[j].Creator.ID })
	return rows, nil
}

// ListActiveCredentials returns active credentials ordered by id.
func (s *Store) ListActiveCredentials(_ context.Context) ([]outreach.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []outreach.Credential
	for _, cred := range s.credentials {
		if cred.Status == outreach.CredentialActive {
			out = append(out, cred)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MarkCredentialExhausted flips an active credential to exhausted.
func (s *Store) MarkCredentialExhausted(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.credentials[id]
	if !ok || cred.Status != outreach.CredentialActive {
		return false, nil
	}
	cred.Status = outreach.CredentialExhausted
	cred.ExhaustedAt = &at
	s.credentials[id] = cred
	return true, nil
}

// ListBlockedDomains returns all blocked domains.
func (s *Store) ListBlockedDomains(_ context.Context) ([]outreach.BlockedDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]outreach.BlockedDomain, 0, len(s.blocked))
	for _, entry := range s.blocked {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

// UpsertBlockedDomain inserts or refreshes a blocked domain.
func (s *Store) UpsertBlockedDomain(_ context.Context, entry outreach.BlockedDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.blocked[entry.Domain]; ok {
		entry.CreatedAt = existing.CreatedAt
		if entry.Notes == "" {
			entry.Notes = existing.Notes
		}
	}
	s.blocked[entry.Domain] = entry
	return nil
}

// MutateOutreach runs fn while holding the per-creator row lock.
func (s *Store) MutateOutreach(_ context.Context, creatorID int64, fn outreach.MutateFunc) (outreach.UpsertOutcome, error) {
	lock := s.rowLock(creatorID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	existing, found := s.outreach[creatorID]
	s.mu.RUnlock()

	var current *outreach.CreatorOutreach
	if found {
		cp := cloneOutreach(existing)
		current = &cp
	}
	next, changed, err := fn(current)
	if err != nil {
		return "", err
	}
	if !changed {
		return outreach.OutcomeUnchanged, nil
	}
	next.CreatorID = creatorID

	s.mu.Lock()
	defer s.mu.Unlock()
	s.outreach[creatorID] = cloneOutreach(next)
	if found {
		return outreach.OutcomeUpdated, nil
	}
	return outreach.OutcomeInserted, nil
}

// UpsertCreator writes a creator unless the stored data_hash matches.
func (s *Store) UpsertCreator(_ context.Context, creator outreach.Creator) (outreach.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.creators[creator.ID]
	if ok && existing.DataHash == creator.DataHash {
		return outreach.OutcomeUnchanged, nil
	}
	s.creators[creator.ID] = creator
	if ok {
		return outreach.OutcomeUpdated, nil
	}
	return outreach.OutcomeInserted, nil
}

// UpsertProject writes a project unless the stored data_hash matches.
func (s *Store) UpsertProject(_ context.Context, project outreach.Project) (outreach.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creators[project.CreatorID]; !ok {
		return "", fmt.Errorf("project %d references unknown creator %d", project.ID, project.CreatorID)
	}
	existing, ok := s.projects[project.ID]
	if ok && existing.DataHash == project.DataHash {
		return outreach.OutcomeUnchanged, nil
	}
	s.projects[project.ID] = project
	if ok {
		return outreach.OutcomeUpdated, nil
	}
	return outreach.OutcomeInserted, nil
}

// GetPipelineState returns the singleton state row.
func (s *Store) GetPipelineState(_ context.Context) (outreach.PipelineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return outreach.PipelineState{}, outreach.ErrNotFound
	}
	return *s.state, nil
}

// InsertPipelineState creates the singleton row unless it already exists.
func (s *Store) InsertPipelineState(_ context.Context, state outreach.PipelineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		cp := state
		s.state = &cp
	}
	return nil
}

// SavePipelineState overwrites the singleton row.
func (s *Store) SavePipelineState(_ context.Context, state outreach.PipelineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := state
	s.state = &cp
	return nil
}

func (s *Store) rowLock(creatorID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.rowLocks[creatorID]
	if !ok {
		lock = &sync.Mutex{}
		s.rowLocks[creatorID] = lock
	}
	return lock
}

func cloneOutreach(row outreach.CreatorOutreach) outreach.CreatorOutreach {
	if row.Tags != nil {
		row.Tags = append([]string(nil), row.Tags...)
	}
	return row
}
