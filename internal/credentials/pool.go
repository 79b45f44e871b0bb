// Package credentials leases extraction-service API keys to workers and retires
// keys whose quota is spent.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/metrics"
	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

// Config tunes the pool.
type Config struct {
	// MaxInFlight is how many workers may hold the same credential at once.
	MaxInFlight int
	// AcquireTimeout bounds the wait for a free credential. Zero waits on ctx only.
	AcquireTimeout time.Duration
	// DryRun keeps exhaustion in memory only.
	DryRun bool
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Exhausted int `json:"exhausted"`
	InFlight  int `json:"in_flight"`
}

// Lease is one worker's hold on a credential. Release it exactly once.
type Lease struct {
	credential outreach.Credential
	pool       *Pool
	once       sync.Once
}

// ID returns the leased credential's id.
func (l *Lease) ID() string { return l.credential.ID }

// APIKey returns the secret to send to the service.
func (l *Lease) APIKey() string { return l.credential.APIKey }

// Release returns the lease to the pool. Extra calls are ignored.
func (l *Lease) Release() {
	l.once.Do(func() { l.pool.release(l.credential.ID) })
}

type entry struct {
	cred      outreach.Credential
	inFlight  int
	useSeq    uint64
	exhausted bool
}

// Pool hands out the least recently used active credential.
type Pool struct {
	store  outreach.CredentialStore
	clock  outreach.Clock
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	entries []*entry
	seq     uint64
	changed chan struct{}
}

// New constructs an empty Pool. Call Load to populate it.
func New(store outreach.CredentialStore, clock outreach.Clock, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	return &Pool{
		store:   store,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("credentials"),
		changed: make(chan struct{}),
	}
}

// Load replaces the pool contents with the stored active credentials.
func (p *Pool) Load(ctx context.Context) error {
	creds, err := p.store.ListActiveCredentials(ctx)
	if err != nil {
		return fmt.Errorf("list active credentials: %w", err)
	}
	entries := make([]*entry, 0, len(creds))
	for _, cred := range creds {
		if cred.APIKey == "" {
			p.logger.Warn("skipping credential without api key", zap.String("credential_id", cred.ID))
			continue
		}
		entries = append(entries, &entry{cred: cred})
	}
	p.mu.Lock()
	p.entries = entries
	p.broadcastLocked()
	p.mu.Unlock()
	p.logger.Info("credential pool loaded", zap.Int("active", len(entries)))
	return nil
}

// Acquire leases a credential, waiting while every active one is busy. It fails
// with outreach.ErrPoolExhausted once no active credential remains.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	var timeout <-chan time.Time
	if p.cfg.AcquireTimeout > 0 {
		timer := time.NewTimer(p.cfg.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	for {
		p.mu.Lock()
		if chosen := p.pickLocked(); chosen != nil {
			p.seq++
			chosen.inFlight++
			chosen.useSeq = p.seq
			now := p.clock.Now()
			chosen.cred.LastUsedAt = &now
			cred := chosen.cred
			p.mu.Unlock()
			return &Lease{credential: cred, pool: p}, nil
		}
		if p.activeLocked() == 0 {
			p.mu.Unlock()
			return nil, outreach.ErrPoolExhausted
		}
		wait := p.changed
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire credential: %w", ctx.Err())
		case <-timeout:
			return nil, fmt.Errorf("acquire credential: no credential freed within %s", p.cfg.AcquireTimeout)
		}
	}
}

// ReportExhausted retires the leased credential for the rest of the run and
// marks it exhausted in storage. The lease must still be released.
func (p *Pool) ReportExhausted(ctx context.Context, lease *Lease) {
	id := lease.ID()
	p.mu.Lock()
	var target *entry
	for _, e := range p.entries {
		if e.cred.ID == id {
			target = e
			break
		}
	}
	if target == nil || target.exhausted {
		p.mu.Unlock()
		return
	}
	target.exhausted = true
	remaining := p.activeLocked()
	p.broadcastLocked()
	p.mu.Unlock()

	metrics.ObserveCredentialExhausted()
	p.logger.Warn("credential exhausted",
		zap.String("credential_id", id),
		zap.String("account", target.cred.Email),
		zap.Int("remaining_active", remaining),
	)
	if p.cfg.DryRun {
		return
	}
	if _, err := p.store.MarkCredentialExhausted(ctx, id, p.clock.Now()); err != nil {
		p.logger.Error("persist credential exhaustion failed", zap.String("credential_id", id), zap.Error(err))
	}
}

// Stats reports pool counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := Stats{Total: len(p.entries)}
	for _, e := range p.entries {
		if e.exhausted {
			stats.Exhausted++
			continue
		}
		stats.Active++
		stats.InFlight += e.inFlight
	}
	return stats
}

func (p *Pool) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.cred.ID == id && e.inFlight > 0 {
			e.inFlight--
			p.broadcastLocked()
			return
		}
	}
}

// pickLocked returns the least recently used active entry with a free slot.
func (p *Pool) pickLocked() *entry {
	var best *entry
	for _, e := range p.entries {
		if e.exhausted || e.inFlight >= p.cfg.MaxInFlight {
			continue
		}
		if best == nil || e.useSeq < best.useSeq {
			best = e
		}
	}
	return best
}

func (p *Pool) activeLocked() int {
	n := 0
	for _, e := range p.entries {
		if !e.exhausted {
			n++
		}
	}
	return n
}

// broadcastLocked wakes every waiter in Acquire.
func (p *Pool) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}
