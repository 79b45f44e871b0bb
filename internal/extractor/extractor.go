// Package extractor runs the two-phase contact discovery for one creator:
// map the site for candidate pages, then scrape them for an email address and
// a contact form.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/blocklist"
	"github.com/JakeFAU/creator-outreach-sync/internal/credentials"
	"github.com/JakeFAU/creator-outreach-sync/internal/metrics"
	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

// ExhaustedMessage is written to contact_error when no credential is left.
const ExhaustedMessage = "credentials exhausted"

const mapSearch = "contact"

// CredentialPool leases API keys. A nil pool means the client needs none.
type CredentialPool interface {
	Acquire(ctx context.Context) (*credentials.Lease, error)
	ReportExhausted(ctx context.Context, lease *credentials.Lease)
}

// DomainBlocker is the blocklist as seen by a worker.
type DomainBlocker interface {
	outreach.DomainChecker
	Block(ctx context.Context, domain, reason, source, notes string) (outreach.BlockedDomain, error)
}

// Pacer delays calls per target host.
type Pacer interface {
	Wait(ctx context.Context, pageURL string) error
}

// Config tunes one worker.
type Config struct {
	MapLimit       int
	MaxPages       int
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	CallTimeout    time.Duration
	// BlockSource is recorded on domains the service rejects.
	BlockSource string
}

// Worker extracts contact details for candidates. It is safe for concurrent use.
type Worker struct {
	client    outreach.ExtractionClient
	pool      CredentialPool
	blocklist DomainBlocker
	pacer     Pacer
	hasher    outreach.Hasher
	clock     outreach.Clock
	retry     *retryPolicy
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. pool and pacer may be nil.
func New(
	client outreach.ExtractionClient,
	pool CredentialPool,
	bl DomainBlocker,
	pacer Pacer,
	hasher outreach.Hasher,
	clock outreach.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MapLimit <= 0 {
		cfg.MapLimit = 5
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.BlockSource == "" {
		cfg.BlockSource = blocklist.SourceService
	}
	return &Worker{
		client:    client,
		pool:      pool,
		blocklist: bl,
		pacer:     pacer,
		hasher:    hasher,
		clock:     clock,
		retry:     newRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
		cfg:       cfg,
		logger:    logger.Named("extractor"),
	}
}

// Extract processes one candidate. It never returns an error: every failure is
// folded into the result's status. Sites are tried in order until an email and
// a form are both found; SiteHash and Domain always describe the first site.
func (w *Worker) Extract(ctx context.Context, cand outreach.Candidate) (res outreach.ExtractionResult) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	site := outreach.NormalizeURL(cand.Site)
	res = outreach.ExtractionResult{
		CreatorID: cand.CreatorID,
		Site:      site,
		Domain:    cand.Domain,
		SiteHash:  cand.SiteHash,
		Attempts:  cand.PreviousAttempts + 1,
	}
	if res.Domain == "" {
		res.Domain = outreach.DomainOf(site)
	}
	logger := w.logger.With(zap.Int64("creator_id", cand.CreatorID), zap.String("domain", res.Domain))
	if res.SiteHash == "" && site != "" {
		hash, err := outreach.SiteHash(w.hasher, site)
		if err != nil {
			logger.Warn("hash site failed", zap.Error(err))
		}
		res.SiteHash = hash
	}

	defer func() {
		res.CheckedAt = w.clock.Now()
		metrics.ObserveItem(string(res.Status))
		logger.Debug("extraction finished",
			zap.String("status", string(res.Status)),
			zap.Bool("email", res.Email != ""),
			zap.Bool("form", res.HasContactForm),
			zap.Int("pages", res.PagesScraped),
			zap.Int("calls", res.Calls),
		)
	}()

	sites := candidateSites(cand)
	if len(sites) == 0 {
		res.Status = outreach.ContactNotFound
		res.Error = "no valid website"
		return res
	}

	s := &session{worker: w, logger: logger}
	defer s.close()

	var found contactFindings
	best := siteOutcome{status: outreach.ContactNotFound}
	for i, target := range sites {
		out := w.extractSite(ctx, s, target)
		res.PagesScraped += out.pages
		found.merge(out.found)
		if statusRank(out.status) > statusRank(best.status) {
			best = out
		}
		if found.complete() || out.stop {
			break
		}
		if i+1 < len(sites) {
			logger.Debug("trying next site", zap.String("site", sites[i+1]))
		}
	}
	res.Calls = s.calls
	found.apply(&res)
	res.Status, res.Error = best.status, best.err
	return res
}

// candidateSites returns the normalized, valid, distinct sites of cand with
// cand.Site first.
func candidateSites(cand outreach.Candidate) []string {
	var sites []string
	for _, raw := range append([]string{cand.Site}, cand.Sites...) {
		site := outreach.NormalizeURL(raw)
		if site == "" || !outreach.IsValidURL(site) || slices.Contains(sites, site) {
			continue
		}
		sites = append(sites, site)
	}
	return sites
}

// siteOutcome is what one site contributed to a creator's result.
type siteOutcome struct {
	found  contactFindings
	status outreach.ContactStatus
	err    string
	pages  int
	// stop means no further site can be tried in this run.
	stop bool
}

// statusRank orders per-site statuses when no site found anything.
func statusRank(status outreach.ContactStatus) int {
	switch status {
	case outreach.ContactCompleted:
		return 3
	case outreach.ContactBlocked:
		return 2
	case outreach.ContactError:
		return 1
	default:
		return 0
	}
}

func (w *Worker) extractSite(ctx context.Context, s *session, site string) siteOutcome {
	domain := outreach.DomainOf(site)
	logger := s.logger.With(zap.String("site", site))
	if entry, blocked := w.blocklist.IsBlocked(domain); blocked {
		return siteOutcome{status: outreach.ContactBlocked, err: fmt.Sprintf("domain blocked: %s", entry.Reason)}
	}

	var links []string
	err := s.call(ctx, "map", site, func(callCtx context.Context, apiKey string) error {
		var mapErr error
		links, mapErr = w.client.Map(callCtx, apiKey, outreach.MapRequest{URL: site, Search: mapSearch, Limit: w.cfg.MapLimit})
		return mapErr
	})
	if err != nil {
		return w.failSite(ctx, domain, err, logger)
	}

	pages, fallback := planPages(site, links, w.cfg.MaxPages)
	if fallback {
		logger.Debug("discovery returned no pages, trying conventional paths")
	}

	var (
		out       siteOutcome
		transient error
		terminal  error
	)
	for _, pageURL := range pages {
		var page outreach.ScrapeResult
		err := s.call(ctx, "scrape", pageURL, func(callCtx context.Context, apiKey string) error {
			var scrapeErr error
			page, scrapeErr = w.client.Scrape(callCtx, apiKey, pageURL)
			return scrapeErr
		})
		if err != nil {
			if isTerminal(ctx, err) {
				terminal = err
				break
			}
			if outreach.ClassOf(err) == outreach.ClassTransient {
				transient = err
			}
			logger.Debug("scrape failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		out.pages++
		if page.URL == "" {
			page.URL = pageURL
		}
		out.found.absorb(page)
		if out.found.complete() {
			break
		}
	}

	switch {
	case out.found.hasSignal():
		out.status = outreach.ContactCompleted
		if terminal != nil {
			if outreach.ClassOf(terminal) == outreach.ClassUnsupported {
				w.block(ctx, domain, terminal, logger)
			}
			out.stop = stopsItem(ctx, terminal)
		}
	case terminal != nil:
		failed := w.failSite(ctx, domain, terminal, logger)
		failed.pages = out.pages
		return failed
	case out.pages == 0 && transient != nil:
		out.status = outreach.ContactError
		out.err = transient.Error()
	default:
		out.status = outreach.ContactNotFound
	}
	return out
}

// isTerminal reports errors that end a site rather than one page.
func isTerminal(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, outreach.ErrPoolExhausted) {
		return true
	}
	switch outreach.ClassOf(err) {
	case outreach.ClassUnsupported, outreach.ClassQuota:
		return true
	}
	return false
}

// stopsItem reports errors after which no other site can be tried either.
// An unsupported site only ends itself.
func stopsItem(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, outreach.ErrPoolExhausted) ||
		outreach.ClassOf(err) == outreach.ClassQuota
}

func (w *Worker) failSite(ctx context.Context, domain string, err error, logger *zap.Logger) siteOutcome {
	out := siteOutcome{status: outreach.ContactError, err: err.Error(), stop: stopsItem(ctx, err)}
	switch {
	case errors.Is(err, outreach.ErrPoolExhausted):
		out.err = ExhaustedMessage
	case outreach.ClassOf(err) == outreach.ClassUnsupported && ctx.Err() == nil:
		out.status = outreach.ContactBlocked
		w.block(ctx, domain, err, logger)
	}
	return out
}

func (w *Worker) block(ctx context.Context, domain string, cause error, logger *zap.Logger) {
	reason := cause.Error()
	var svcErr *outreach.ServiceError
	if errors.As(cause, &svcErr) {
		reason = svcErr.Message
	}
	if _, err := w.blocklist.Block(ctx, domain, reason, w.cfg.BlockSource, ""); err != nil {
		logger.Warn("record blocked domain failed", zap.Error(err))
	}
}

// session holds one creator's credential lease across its calls.
type session struct {
	worker *Worker
	logger *zap.Logger
	lease  *credentials.Lease
	calls  int
}

func (s *session) close() {
	if s.lease != nil {
		s.lease.Release()
		s.lease = nil
	}
}

func (s *session) apiKey(ctx context.Context) (string, error) {
	if s.worker.pool == nil {
		return "", nil
	}
	if s.lease == nil {
		lease, err := s.worker.pool.Acquire(ctx)
		if err != nil {
			return "", fmt.Errorf("acquire credential: %w", err)
		}
		s.lease = lease
	}
	return s.lease.APIKey(), nil
}

// call runs fn with retries. Quota errors rotate the credential without
// spending the retry budget.
func (s *session) call(ctx context.Context, kind, target string, fn func(context.Context, string) error) error {
	w := s.worker
	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s %s: %w", kind, target, err)
		}
		apiKey, err := s.apiKey(ctx)
		if err != nil {
			return err
		}
		if w.pacer != nil {
			if err := w.pacer.Wait(ctx, target); err != nil {
				return fmt.Errorf("%s %s: %w", kind, target, err)
			}
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if w.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, w.cfg.CallTimeout)
		}
		start := time.Now()
		err = fn(callCtx, apiKey)
		cancel()
		s.calls++
		metrics.ObserveServiceCall(kind, callOutcome(err), time.Since(start))
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", kind, target, ctx.Err())
		}

		if outreach.ClassOf(err) == outreach.ClassQuota && w.pool != nil && s.lease != nil {
			s.logger.Info("credential quota reached, rotating", zap.String("credential_id", s.lease.ID()))
			w.pool.ReportExhausted(ctx, s.lease)
			s.close()
			continue
		}
		if !w.retry.shouldRetry(ctx, err, retries) {
			return err
		}
		delay := w.retry.backoff(retries)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			s.logger.Debug("retry would outlast the deadline", zap.String("kind", kind), zap.String("url", target))
			return err
		}
		retries++
		metrics.ObserveRetry(kind)
		s.logger.Debug("retrying service call",
			zap.String("kind", kind),
			zap.String("url", target),
			zap.Int("retry", retries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleepContext(ctx, delay); err != nil {
			return fmt.Errorf("%s %s: %w", kind, target, err)
		}
	}
}

func callOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(outreach.ClassOf(err))
}
