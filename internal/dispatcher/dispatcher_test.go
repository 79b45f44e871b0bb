package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/creator-outreach-sync/internal/blocklist"
	"github.com/JakeFAU/creator-outreach-sync/internal/credentials"
	"github.com/JakeFAU/creator-outreach-sync/internal/extractor"
	hashsha "github.com/JakeFAU/creator-outreach-sync/internal/hash/sha256"
	"github.com/JakeFAU/creator-outreach-sync/internal/merger"
	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
	"github.com/JakeFAU/creator-outreach-sync/internal/storage/memory"
)

var testStart = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

// stepClock advances by step on every Now call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

type staticIDs struct{}

func (staticIDs) NewID() (string, error) { return "run-test", nil }

// manualClock only moves when told to.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeExtractor struct {
	mu      sync.Mutex
	calls   []int64
	status  map[int64]outreach.ContactStatus
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
	// before runs at the start of every Extract.
	before func(outreach.Candidate)
}

func (f *fakeExtractor) Extract(ctx context.Context, cand outreach.Candidate) outreach.ExtractionResult {
	if f.before != nil {
		f.before(cand)
	}
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, cand.CreatorID)
	status, ok := f.status[cand.CreatorID]
	f.mu.Unlock()
	if !ok {
		status = outreach.ContactNotFound
	}
	res := outreach.ExtractionResult{
		CreatorID: cand.CreatorID,
		Status:    status,
		SiteHash:  fmt.Sprintf("hash-%d", cand.CreatorID),
		CheckedAt: testStart,
	}
	if status == outreach.ContactError {
		res.Error = "boom"
	}
	return res
}

type recordingMerger struct {
	mu      sync.Mutex
	batches [][]int64
	err     error
}

func (m *recordingMerger) MergeResults(_ context.Context, results []outreach.ExtractionResult) (outreach.MergeReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.CreatorID)
	}
	m.batches = append(m.batches, ids)
	if m.err != nil {
		return outreach.MergeReport{}, m.err
	}
	return outreach.MergeReport{Inserted: len(results)}, nil
}

type fixedStats credentials.Stats

func (s fixedStats) Stats() credentials.Stats { return credentials.Stats(s) }

func candidates(n int) []outreach.Candidate {
	out := make([]outreach.Candidate, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, outreach.Candidate{CreatorID: int64(i), Site: fmt.Sprintf("https://c%d.example", i)})
	}
	return out
}

func TestRunMergesEachBatch(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{status: map[int64]outreach.ContactStatus{2: outreach.ContactCompleted, 5: outreach.ContactError}}
	mg := &recordingMerger{}
	d := New(ex, mg, nil, staticIDs{}, &stepClock{now: testStart}, Config{Concurrency: 2, BatchSize: 2}, nil)

	summary, err := d.Run(context.Background(), candidates(5))
	require.NoError(t, err)

	require.Equal(t, "run-test", summary.RunID)
	require.Equal(t, 5, summary.Candidates)
	require.Equal(t, 5, summary.Processed)
	require.False(t, summary.Truncated)
	require.Equal(t, 3, summary.StatusCounts[outreach.ContactNotFound])
	require.Equal(t, 1, summary.StatusCounts[outreach.ContactCompleted])
	require.Equal(t, 1, summary.StatusCounts[outreach.ContactError])
	require.Equal(t, 5, summary.Merge.Inserted)
	require.Len(t, summary.SiteHashes, 5)
	require.Equal(t, []outreach.ItemError{{CreatorID: 5, Status: outreach.ContactError, Message: "boom"}}, summary.Errors)

	require.Len(t, mg.batches, 3)
	require.ElementsMatch(t, []int64{1, 2}, mg.batches[0])
	require.ElementsMatch(t, []int64{3, 4}, mg.batches[1])
	require.Equal(t, []int64{5}, mg.batches[2])
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{delay: 10 * time.Millisecond}
	d := New(ex, &recordingMerger{}, nil, staticIDs{}, &stepClock{now: testStart}, Config{Concurrency: 3, BatchSize: 12}, nil)

	_, err := d.Run(context.Background(), candidates(12))
	require.NoError(t, err)
	require.LessOrEqual(t, ex.peak.Load(), int32(3))
	require.Len(t, ex.calls, 12)
}

func TestRunDryRunSkipsMerge(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{}
	mg := &recordingMerger{}
	d := New(ex, mg, nil, staticIDs{}, &stepClock{now: testStart}, Config{BatchSize: 2, DryRun: true}, nil)

	summary, err := d.Run(context.Background(), candidates(3))
	require.NoError(t, err)
	require.True(t, summary.DryRun)
	require.Equal(t, 3, summary.Processed)
	require.Empty(t, mg.batches)
}

func TestRunMaxItemsTruncates(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{}
	mg := &recordingMerger{}
	d := New(ex, mg, nil, staticIDs{}, &stepClock{now: testStart}, Config{BatchSize: 10, MaxItems: 4}, nil)

	summary, err := d.Run(context.Background(), candidates(9))
	require.NoError(t, err)
	require.True(t, summary.Truncated)
	require.Equal(t, 9, summary.Candidates)
	require.Equal(t, 4, summary.Processed)
	require.Len(t, mg.batches, 1)
	require.Len(t, mg.batches[0], 4)
}

func TestRunDeadlineStopsSchedulingAndMergesPartialBatch(t *testing.T) {
	t.Parallel()

	// Each Now call advances a minute: Run reads the start, then every
	// scheduling check advances the clock toward the deadline.
	clock := &stepClock{now: testStart, step: time.Minute}
	ex := &fakeExtractor{}
	mg := &recordingMerger{}
	d := New(ex, mg, nil, staticIDs{}, clock, Config{Concurrency: 1, BatchSize: 10, Deadline: 3 * time.Minute}, nil)

	summary, err := d.Run(context.Background(), candidates(10))
	require.NoError(t, err)
	require.True(t, summary.Truncated)
	require.Equal(t, 2, summary.Processed)
	require.Len(t, mg.batches, 1)
	require.Equal(t, []int64{1, 2}, mg.batches[0])
}

func TestRunDoesNotStartItemsThatWaitedPastDeadline(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: testStart}
	// The first item runs long enough to carry the run past its deadline while
	// the second waits for the only worker slot.
	ex := &fakeExtractor{before: func(outreach.Candidate) { clock.Advance(10 * time.Minute) }}
	mg := &recordingMerger{}
	d := New(ex, mg, nil, staticIDs{}, clock, Config{Concurrency: 1, BatchSize: 10, Deadline: 5 * time.Minute}, nil)

	summary, err := d.Run(context.Background(), candidates(3))
	require.NoError(t, err)
	require.True(t, summary.Truncated)
	require.Equal(t, []int64{1}, ex.calls)
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, [][]int64{{1}}, mg.batches)
}

func TestRunDeadlineCancelsInFlightItems(t *testing.T) {
	t.Parallel()

	// The run clock never reaches the deadline; the wall-clock bound on
	// in-flight work is what ends the hung item.
	ex := &fakeExtractor{
		delay:  time.Minute,
		status: map[int64]outreach.ContactStatus{1: outreach.ContactError},
	}
	mg := &recordingMerger{}
	d := New(ex, mg, nil, staticIDs{}, &stepClock{now: testStart}, Config{Concurrency: 1, BatchSize: 10, Deadline: 50 * time.Millisecond}, nil)

	start := time.Now()
	summary, err := d.Run(context.Background(), candidates(1))
	require.NoError(t, err)
	require.Less(t, time.Since(start), 10*time.Second)
	require.True(t, summary.Truncated)
	require.Zero(t, summary.Processed, "an item cut off by the deadline is left for the next run")
	require.Empty(t, mg.batches)
}

func TestRunAbortsOnStorageFailure(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{}
	mg := &recordingMerger{err: fmt.Errorf("begin: %w", outreach.ErrStorageUnavailable)}
	d := New(ex, mg, nil, staticIDs{}, &stepClock{now: testStart}, Config{BatchSize: 2}, nil)

	summary, err := d.Run(context.Background(), candidates(6))
	require.ErrorIs(t, err, outreach.ErrStorageUnavailable)
	require.Equal(t, 2, summary.Processed)
	require.Len(t, mg.batches, 1)
}

func TestRunAbortsWithoutActiveCredentials(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{}
	d := New(ex, &recordingMerger{}, fixedStats{Total: 2, Exhausted: 2}, staticIDs{}, &stepClock{now: testStart}, Config{}, nil)

	_, err := d.Run(context.Background(), candidates(2))
	require.ErrorIs(t, err, ErrNoActiveCredentials)
	require.Empty(t, ex.calls)
}

func TestRunCanceledContextReturnsError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mg := &recordingMerger{}
	d := New(&fakeExtractor{}, mg, nil, staticIDs{}, &stepClock{now: testStart}, Config{}, nil)

	_, err := d.Run(ctx, candidates(3))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, mg.batches)
}

func TestRunSamplesAtMostTenErrors(t *testing.T) {
	t.Parallel()

	status := make(map[int64]outreach.ContactStatus)
	for i := int64(1); i <= 15; i++ {
		status[i] = outreach.ContactError
	}
	d := New(&fakeExtractor{status: status}, &recordingMerger{}, nil, staticIDs{}, &stepClock{now: testStart}, Config{BatchSize: 5}, nil)

	summary, err := d.Run(context.Background(), candidates(15))
	require.NoError(t, err)
	require.Equal(t, 15, summary.StatusCounts[outreach.ContactError])
	require.Len(t, summary.Errors, 10)
}

// budgetClient grants each API key a fixed number of calls, then answers
// with a quota error.
type budgetClient struct {
	mu     sync.Mutex
	budget int
	used   map[string]int
}

func (c *budgetClient) spend(apiKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.used[apiKey] >= c.budget {
		return &outreach.ServiceError{Class: outreach.ClassQuota, StatusCode: http.StatusPaymentRequired, Message: "Payment Required"}
	}
	c.used[apiKey]++
	return nil
}

func (c *budgetClient) Map(_ context.Context, apiKey string, req outreach.MapRequest) ([]string, error) {
	if err := c.spend(apiKey); err != nil {
		return nil, err
	}
	return []string{req.URL + "/contact"}, nil
}

func (c *budgetClient) Scrape(_ context.Context, apiKey, pageURL string) (outreach.ScrapeResult, error) {
	if err := c.spend(apiKey); err != nil {
		return outreach.ScrapeResult{}, err
	}
	return outreach.ScrapeResult{
		URL:        pageURL,
		StatusCode: http.StatusOK,
		HTML:       `<a href="mailto:hello@maker.example">Email us</a>`,
	}, nil
}

func TestRunCredentialExhaustionEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &stepClock{now: testStart}
	store := memory.NewStore()
	store.PutCredential(outreach.Credential{ID: "a", APIKey: "key-a", Status: outreach.CredentialActive})
	store.PutCredential(outreach.Credential{ID: "b", APIKey: "key-b", Status: outreach.CredentialActive})

	pool := credentials.New(store, clock, credentials.Config{MaxInFlight: 1, AcquireTimeout: time.Second}, nil)
	require.NoError(t, pool.Load(ctx))
	bl := blocklist.New(store, clock, blocklist.Config{}, nil)
	require.NoError(t, bl.Load(ctx))

	client := &budgetClient{budget: 2, used: make(map[string]int)}
	worker := extractor.New(client, pool, bl, nil, hashsha.New(), clock, extractor.Config{
		MaxRetries:     1,
		BackoffInitial: time.Millisecond,
		BackoffMax:     time.Millisecond,
	}, nil)
	mg := merger.New(store, store, clock, merger.Config{}, nil)
	d := New(worker, mg, pool, staticIDs{}, clock, Config{Concurrency: 3, BatchSize: 10}, nil)

	summary, err := d.Run(ctx, []outreach.Candidate{
		{CreatorID: 1, Site: "https://one.example"},
		{CreatorID: 2, Site: "https://two.example"},
		{CreatorID: 3, Site: "https://three.example"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, summary.StatusCounts[outreach.ContactCompleted])
	require.Equal(t, 1, summary.StatusCounts[outreach.ContactError])
	require.Equal(t, 3, summary.Merge.Inserted)

	// Workers race for the two keys, so any one creator may be the one left
	// without a credential.
	var failed []int64
	for _, id := range []int64{1, 2, 3} {
		row, ok := store.Outreach(id)
		require.True(t, ok)
		if row.ContactStatus == outreach.ContactError {
			require.Equal(t, extractor.ExhaustedMessage, row.ContactError)
			failed = append(failed, id)
		}
	}
	require.Len(t, failed, 1)

	for _, id := range []string{"a", "b"} {
		cred, ok := store.Credential(id)
		require.True(t, ok)
		require.Equal(t, outreach.CredentialExhausted, cred.Status)
	}
	require.Equal(t, credentials.Stats{Total: 2, Exhausted: 2}, pool.Stats())

	_, err = d.Run(ctx, []outreach.Candidate{{CreatorID: 4, Site: "https://four.example"}})
	require.True(t, errors.Is(err, ErrNoActiveCredentials))
}
