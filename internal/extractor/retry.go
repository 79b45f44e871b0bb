package extractor

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
)

// retryPolicy retries transient service errors with jittered exponential backoff.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func newRetryPolicy(maxRetries int, base, maxDelay time.Duration) *retryPolicy {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &retryPolicy{maxRetries: maxRetries, baseDelay: base, maxDelay: maxDelay}
}

// shouldRetry decides whether err is worth another attempt. parent is the
// caller's context; a per-call timeout still counts as transient.
func (p *retryPolicy) shouldRetry(parent context.Context, err error, retries int) bool {
	if err == nil || retries >= p.maxRetries {
		return false
	}
	if parent.Err() != nil {
		return false
	}
	if errors.Is(err, outreach.ErrPoolExhausted) {
		return false
	}
	return outreach.ClassOf(err) == outreach.ClassTransient
}

// backoff returns the wait before retry number attempt (zero based).
func (p *retryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
