package gmail

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Operation represents a Gmail API operation with its quota cost.
type Operation int

const (
	OpMessagesGet    Operation = iota // 5 units
	OpMessagesList                    // 5 units
	OpAttachmentsGet                  // 5 units
	OpLabelsList                      // 1 unit
	OpProfile                         // 1 unit
)

// Cost returns the quota cost for an operation.
func (o Operation) Cost() int {
	switch o {
	case OpMessagesGet, OpMessagesList, OpAttachmentsGet:
		return 5
	default:
		return 1
	}
}

// DefaultCapacity is the default token bucket capacity (Gmail's per-user quota).
const DefaultCapacity = 250

// DefaultRefillRate is quota units per second at the default rate.
const DefaultRefillRate = 250.0

// MinQPS is the lowest accepted QPS setting.
const MinQPS = 0.1

const (
	defaultQPS             = 5.0
	throttleRecoveryFactor = 0.5
)

// RateLimiter is a quota-unit token bucket for Gmail API calls built on
// x/time/rate. Throttle pauses all callers and halves the refill rate until
// the pause ends.
type RateLimiter struct {
	limiter  *rate.Limiter
	baseRate rate.Limit
	now      func() time.Time

	mu             sync.Mutex
	throttledUntil time.Time
}

// NewRateLimiter creates a rate limiter for the given QPS. 5 QPS maps to
// Gmail's full per-user quota; lower values scale the refill rate down.
func NewRateLimiter(qps float64) *RateLimiter {
	if qps < MinQPS {
		qps = MinQPS
	}
	scale := qps / defaultQPS
	if scale > 1 {
		scale = 1
	}
	r := rate.Limit(DefaultRefillRate * scale)
	return &RateLimiter{
		limiter:  rate.NewLimiter(r, DefaultCapacity),
		baseRate: r,
		now:      time.Now,
	}
}

// throttleWait returns how long callers must still pause, restoring the
// base rate once a throttle window has passed.
func (r *RateLimiter) throttleWait() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.throttledUntil.IsZero() {
		return 0
	}
	if d := r.throttledUntil.Sub(r.now()); d > 0 {
		return d
	}
	r.throttledUntil = time.Time{}
	r.limiter.SetLimit(r.baseRate)
	return 0
}

// Acquire blocks until quota for op is available or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context, op Operation) error {
	for {
		wait := r.throttleWait()
		if wait == 0 {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return r.limiter.WaitN(ctx, op.Cost())
}

// TryAcquire takes quota for op without blocking.
func (r *RateLimiter) TryAcquire(op Operation) bool {
	if r.throttleWait() > 0 {
		return false
	}
	return r.limiter.AllowN(r.now(), op.Cost())
}

// Available returns the number of quota units currently in the bucket.
func (r *RateLimiter) Available() float64 {
	return r.limiter.TokensAt(r.now())
}

// Throttle pauses callers for d and reduces the refill rate. An existing
// longer pause is never shortened.
func (r *RateLimiter) Throttle(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	end := r.now().Add(d)
	if end.After(r.throttledUntil) {
		r.throttledUntil = end
	}
	r.limiter.SetLimit(r.baseRate * throttleRecoveryFactor)
}

// Throttled reports whether a throttle window is active.
func (r *RateLimiter) Throttled() bool {
	return r.throttleWait() > 0
}

// RecoverRate restores the original refill rate immediately.
func (r *RateLimiter) RecoverRate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttledUntil = time.Time{}
	r.limiter.SetLimit(r.baseRate)
}
