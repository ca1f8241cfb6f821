package gmail

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOperationCost(t *testing.T) {
	tests := []struct {
		op   Operation
		cost int
	}{
		{OpMessagesGet, 5},
		{OpMessagesList, 5},
		{OpAttachmentsGet, 5},
		{OpLabelsList, 1},
		{OpProfile, 1},
		{Operation(999), 1},
	}

	for _, tc := range tests {
		if got := tc.op.Cost(); got != tc.cost {
			t.Errorf("Operation(%d).Cost() = %d, want %d", tc.op, got, tc.cost)
		}
	}
}

func TestNewRateLimiter_ScaledQPS(t *testing.T) {
	tests := []struct {
		qps  float64
		want float64
	}{
		{5, DefaultRefillRate},
		{2.5, DefaultRefillRate / 2},
		{10, DefaultRefillRate},
	}
	for _, tc := range tests {
		rl := NewRateLimiter(tc.qps)
		if got := float64(rl.limiter.Limit()); got != tc.want {
			t.Errorf("NewRateLimiter(%v) rate = %v, want %v", tc.qps, got, tc.want)
		}
		if rl.limiter.Burst() != DefaultCapacity {
			t.Errorf("burst = %d, want %d", rl.limiter.Burst(), DefaultCapacity)
		}
	}
}

func TestRateLimiter_TryAcquireDrainsBucket(t *testing.T) {
	rl := NewRateLimiter(5)
	frozen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return frozen }

	n := 0
	for rl.TryAcquire(OpMessagesGet) {
		n++
		if n > DefaultCapacity {
			t.Fatal("bucket never emptied")
		}
	}
	if want := DefaultCapacity / OpMessagesGet.Cost(); n != want {
		t.Errorf("acquired %d messages.get calls, want %d", n, want)
	}
}

func TestRateLimiter_ThrottleBlocksAndCancels(t *testing.T) {
	rl := NewRateLimiter(5)
	rl.Throttle(time.Hour)

	if !rl.Throttled() {
		t.Fatal("Throttled() = false after Throttle")
	}
	if rl.TryAcquire(OpProfile) {
		t.Error("TryAcquire succeeded while throttled")
	}
	if got, want := float64(rl.limiter.Limit()), DefaultRefillRate*throttleRecoveryFactor; got != want {
		t.Errorf("throttled rate = %v, want %v", got, want)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Acquire(ctx, OpProfile); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire while throttled = %v, want deadline exceeded", err)
	}
}

func TestRateLimiter_ThrottleNeverShortens(t *testing.T) {
	rl := NewRateLimiter(5)
	rl.Throttle(time.Minute)
	first := rl.throttledUntil
	rl.Throttle(time.Second)
	if !rl.throttledUntil.Equal(first) {
		t.Errorf("shorter throttle moved window from %v to %v", first, rl.throttledUntil)
	}
}

func TestRateLimiter_ThrottleExpiryRestoresRate(t *testing.T) {
	rl := NewRateLimiter(5)
	current := time.Now()
	rl.now = func() time.Time { return current }

	rl.Throttle(30 * time.Second)
	current = current.Add(31 * time.Second)

	if rl.Throttled() {
		t.Fatal("still throttled after window passed")
	}
	if got := float64(rl.limiter.Limit()); got != DefaultRefillRate {
		t.Errorf("rate after recovery = %v, want %v", got, DefaultRefillRate)
	}
}

func TestRateLimiter_RecoverRate(t *testing.T) {
	rl := NewRateLimiter(5)
	rl.Throttle(time.Hour)
	rl.RecoverRate()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rl.Acquire(ctx, OpLabelsList); err != nil {
		t.Errorf("Acquire after RecoverRate: %v", err)
	}
}
