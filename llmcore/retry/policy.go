// Package retry drives bounded exponential backoff around a fallible
// operation, classifying errors by the llmcore error taxonomy rather
// than retrying (or refusing to retry) indiscriminately.
//
// Grounded on the teacher's llm/retry/backoff.go for the backoff
// formula and jitter, reworked to classify by llmcore.ErrorKind instead
// of the teacher's generic RetryableError wrapper.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/paxoscn/llmdispatch/llmcore"
)

// Policy configures the retry engine per SPEC_FULL §4.4.
type Policy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RetryableKinds  map[llmcore.ErrorKind]bool
}

// DefaultPolicy mirrors the teacher's DefaultRetryPolicy constants: 3
// attempts, 1s base delay, 30s cap, 2x multiplier.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		RetryableKinds: map[llmcore.ErrorKind]bool{
			llmcore.KindRateLimit:      true,
			llmcore.KindNetwork:        true,
			llmcore.KindProviderServer: true,
			llmcore.KindTimeout:        true,
		},
	}
}

func (p Policy) isRetryable(err error) bool {
	kind := llmcore.KindOf(err)
	if kind == "" {
		// An error that isn't one of ours (e.g. a raw transport error
		// that escaped classification) is treated as network-class.
		return p.RetryableKinds[llmcore.KindNetwork]
	}
	return p.RetryableKinds[kind]
}

// Op is a fallible operation the retry engine drives. attempt is
// 1-indexed, passed through so callers can label logs/metrics.
type Op func(ctx context.Context, attempt int) (any, error)

// Do runs op, retrying on retryable failures per p, until success, a
// non-retryable failure, attempts are exhausted, or ctx is cancelled.
// It sleeps between attempts via context-aware timers so a caller
// cancellation is observed promptly rather than after the full delay.
func Do(ctx context.Context, p Policy, op Op) (any, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	delay := p.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == p.MaxAttempts || !p.isRetryable(err) {
			return nil, lastErr
		}

		sleep := jitter(delay)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return nil, lastErr
}

// jitter applies ±25% jitter to d, matching the teacher's
// calculateDelay. The result always stays within [0.75d, 1.25d], so it
// never degenerates to a near-zero sleep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := float64(d) * 0.25
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}
