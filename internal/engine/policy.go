package engine

import (
	"net/http"
	"time"

	"github.com/roach88/offsync/internal/syncerr"
)

// DefaultRetryDelay is the fixed backoff between attempts of one entry.
const DefaultRetryDelay = 2 * time.Second

// RetryPolicy decides what happens to an entry after a failed attempt.
type RetryPolicy interface {
	// Discard reports whether the entry should be dropped and rolled back.
	// attempts counts every attempt so far, including the failed one.
	Discard(err error, attempts int) bool

	// Delay returns how long to wait before the next attempt.
	Delay(attempts int) time.Duration
}

// FixedPolicy retries after a constant delay.
//
// The zero value never discards and waits DefaultRetryDelay. There is no
// growth and no jitter.
type FixedPolicy struct {
	// Interval between attempts. Zero means DefaultRetryDelay.
	Interval time.Duration

	// DiscardClientErrors drops entries rejected with a 4xx other than
	// 401, 408 and 429, which cannot succeed on retry.
	DiscardClientErrors bool

	// MaxAttempts drops an entry after this many attempts. Zero means never.
	MaxAttempts int
}

// DefaultPolicy returns the policy that retries forever every 2 seconds.
func DefaultPolicy() FixedPolicy {
	return FixedPolicy{Interval: DefaultRetryDelay}
}

// Discard implements RetryPolicy.
func (p FixedPolicy) Discard(err error, attempts int) bool {
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return true
	}
	if p.DiscardClientErrors && syncerr.IsRemoteService(err) {
		return isPermanentClientError(syncerr.StatusOf(err))
	}
	return false
}

// Delay implements RetryPolicy.
func (p FixedPolicy) Delay(int) time.Duration {
	if p.Interval <= 0 {
		return DefaultRetryDelay
	}
	return p.Interval
}

func isPermanentClientError(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusUnauthorized, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return true
}
