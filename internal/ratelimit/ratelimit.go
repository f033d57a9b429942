package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidArgument is returned for caller contract violations: an empty
// identity or action, or a non-positive window. A non-positive limit is
// valid and means "always deny".
var ErrInvalidArgument = errors.New("invalid rate limit argument")

// Key identifies one throttled (identity, action) pair. Distinct actions for
// the same identity keep independent windows.
type Key struct {
	Identity string
	Action   string
}

func (k Key) String() string {
	return fmt.Sprintf("rl:%s:%s", k.Action, k.Identity)
}

// Decision is the outcome of a single admission check
type Decision struct {
	Allowed    bool  `json:"allowed"`
	Limit      int   `json:"limit"`
	Remaining  int   `json:"remaining"`
	ResetAt    int64 `json:"reset"`
	RetryAfter int   `json:"retry_after"`
}

// takeResult is what a store reports back from one atomic prune+append pass
type takeResult struct {
	allowed bool
	count   int
	oldest  int64
}

// Store performs the atomic prune-count-append step of a sliding-window
// check. take must prune entries older than the window, admit the request
// when the surviving count is below limit, and report the surviving count
// plus the oldest surviving timestamp (now when the window is empty).
type Store interface {
	take(ctx context.Context, key Key, limit int, windowSeconds int, now int64) (takeResult, error)
}

func decisionFrom(res takeResult, limit, windowSeconds int, now int64) Decision {
	d := Decision{
		Allowed: res.allowed,
		Limit:   limit,
		ResetAt: res.oldest + int64(windowSeconds),
	}

	if res.allowed {
		d.Remaining = limit - res.count
		if d.Remaining < 0 {
			d.Remaining = 0
		}
		return d
	}

	retryAfter := d.ResetAt - now
	if retryAfter < 0 {
		retryAfter = 0
	}
	d.RetryAfter = int(retryAfter)
	return d
}

func validateCheck(identity, action string, limit, windowSeconds int) error {
	if identity == "" {
		return fmt.Errorf("%w: identity must not be empty", ErrInvalidArgument)
	}
	if action == "" {
		return fmt.Errorf("%w: action must not be empty", ErrInvalidArgument)
	}
	if windowSeconds <= 0 {
		return fmt.Errorf("%w: window must be positive", ErrInvalidArgument)
	}
	return nil
}

func validateDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidArgument)
	}
	return nil
}
