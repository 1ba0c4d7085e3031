package engine

import (
	"errors"
	"net/http"
	"time"

	"github.com/dot-do/functions-sub012/internal/model"
)

// Retry policy defaults. Three attempts total means up to two retries.
const (
	DefaultMaxAttempts = 3
	defaultBaseDelay   = 250 * time.Millisecond
)

// RetryPolicy classifies failures and computes backoff delays. The zero value
// is not useful; construct with NewRetryPolicy.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewRetryPolicy returns the default policy.
func NewRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: defaultBaseDelay}
}

// Classification is the verdict on one failure.
type Classification struct {
	Retryable bool
	// NoBackoff marks failures that are re-attempted immediately, such as
	// output validation failures where no network pressure is involved.
	NoBackoff bool
	// DelayHint is the backend's own suggested delay (Retry-After). The
	// larger of it and the computed backoff wins.
	DelayHint time.Duration
}

// Classify decides whether a failure is worth another attempt.
//
// Backend failures follow HTTP semantics: 429 and 5xx retry, other 4xx are
// terminal. Bare network errors (no status) are terminal — the platform does
// not retry them, a deliberate behavior carried over as-is. Timeouts retry;
// external aborts and shutdowns never do. Output validation failures retry
// without backoff. Anything unrecognized is terminal.
func (p RetryPolicy) Classify(err error) Classification {
	var be *model.BackendError
	if errors.As(err, &be) {
		if be.StatusCode == http.StatusTooManyRequests || be.StatusCode >= 500 {
			return Classification{Retryable: true, DelayHint: be.RetryAfter}
		}
		return Classification{}
	}

	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return Classification{Retryable: true, NoBackoff: true}
	}

	var te *model.TimeoutError
	if errors.As(err, &te) {
		return Classification{Retryable: true}
	}

	return Classification{}
}

// NextDelay computes the exponential backoff before the attempt after
// attemptIndex (0-based): base, 2*base, 4*base, ...
func (p RetryPolicy) NextDelay(attemptIndex int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	d := base
	for i := 0; i < attemptIndex; i++ {
		d *= 2
	}
	return d
}

// Delay resolves the wait before the next attempt, honoring a backend delay
// hint when it is larger than the computed backoff.
func (p RetryPolicy) Delay(attemptIndex int, c Classification) time.Duration {
	if c.NoBackoff {
		return 0
	}
	d := p.NextDelay(attemptIndex)
	if c.DelayHint > d {
		return c.DelayHint
	}
	return d
}

// Attempts resolves the attempt budget for a request, honoring its override.
func (p RetryPolicy) Attempts(req *model.Request) int {
	if req.MaxAttempts != nil && *req.MaxAttempts > 0 {
		return *req.MaxAttempts
	}
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return DefaultMaxAttempts
}
