package engine

import (
	"context"
	"errors"
	"time"

	"github.com/dot-do/functions-sub012/internal/model"
)

// DefaultTimeout is the global fallback deadline when neither the request nor
// the backend flavor supplies one.
const DefaultTimeout = 30 * time.Second

// Token carries the effective deadline and external abort for one execution.
// It is handed to the backend, which must observe Context and stop promptly
// when it fires. Cancellation is cooperative: the engine stops waiting once
// the token fires even if the backend does not.
type Token struct {
	ctx     context.Context
	abort   context.CancelCauseFunc
	release context.CancelFunc
	timeout time.Duration
}

// NewToken derives a token from parent with the given deadline. The parent
// carries any externally supplied cancellation; either source firing cancels
// the token. Both transitions are terminal and idempotent — the first cause
// wins and later cancels are no-ops.
func NewToken(parent context.Context, timeout time.Duration) *Token {
	abortCtx, abort := context.WithCancelCause(parent)
	ctx, release := context.WithTimeoutCause(abortCtx, timeout, &model.TimeoutError{Timeout: timeout})
	return &Token{
		ctx:     ctx,
		abort:   abort,
		release: release,
		timeout: timeout,
	}
}

// Context returns the context observed by the backend invocation.
func (t *Token) Context() context.Context { return t.ctx }

// Timeout returns the effective deadline duration.
func (t *Token) Timeout() time.Duration { return t.timeout }

// Abort cancels the token with reason aborted. Idempotent; an abort after the
// deadline already fired does not change the recorded cause.
func (t *Token) Abort(reason string) {
	t.abort(&model.AbortedError{Reason: reason})
}

// Release frees the token's timer resources. Call once the execution is done.
func (t *Token) Release() {
	t.release()
	t.abort(nil)
}

// Err returns the typed cancellation cause once the token has fired:
// *model.TimeoutError for a deadline, *model.AbortedError for an external
// abort. Nil while the token is live.
func (t *Token) Err() error {
	if t.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(t.ctx)
	var te *model.TimeoutError
	var ae *model.AbortedError
	if errors.As(cause, &te) || errors.As(cause, &ae) {
		return cause
	}
	// Parent contexts cancelled without a typed cause (e.g. a caller-supplied
	// ctx) count as external aborts.
	if errors.Is(cause, context.DeadlineExceeded) {
		return &model.TimeoutError{Timeout: t.timeout}
	}
	return &model.AbortedError{Reason: cause.Error()}
}

// EffectiveTimeout resolves the deadline for a request: the request override
// when positive, else the flavor default, else the global default.
func EffectiveTimeout(req *model.Request, flavorDefault time.Duration) time.Duration {
	if req.TimeoutS != nil && *req.TimeoutS > 0 {
		return time.Duration(*req.TimeoutS) * time.Second
	}
	if flavorDefault > 0 {
		return flavorDefault
	}
	return DefaultTimeout
}
