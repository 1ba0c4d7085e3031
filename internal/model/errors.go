package model

import (
	"fmt"
	"strings"
	"time"
)

// CapacityError reports that admission was rejected because both the
// concurrency slots and the waiting queue were full. The engine never retries
// a capacity rejection; the caller may.
type CapacityError struct {
	Active int
	Queued int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d active executions, %d queued", e.Active, e.Queued)
}

// TimeoutError reports that the execution deadline fired before the backend
// produced a result.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timeout after %s", e.Timeout)
}

// AbortedError reports an externally requested cancellation. Never retried.
type AbortedError struct {
	Reason string
}

func (e *AbortedError) Error() string {
	if e.Reason == "" {
		return "execution aborted"
	}
	return fmt.Sprintf("execution aborted: %s", e.Reason)
}

// BackendError is a classifiable failure raised by a backend. StatusCode
// follows HTTP semantics: 429 and 5xx are retryable, other 4xx are terminal.
// A zero StatusCode marks a bare network-level error, which is terminal.
type BackendError struct {
	Name       string
	Message    string
	StatusCode int

	// RetryAfter, when positive on a retryable error, is the backend's own
	// delay hint; the larger of it and the computed backoff wins.
	RetryAfter time.Duration
}

func (e *BackendError) Error() string {
	return e.Message
}

// ValidationError reports that the backend returned output which failed
// post-hoc schema validation. Retried without backoff up to the attempt
// budget; on exhaustion the failing fields are named.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (fields: %s)", e.Message, strings.Join(e.Fields, ", "))
}

// ShutdownError reports that a request arrived or was queued while the engine
// was draining.
type ShutdownError struct{}

func (e *ShutdownError) Error() string {
	return "engine is shutting down"
}

// ErrName returns the name recorded for an error in results and logs. A
// backend error keeps the name the backend gave it.
func ErrName(err error) string {
	switch e := err.(type) {
	case *CapacityError:
		return "CapacityError"
	case *TimeoutError:
		return "TimeoutError"
	case *AbortedError:
		return "AbortedError"
	case *BackendError:
		if e.Name != "" {
			return e.Name
		}
		return "BackendError"
	case *ValidationError:
		return "ValidationError"
	case *ShutdownError:
		return "ShutdownError"
	default:
		return "Error"
	}
}
