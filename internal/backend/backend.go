// Package backend defines the common interface that all function flavor
// backends (script sandbox, AI model, human task, emulated assembly) must
// implement, along with the registry that routes requests to them. The engine
// is agnostic to what a backend actually does: given a validated request and
// a cancellation context, produce a result or fail with a classifiable error.
package backend

import (
	"context"
	"time"

	"github.com/dot-do/functions-sub012/internal/model"
)

// Backend is implemented by every flavor-specific executor.
type Backend interface {
	// Execute performs one invocation. The context carries the effective
	// deadline and abort signal; implementations must observe it and stop
	// promptly when it fires. Failures should be typed
	// (*model.BackendError, *model.ValidationError) so the retry policy can
	// classify them.
	Execute(ctx context.Context, req *model.Request) (*Response, error)

	// Capabilities reports the flavor this backend serves and its defaults.
	Capabilities() Capabilities
}

// Response holds a backend's successful output.
type Response struct {
	Output []byte `json:"output"`
}

// Capabilities describes one backend.
type Capabilities struct {
	Flavor string `json:"flavor"`

	// DefaultTimeout is the flavor's deadline when the request carries no
	// override. Zero defers to the engine's global default.
	DefaultTimeout time.Duration `json:"default_timeout_ns"`

	Description string `json:"description,omitempty"`
}
