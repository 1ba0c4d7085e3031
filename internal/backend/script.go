package backend

import (
	"context"
	"time"

	"github.com/dot-do/functions-sub012/internal/model"
)

// scriptDefaultTimeout is the flavor default for sandboxed script runs.
const scriptDefaultTimeout = 5 * time.Second

// RunnerFunc executes script source against an input payload inside a
// sandbox. The sandbox itself is an external collaborator; this package only
// adapts it to the Backend contract.
type RunnerFunc func(ctx context.Context, payload []byte, profile string) ([]byte, error)

// ScriptBackend runs scripted-code functions through a sandbox runner.
type ScriptBackend struct {
	run RunnerFunc
}

// NewScriptBackend wraps a sandbox runner. A nil runner gets a passthrough
// that returns the payload unchanged, which is enough for local development.
func NewScriptBackend(run RunnerFunc) *ScriptBackend {
	if run == nil {
		run = func(_ context.Context, payload []byte, _ string) ([]byte, error) {
			return payload, nil
		}
	}
	return &ScriptBackend{run: run}
}

// Execute runs the script, observing ctx cooperatively.
func (s *ScriptBackend) Execute(ctx context.Context, req *model.Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := s.run(ctx, req.Payload, req.Profile)
	if err != nil {
		return nil, err
	}
	return &Response{Output: out}, nil
}

// Capabilities reports the script flavor defaults.
func (s *ScriptBackend) Capabilities() Capabilities {
	return Capabilities{
		Flavor:         model.FlavorScript,
		DefaultTimeout: scriptDefaultTimeout,
		Description:    "sandboxed script execution",
	}
}
