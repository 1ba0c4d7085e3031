package model

import "time"

// Execution status constants. Pending, queued, and running are transient;
// completed, failed, and timeout are terminal.
const (
	StatusPending   = "pending"
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// Function flavor constants. Each flavor is served by its own backend.
const (
	FlavorScript   = "script"
	FlavorModel    = "model"
	FlavorHuman    = "human"
	FlavorAssembly = "assembly"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusQueued:  true,
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusQueued: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimeout:   true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Request describes one function execution submitted to the platform.
// Immutable once submitted; the engine operates on its own copy.
type Request struct {
	FunctionID string `json:"function_id"`
	Version    string `json:"version,omitempty"`
	Flavor     string `json:"flavor"`

	// Payload is the normalized input content. Together with Profile it forms
	// the cache key; FunctionID deliberately does not participate.
	Payload []byte `json:"payload,omitempty"`

	// Profile identifies backend-specific execution parameters (model name,
	// sandbox profile, assembly key) that affect the produced output.
	Profile string `json:"profile,omitempty"`

	// TimeoutS overrides the flavor's default deadline when > 0.
	TimeoutS *int `json:"timeout_s,omitempty"`

	// MaxAttempts overrides the retry policy's default attempt budget when > 0.
	MaxAttempts *int `json:"max_attempts,omitempty"`

	CacheEnabled bool `json:"cache_enabled,omitempty"`
	CacheTTLS    int  `json:"cache_ttl_s,omitempty"`
}

// Metrics records per-execution measurements, independent of any
// backend-specific metrics such as token counts or CPU time.
type Metrics struct {
	DurationMS int64     `json:"duration_ms"`
	RetryCount int       `json:"retry_count"`
	CacheHit   bool      `json:"cache_hit"`
	TimedOut   bool      `json:"timed_out"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

// Result is the structured outcome of one execution. Every execution produces
// a Result, successful or not; failures are carried in Error rather than
// surfaced as panics or bare errors.
type Result struct {
	ExecutionID string    `json:"execution_id"`
	Status      string    `json:"status"`
	Output      []byte    `json:"output,omitempty"`
	Error       *ErrInfo  `json:"error,omitempty"`
	Metrics     Metrics   `json:"metrics"`
}

// ErrInfo preserves a failure's identity (name + message) verbatim.
type ErrInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Execution is the persisted record of one execution, written by the
// persistence collaborator at start and completion.
type Execution struct {
	ID         string     `json:"id"`
	FunctionID string     `json:"function_id"`
	Version    string     `json:"version,omitempty"`
	Flavor     string     `json:"flavor"`
	Status     string     `json:"status"`
	Output     []byte     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	RetryCount int        `json:"retry_count"`
	CacheHit   bool       `json:"cache_hit"`
	TimedOut   bool       `json:"timed_out"`
	DurationMS *int64     `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
