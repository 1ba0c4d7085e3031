package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dot-do/functions-sub012/internal/model"
)

// humanDefaultTimeout is the flavor default for human-approval tasks. Human
// responses are slow; callers usually override this per request.
const humanDefaultTimeout = 5 * time.Minute

// Task is one pending human-approval request.
type Task struct {
	ID        string    `json:"id"`
	Profile   string    `json:"profile,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	done chan taskOutcome
}

type taskOutcome struct {
	output []byte
	err    error
}

// HumanBackend parks executions until a human resolves them. Notification
// delivery and UI rendering are external collaborators; this backend only
// tracks pending tasks and completes them on Resolve or Reject.
type HumanBackend struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewHumanBackend creates a backend with no pending tasks.
func NewHumanBackend() *HumanBackend {
	return &HumanBackend{tasks: make(map[string]*Task)}
}

// Execute registers a pending task and blocks until it is resolved, rejected,
// or the context fires.
func (h *HumanBackend) Execute(ctx context.Context, req *model.Request) (*Response, error) {
	task := &Task{
		ID:        model.NewID(),
		Profile:   req.Profile,
		Payload:   req.Payload,
		CreatedAt: time.Now().UTC(),
		done:      make(chan taskOutcome, 1),
	}

	h.mu.Lock()
	h.tasks[task.ID] = task
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.tasks, task.ID)
		h.mu.Unlock()
	}()

	select {
	case outcome := <-task.done:
		if outcome.err != nil {
			return nil, outcome.err
		}
		return &Response{Output: outcome.output}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve completes a pending task with the given output.
func (h *HumanBackend) Resolve(taskID string, output []byte) error {
	return h.finish(taskID, taskOutcome{output: output})
}

// Reject fails a pending task. The reason is preserved verbatim in the
// resulting failure.
func (h *HumanBackend) Reject(taskID, reason string) error {
	return h.finish(taskID, taskOutcome{err: &model.BackendError{
		Name:       "HumanRejectedError",
		Message:    reason,
		StatusCode: 403,
	}})
}

func (h *HumanBackend) finish(taskID string, outcome taskOutcome) error {
	h.mu.Lock()
	task, ok := h.tasks[taskID]
	if ok {
		delete(h.tasks, taskID)
	}
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending task %q", taskID)
	}
	task.done <- outcome
	return nil
}

// Pending lists tasks awaiting a human, oldest first.
func (h *HumanBackend) Pending() []*Task {
	h.mu.Lock()
	defer h.mu.Unlock()

	tasks := make([]*Task, 0, len(h.tasks))
	for _, t := range h.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks
}

// Capabilities reports the human flavor defaults.
func (h *HumanBackend) Capabilities() Capabilities {
	return Capabilities{
		Flavor:         model.FlavorHuman,
		DefaultTimeout: humanDefaultTimeout,
		Description:    "human approval task",
	}
}
