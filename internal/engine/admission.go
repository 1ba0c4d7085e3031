package engine

import (
	"sync"

	"github.com/dot-do/functions-sub012/internal/model"
)

// Decision is the outcome of an admission attempt.
type Decision int

const (
	// DecisionAdmitted grants a concurrency slot immediately.
	DecisionAdmitted Decision = iota
	// DecisionQueued places the request in the FIFO waiting queue.
	DecisionQueued
	// DecisionRejected refuses the request outright: slots and queue are
	// both full. A rejected request never touches the queue.
	DecisionRejected
)

// Ticket represents one queued admission. The holder waits on Ready: a nil
// error means a slot has been granted (and must later be released); a non-nil
// error means the queue was drained underneath the waiter.
type Ticket struct {
	ready chan error
	// queued flips to false once the ticket leaves the queue, whether by
	// promotion, drain, or withdrawal. Guarded by the controller's mutex.
	queued bool
}

// Ready returns the channel resolved when the ticket leaves the queue.
func (t *Ticket) Ready() <-chan error { return t.ready }

// Admission enforces the engine's concurrency bound and bounded FIFO waiting
// queue. All state is guarded by one mutex; at every instant
// active <= maxConcurrent and len(queue) <= maxQueue.
type Admission struct {
	mu            sync.Mutex
	maxConcurrent int
	maxQueue      int
	active        int
	queue         []*Ticket
	draining      bool
}

// NewAdmission creates a controller with fixed bounds. Bounds below 1 slot /
// 0 queue are clamped.
func NewAdmission(maxConcurrent, maxQueue int) *Admission {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxQueue < 0 {
		maxQueue = 0
	}
	return &Admission{maxConcurrent: maxConcurrent, maxQueue: maxQueue}
}

// TryAdmit attempts to grant a slot. The ticket is non-nil only for
// DecisionQueued. During drain every attempt is rejected.
func (a *Admission) TryAdmit() (Decision, *Ticket) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.draining {
		return DecisionRejected, nil
	}
	if a.active < a.maxConcurrent {
		a.active++
		return DecisionAdmitted, nil
	}
	if len(a.queue) < a.maxQueue {
		t := &Ticket{ready: make(chan error, 1), queued: true}
		a.queue = append(a.queue, t)
		return DecisionQueued, t
	}
	return DecisionRejected, nil
}

// Release returns a slot. Exactly one Release per granted slot. If the queue
// is non-empty the slot transfers directly to the oldest waiter, preserving
// FIFO order.
func (a *Admission) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.queue) > 0 && !a.draining {
		t := a.queue[0]
		a.queue = a.queue[1:]
		t.queued = false
		t.ready <- nil
		return
	}
	a.active--
}

// Withdraw removes a queued ticket, e.g. when its caller gives up waiting.
// It reports whether the ticket was still queued; false means the ticket was
// already resolved and the caller must consume Ready (and release any granted
// slot) instead.
func (a *Admission) Withdraw(t *Ticket) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !t.queued {
		return false
	}
	for i, qt := range a.queue {
		if qt == t {
			a.queue = append(a.queue[:i], a.queue[i+1:]...)
			t.queued = false
			return true
		}
	}
	return false
}

// FailQueued fails every queued ticket with err, clears the queue, and
// returns how many waiters were dropped. Used by drain.
func (a *Admission) FailQueued(err error) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	dropped := len(a.queue)
	for _, t := range a.queue {
		t.queued = false
		t.ready <- err
	}
	a.queue = nil
	return dropped
}

// SetDraining makes every subsequent TryAdmit reject and stops queue
// promotion on Release.
func (a *Admission) SetDraining() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.draining = true
}

// Active returns the number of held slots.
func (a *Admission) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// QueueDepth returns the number of waiting tickets.
func (a *Admission) QueueDepth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// CapacityError builds the typed rejection error for the current counters.
func (a *Admission) CapacityError() *model.CapacityError {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &model.CapacityError{Active: a.active, Queued: len(a.queue)}
}
