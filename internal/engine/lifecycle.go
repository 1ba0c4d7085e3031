package engine

import (
	"sync"
	"time"
)

// Engine lifecycle states. Draining is terminal: a drained engine is not
// reused, a new instance is created instead.
const (
	StateCold     = "cold"
	StateWarm     = "warm"
	StateDraining = "draining"
)

// DefaultWarmIdleTimeout is how long a warm engine sits idle before returning
// to cold.
const DefaultWarmIdleTimeout = 60 * time.Second

// Lifecycle tracks the warm/cold/draining state of one engine instance. An
// instance starts cold, warms on the first execution, and cools again after
// the idle timeout passes with no active executions. The idle check rides the
// shared scheduler rather than owning its own timer.
type Lifecycle struct {
	mu            sync.Mutex
	state         string
	lastExecution time.Time
	idleTimeout   time.Duration
	sched         *Scheduler
	clock         Clock
	wakeup        *Wakeup
	active        func() int
	onCold        func()
}

// NewLifecycle creates a cold lifecycle. active reports the current number of
// in-flight executions; onCold (optional) runs whenever the instance returns
// to cold, letting the owner clear warm-only state.
func NewLifecycle(idleTimeout time.Duration, sched *Scheduler, clock Clock, active func() int, onCold func()) *Lifecycle {
	if idleTimeout <= 0 {
		idleTimeout = DefaultWarmIdleTimeout
	}
	return &Lifecycle{
		state:       StateCold,
		idleTimeout: idleTimeout,
		sched:       sched,
		clock:       clock,
		active:      active,
		onCold:      onCold,
	}
}

// OnExecutionStart transitions cold -> warm. No-op while draining.
func (l *Lifecycle) OnExecutionStart() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateCold {
		l.state = StateWarm
	}
}

// OnExecutionEnd records the completion and (re)schedules the idle check.
// This also serves as the deferred recheck: a warm -> cold transition that
// was blocked by active executions gets another chance here.
func (l *Lifecycle) OnExecutionEnd() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateDraining {
		return
	}
	l.lastExecution = l.clock.Now()
	if l.wakeup != nil {
		l.sched.Cancel(l.wakeup)
	}
	l.wakeup = l.sched.After(l.idleTimeout, l.checkIdle)
}

// checkIdle runs on the scheduler when the idle timeout elapses. The
// transition is deferred, not skipped, when executions are still active: the
// next completion reschedules the check.
func (l *Lifecycle) checkIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateWarm {
		return
	}
	if l.active() > 0 {
		return
	}
	if l.clock.Now().Sub(l.lastExecution) < l.idleTimeout {
		l.wakeup = l.sched.At(l.lastExecution.Add(l.idleTimeout), l.checkIdle)
		return
	}
	l.state = StateCold
	if l.onCold != nil {
		l.onCold()
	}
}

// StartDraining moves to the terminal draining state. Returns false if the
// instance was already draining.
func (l *Lifecycle) StartDraining() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateDraining {
		return false
	}
	l.state = StateDraining
	if l.wakeup != nil {
		l.sched.Cancel(l.wakeup)
		l.wakeup = nil
	}
	return true
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsWarm reports whether the instance is warm.
func (l *Lifecycle) IsWarm() bool {
	return l.State() == StateWarm
}

// LastExecution returns the completion time of the most recent execution.
func (l *Lifecycle) LastExecution() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastExecution
}
