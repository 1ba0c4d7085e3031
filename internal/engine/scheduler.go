package engine

import (
	"container/heap"
	"sync"
	"time"
)

// Scheduler is the single wake-up primitive behind every timer-driven
// behavior in the engine (idle transitions, cache sweeps). Callers schedule
// "run f at time t"; the scheduler keeps a min-heap of pending wake-ups and
// arms one underlying timer for the earliest.
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	pending wakeupHeap
	timer   Timer
	stopped bool
	seq     int
}

// Wakeup is a handle to one scheduled callback.
type Wakeup struct {
	at        time.Time
	fn        func()
	seq       int
	index     int
	cancelled bool
}

// NewScheduler creates a scheduler driven by the given clock.
func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// At schedules fn to run at time t. Callbacks run on the scheduler's timer
// goroutine and must not block.
func (s *Scheduler) At(t time.Time, fn func()) *Wakeup {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return &Wakeup{cancelled: true}
	}

	w := &Wakeup{at: t, fn: fn, seq: s.seq}
	s.seq++
	heap.Push(&s.pending, w)
	s.rearmLocked()
	return w
}

// After schedules fn to run after d.
func (s *Scheduler) After(d time.Duration, fn func()) *Wakeup {
	return s.At(s.clock.Now().Add(d), fn)
}

// Cancel removes a pending wake-up. Cancelling an already-fired or
// already-cancelled wake-up is a no-op.
func (s *Scheduler) Cancel(w *Wakeup) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.cancelled || w.index < 0 {
		return
	}
	w.cancelled = true
	heap.Remove(&s.pending, w.index)
	s.rearmLocked()
}

// Stop cancels all pending wake-ups. The scheduler accepts no further work.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// rearmLocked points the single timer at the earliest pending wake-up.
func (s *Scheduler) rearmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.pending) == 0 || s.stopped {
		return
	}

	d := s.pending[0].at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.timer = s.clock.AfterFunc(d, s.fire)
}

// fire runs every wake-up that is due and re-arms for the next one.
func (s *Scheduler) fire() {
	s.mu.Lock()
	now := s.clock.Now()
	var due []*Wakeup
	for len(s.pending) > 0 && !s.pending[0].at.After(now) {
		w := heap.Pop(&s.pending).(*Wakeup)
		due = append(due, w)
	}
	s.rearmLocked()
	s.mu.Unlock()

	for _, w := range due {
		w.fn()
	}
}

// wakeupHeap orders wake-ups by time, breaking ties by scheduling order.
type wakeupHeap []*Wakeup

func (h wakeupHeap) Len() int { return len(h) }

func (h wakeupHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h wakeupHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *wakeupHeap) Push(x any) {
	w := x.(*Wakeup)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *wakeupHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}
