package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dot-do/functions-sub012/internal/backend"
	"github.com/dot-do/functions-sub012/internal/cache"
	"github.com/dot-do/functions-sub012/internal/model"
	"github.com/dot-do/functions-sub012/internal/store"
)

// DefaultDrainTimeout bounds how long Drain waits for active executions to
// finish naturally before force-cancelling them.
const DefaultDrainTimeout = 10 * time.Second

// cacheSweepInterval is how often TTL-expired cache entries are proactively
// removed.
const cacheSweepInterval = time.Minute

// drainPollInterval is the granularity of Drain's wait for active executions.
const drainPollInterval = 5 * time.Millisecond

// Config tunes one engine instance. Zero fields fall back to defaults.
type Config struct {
	MaxConcurrent   int
	MaxQueue        int
	CacheMaxSize    int
	DefaultCacheTTL time.Duration
	WarmIdleTimeout time.Duration
	Retry           RetryPolicy
	Clock           Clock
}

// Engine drives executions for every flavor through one shared discipline:
// admit (or queue, or reject), check the cache, invoke the backend under a
// cancellation token with retries, record the outcome, and feed the
// lifecycle. One Engine instance owns its admission counters and cache;
// instances do not coordinate.
type Engine struct {
	admission *Admission
	cache     *cache.Cache
	registry  *backend.Registry
	retry     RetryPolicy
	sched     *Scheduler
	lifecycle *Lifecycle
	store     store.Store
	logger    *slog.Logger
	broker    *EventBroker
	clock     Clock

	defaultCacheTTL time.Duration

	mu     sync.Mutex
	active map[string]*activeExecution
	loaded map[string]struct{}
}

// activeExecution is the engine-private record of a slot-holding execution.
// Owned exclusively by the execution that created it.
type activeExecution struct {
	id         string
	functionID string
	token      *Token
	start      time.Time
}

// DrainSummary reports the outcome of a graceful drain. Drained is true only
// when no force-cancels were needed.
type DrainSummary struct {
	Drained                 bool `json:"drained"`
	ActiveExecutionsAborted int  `json:"active_executions_aborted"`
	QueuedExecutionsDropped int  `json:"queued_executions_dropped"`
}

// State is a point-in-time snapshot of an engine instance.
type State struct {
	State            string     `json:"state"`
	IsWarm           bool       `json:"is_warm"`
	LastExecution    *time.Time `json:"last_execution,omitempty"`
	ActiveExecutions int        `json:"active_executions"`
	QueuedExecutions int        `json:"queued_executions"`
	LoadedFunctions  []string   `json:"loaded_functions"`
}

// NewEngine creates an engine. The store is optional (nil disables
// persistence); its failures never fail an execution.
func NewEngine(cfg Config, registry *backend.Registry, s store.Store, logger *slog.Logger) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = NewRetryPolicy()
	}

	e := &Engine{
		admission:       NewAdmission(cfg.MaxConcurrent, cfg.MaxQueue),
		cache:           cache.New(cfg.CacheMaxSize),
		registry:        registry,
		retry:           cfg.Retry,
		store:           s,
		logger:          logger,
		broker:          NewEventBroker(),
		clock:           cfg.Clock,
		defaultCacheTTL: cfg.DefaultCacheTTL,
		active:          make(map[string]*activeExecution),
		loaded:          make(map[string]struct{}),
	}
	e.sched = NewScheduler(cfg.Clock)
	e.lifecycle = NewLifecycle(cfg.WarmIdleTimeout, e.sched, cfg.Clock, e.admission.Active, e.clearLoaded)
	e.scheduleSweep()
	return e
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker { return e.broker }

// Execute runs one request to completion and returns its structured result.
// Failures of any kind (capacity, timeout, backend, validation) are reported
// inside the result; the returned error is non-nil only for malformed
// requests, which fail fast before admission.
func (e *Engine) Execute(ctx context.Context, req *model.Request) (*model.Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	b, err := e.registry.Resolve(req.Flavor)
	if err != nil {
		return nil, err
	}

	// The engine operates on a copy: requests are immutable once submitted.
	r := *req
	execID := model.NewID()

	decision, ticket := e.admission.TryAdmit()
	switch decision {
	case DecisionRejected:
		if e.lifecycle.State() == StateDraining {
			return e.admissionFailure(execID, &r, &model.ShutdownError{}), nil
		}
		admissionRejectionsTotal.Inc()
		return e.admissionFailure(execID, &r, e.admission.CapacityError()), nil

	case DecisionQueued:
		e.broker.Publish(execID, "queued")
		queueDepth.Set(float64(e.admission.QueueDepth()))
		select {
		case err := <-ticket.Ready():
			queueDepth.Set(float64(e.admission.QueueDepth()))
			if err != nil {
				return e.admissionFailure(execID, &r, err), nil
			}
		case <-ctx.Done():
			if e.admission.Withdraw(ticket) {
				queueDepth.Set(float64(e.admission.QueueDepth()))
				return e.admissionFailure(execID, &r, &model.AbortedError{Reason: "cancelled while queued"}), nil
			}
			// Promotion raced the withdrawal; consume the grant and give the
			// slot back before reporting the abort.
			if err := <-ticket.Ready(); err == nil {
				e.admission.Release()
			}
			return e.admissionFailure(execID, &r, &model.AbortedError{Reason: "cancelled while queued"}), nil
		}
	}

	// Slot held from here on.
	return e.run(ctx, &r, execID, b), nil
}

// run executes one admitted request: cache check, backend invocation under
// the token with retries, then bookkeeping. Releases the slot on return.
func (e *Engine) run(ctx context.Context, req *model.Request, execID string, b backend.Backend) *model.Result {
	defer func() {
		e.admission.Release()
		activeExecutions.Set(float64(e.admission.Active()))
		e.lifecycle.OnExecutionEnd()
	}()
	defer e.broker.Close(execID)

	start := e.clock.Now()
	e.lifecycle.OnExecutionStart()
	e.markLoaded(req.FunctionID)
	activeExecutions.Set(float64(e.admission.Active()))
	e.broker.Publish(execID, "started")
	e.persistStart(execID, req, start)

	key := cache.Key(req.Payload, req.Flavor, req.Profile)
	if req.CacheEnabled {
		if val, ok := e.cache.Get(key); ok {
			cacheHitsTotal.Inc()
			e.broker.Publish(execID, "completed")
			res := e.finish(execID, req, start, val, nil, 0, true)
			return res
		}
	}

	token := NewToken(ctx, EffectiveTimeout(req, b.Capabilities().DefaultTimeout))
	defer token.Release()
	e.registerActive(execID, req, token, start)
	defer e.unregisterActive(execID)

	attempts := e.retry.Attempts(req)
	var output []byte
	var lastErr error
	retries := 0

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			retries++
			retriesTotal.Inc()
			e.broker.Publish(execID, fmt.Sprintf("retrying attempt=%d", attempt+1))
		}

		resp, err := e.invoke(token, b, req)
		if err == nil {
			output = resp.Output
			lastErr = nil
			break
		}
		lastErr = err

		cls := e.retry.Classify(err)
		if !cls.Retryable || attempt == attempts-1 {
			break
		}
		// Retries run against the same overall deadline; once the token has
		// fired there is no time left for another attempt.
		if token.Err() != nil {
			break
		}

		if delay := e.retry.Delay(attempt, cls); delay > 0 {
			select {
			case <-time.After(delay):
			case <-token.Context().Done():
				lastErr = token.Err()
			}
			if token.Err() != nil {
				break
			}
		}
	}

	if lastErr == nil {
		if req.CacheEnabled {
			e.cache.Put(key, output, e.cacheTTL(req))
		}
		e.broker.Publish(execID, "completed")
	} else {
		e.broker.Publish(execID, "failed: "+lastErr.Error())
	}
	return e.finish(execID, req, start, output, lastErr, retries, false)
}

// invoke races one backend call against the token. The engine stops waiting
// as soon as the token fires; the backend goroutine unwinds on its own.
func (e *Engine) invoke(token *Token, b backend.Backend, req *model.Request) (*backend.Response, error) {
	if err := token.Err(); err != nil {
		return nil, err
	}

	type outcome struct {
		resp *backend.Response
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		resp, err := b.Execute(token.Context(), req)
		ch <- outcome{resp, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			// A backend surfacing the raw context error gets translated to
			// the token's typed cause.
			if tokenErr := token.Err(); tokenErr != nil &&
				(errors.Is(o.err, context.Canceled) || errors.Is(o.err, context.DeadlineExceeded)) {
				return nil, tokenErr
			}
			return nil, o.err
		}
		return o.resp, nil
	case <-token.Context().Done():
		return nil, token.Err()
	}
}

// finish assembles the result, records metrics, and persists the completion.
func (e *Engine) finish(execID string, req *model.Request, start time.Time, output []byte, err error, retries int, cacheHit bool) *model.Result {
	end := e.clock.Now()
	metrics := model.Metrics{
		DurationMS: end.Sub(start).Milliseconds(),
		RetryCount: retries,
		CacheHit:   cacheHit,
		StartTime:  start,
		EndTime:    end,
	}

	res := &model.Result{
		ExecutionID: execID,
		Status:      model.StatusCompleted,
		Output:      output,
		Metrics:     metrics,
	}
	if err != nil {
		res.Status = model.StatusFailed
		res.Output = nil
		var te *model.TimeoutError
		if errors.As(err, &te) {
			res.Status = model.StatusTimeout
			res.Metrics.TimedOut = true
		}
		res.Error = &model.ErrInfo{Name: model.ErrName(err), Message: err.Error()}
	}

	executionsTotal.WithLabelValues(req.Flavor, res.Status).Inc()
	executionDuration.WithLabelValues(req.Flavor).Observe(end.Sub(start).Seconds())
	e.persistEnd(execID, req, res)
	return res
}

// admissionFailure builds a failure result for a request that never held a
// slot. Metrics still record it.
func (e *Engine) admissionFailure(execID string, req *model.Request, err error) *model.Result {
	now := e.clock.Now()
	res := &model.Result{
		ExecutionID: execID,
		Status:      model.StatusFailed,
		Error:       &model.ErrInfo{Name: model.ErrName(err), Message: err.Error()},
		Metrics:     model.Metrics{StartTime: now, EndTime: now},
	}
	executionsTotal.WithLabelValues(req.Flavor, res.Status).Inc()
	return res
}

// Abort cancels an active execution by ID. Returns false when the execution
// is not active (unknown, queued, or already finished).
func (e *Engine) Abort(executionID, reason string) bool {
	e.mu.Lock()
	ae, ok := e.active[executionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	ae.token.Abort(reason)
	return true
}

// State returns a snapshot of the engine instance.
func (e *Engine) State() State {
	s := State{
		State:            e.lifecycle.State(),
		ActiveExecutions: e.admission.Active(),
		QueuedExecutions: e.admission.QueueDepth(),
	}
	s.IsWarm = s.State == StateWarm
	if last := e.lifecycle.LastExecution(); !last.IsZero() {
		s.LastExecution = &last
	}

	e.mu.Lock()
	s.LoadedFunctions = make([]string, 0, len(e.loaded))
	for id := range e.loaded {
		s.LoadedFunctions = append(s.LoadedFunctions, id)
	}
	e.mu.Unlock()
	return s
}

// CacheStats returns the result cache counters.
func (e *Engine) CacheStats() cache.Stats { return e.cache.Stats() }

// InvalidateCache removes one cache entry by content key. There is no
// per-function invalidation: keys carry no function identity, so the only
// bulk operation is PurgeCache.
func (e *Engine) InvalidateCache(key string) { e.cache.Invalidate(key) }

// PurgeCache removes every cache entry, preserving counters.
func (e *Engine) PurgeCache() { e.cache.Purge() }

// Drain performs a graceful shutdown of this instance: queued executions are
// failed immediately, active ones get up to timeout to finish, stragglers are
// force-cancelled, and warm state is cleared. Draining is terminal; a second
// call reports the instance as already drained.
func (e *Engine) Drain(timeout time.Duration) DrainSummary {
	if !e.lifecycle.StartDraining() {
		return DrainSummary{Drained: true}
	}
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}

	e.admission.SetDraining()
	dropped := e.admission.FailQueued(&model.ShutdownError{})
	queueDepth.Set(0)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) && e.admission.Active() > 0 {
		time.Sleep(drainPollInterval)
	}

	aborted := 0
	if e.admission.Active() > 0 {
		e.mu.Lock()
		for _, ae := range e.active {
			ae.token.Abort("engine draining")
			aborted++
		}
		e.mu.Unlock()

		// Cancelled executions unwind quickly; give them a bounded moment to
		// release their slots.
		grace := time.Now().Add(time.Second)
		for time.Now().Before(grace) && e.admission.Active() > 0 {
			time.Sleep(drainPollInterval)
		}
	}

	e.sched.Stop()
	e.clearLoaded()
	e.cache.Purge()

	if e.logger != nil {
		e.logger.Info("engine drained",
			"drained", aborted == 0,
			"active_aborted", aborted,
			"queued_dropped", dropped,
		)
	}
	return DrainSummary{
		Drained:                 aborted == 0,
		ActiveExecutionsAborted: aborted,
		QueuedExecutionsDropped: dropped,
	}
}

func (e *Engine) registerActive(execID string, req *model.Request, token *Token, start time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[execID] = &activeExecution{
		id:         execID,
		functionID: req.FunctionID,
		token:      token,
		start:      start,
	}
}

func (e *Engine) unregisterActive(execID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, execID)
}

func (e *Engine) markLoaded(functionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded[functionID] = struct{}{}
}

func (e *Engine) clearLoaded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = make(map[string]struct{})
}

func (e *Engine) cacheTTL(req *model.Request) time.Duration {
	if req.CacheTTLS > 0 {
		return time.Duration(req.CacheTTLS) * time.Second
	}
	return e.defaultCacheTTL
}

// scheduleSweep arms the recurring TTL sweep on the shared scheduler.
func (e *Engine) scheduleSweep() {
	e.sched.After(cacheSweepInterval, func() {
		if removed := e.cache.Sweep(); removed > 0 && e.logger != nil {
			e.logger.Debug("cache sweep", "removed", removed)
		}
		e.scheduleSweep()
	})
}

// persistStart records the execution's start. Persistence is fire-and-forget:
// failures are logged and swallowed.
func (e *Engine) persistStart(execID string, req *model.Request, start time.Time) {
	if e.store == nil {
		return
	}
	exec := &model.Execution{
		ID:         execID,
		FunctionID: req.FunctionID,
		Version:    req.Version,
		Flavor:     req.Flavor,
		Status:     model.StatusRunning,
		CreatedAt:  start,
		StartedAt:  &start,
	}
	if err := e.store.CreateExecution(context.Background(), exec); err != nil && e.logger != nil {
		e.logger.Error("persist execution start", "execution_id", execID, "error", err)
	}
}

// persistEnd records the execution's completion, fire-and-forget.
func (e *Engine) persistEnd(execID string, req *model.Request, res *model.Result) {
	if e.store == nil {
		return
	}
	finished := res.Metrics.EndTime
	duration := res.Metrics.DurationMS
	exec := &model.Execution{
		ID:         execID,
		FunctionID: req.FunctionID,
		Version:    req.Version,
		Flavor:     req.Flavor,
		Status:     res.Status,
		Output:     res.Output,
		RetryCount: res.Metrics.RetryCount,
		CacheHit:   res.Metrics.CacheHit,
		TimedOut:   res.Metrics.TimedOut,
		DurationMS: &duration,
		StartedAt:  &res.Metrics.StartTime,
		FinishedAt: &finished,
	}
	if res.Error != nil {
		exec.Error = res.Error.Message
	}
	if err := e.store.UpdateExecution(context.Background(), exec); err != nil && e.logger != nil {
		e.logger.Error("persist execution end", "execution_id", execID, "error", err)
	}
}

// validateRequest rejects malformed requests before admission.
func validateRequest(req *model.Request) error {
	if req == nil {
		return fmt.Errorf("nil request")
	}
	if req.FunctionID == "" {
		return fmt.Errorf("function_id is required")
	}
	if req.Flavor == "" {
		return fmt.Errorf("flavor is required")
	}
	return nil
}
