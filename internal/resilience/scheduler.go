package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-enricher/internal/faults"
	"github.com/sells-group/catalog-enricher/internal/model"
)

// Operation is the underlying transport call the scheduler wraps. The
// core treats it as opaque: it returns a payload on success and an error
// (optionally a TransientError or tagged Fault) on failure.
type Operation func(ctx context.Context) (any, error)

// ErrSchedulerStopped is returned for calls submitted after Stop.
var ErrSchedulerStopped = eris.New("scheduler stopped")

// request is one queued call.
type request struct {
	ctx      context.Context
	reqCtx   model.RequestContext
	op       Operation
	done     chan *model.CallOutcome
	queuedAt time.Time
	started  atomic.Bool
}

// Scheduler serializes calls to one provider, applying the
// rate → budget → circuit → timeout → retry policy around each call.
// Execution is intentionally serialized: one call completes, including
// its internal retries, before the next is dequeued, so the provider is
// never called faster than one in flight per scheduler instance.
type Scheduler struct {
	cfg     ServiceConfig
	limiter *RateLimiter
	budget  *BudgetManager
	breaker *CircuitBreaker

	mu     sync.Mutex
	queues [3][]*request // indexed by model.Priority
	wake   chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}

	// onLatency receives the observed latency of every executed call,
	// feeding the passive side of the health monitor.
	onLatency func(d time.Duration, err error)

	nowFunc func() time.Time
	// sleep allows test injection of admission/backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a scheduler for one provider endpoint. budget may
// be nil for unmetered providers.
func NewScheduler(cfg ServiceConfig, limiter *RateLimiter, budget *BudgetManager, breaker *CircuitBreaker) *Scheduler {
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		limiter: limiter,
		budget:  budget,
		breaker: breaker,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		nowFunc: time.Now,
		sleep:   sleepCtx,
	}
}

// OnLatency registers the latency observer. Must be called before Start.
func (s *Scheduler) OnLatency(fn func(d time.Duration, err error)) {
	s.onLatency = fn
}

// Start launches the worker loop. It returns immediately; the worker
// runs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop rejects all pending and future calls.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Schedule enqueues a call and blocks until it resolves or ctx is
// cancelled. Cancelling before the call starts abandons it; once the
// call has started it runs to its configured timeout.
func (s *Scheduler) Schedule(ctx context.Context, reqCtx model.RequestContext, op Operation) (*model.CallOutcome, error) {
	select {
	case <-s.stopped:
		return nil, ErrSchedulerStopped
	default:
	}

	req := &request{
		ctx:      ctx,
		reqCtx:   reqCtx,
		op:       op,
		done:     make(chan *model.CallOutcome, 1),
		queuedAt: s.nowFunc(),
	}

	s.mu.Lock()
	pri := reqCtx.Priority
	if pri < model.PriorityLow || pri > model.PriorityHigh {
		pri = model.PriorityMedium
	}
	s.queues[pri] = append(s.queues[pri], req)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	select {
	case out := <-req.done:
		return out, nil
	case <-ctx.Done():
		if req.started.Load() {
			// Too late to abandon; the call runs to its timeout.
			out := <-req.done
			return out, nil
		}
		return nil, eris.Wrap(ctx.Err(), "call abandoned before start")
	case <-s.stopped:
		return nil, ErrSchedulerStopped
	}
}

// QueueLength returns the number of pending calls across priorities.
func (s *Scheduler) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[model.PriorityHigh]) + len(s.queues[model.PriorityMedium]) + len(s.queues[model.PriorityLow])
}

// Config returns the immutable endpoint registration.
func (s *Scheduler) Config() ServiceConfig { return s.cfg }

// CircuitState reports the breaker state for observability.
func (s *Scheduler) CircuitState() CircuitState { return s.breaker.State() }

// RateUsage reports window occupancy for observability.
func (s *Scheduler) RateUsage() (used, max int) { return s.limiter.Usage() }

// Credits reports the remaining budget, or ok=false for unmetered
// providers.
func (s *Scheduler) Credits() (balance float64, low bool, ok bool) {
	if s.budget == nil {
		return 0, false, false
	}
	return s.budget.Balance(), s.budget.LowBalance(), true
}

func (s *Scheduler) run(ctx context.Context) {
	log := zap.L().With(zap.String("provider", s.cfg.Name))
	log.Debug("scheduler worker started")

	for {
		req := s.dequeue(ctx)
		if req == nil {
			log.Debug("scheduler worker stopped")
			return
		}

		// Abandoned while queued, drop without executing.
		if req.ctx.Err() != nil {
			continue
		}

		req.started.Store(true)
		out := s.execute(ctx, req)
		req.done <- out
	}
}

// dequeue returns the next request, high priority first, FIFO within a
// priority. Blocks until work arrives or ctx is cancelled.
func (s *Scheduler) dequeue(ctx context.Context) *request {
	for {
		s.mu.Lock()
		for pri := model.PriorityHigh; pri >= model.PriorityLow; pri-- {
			if q := s.queues[pri]; len(q) > 0 {
				req := q[0]
				s.queues[pri] = q[1:]
				s.mu.Unlock()
				return req
			}
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-s.stopped:
			return nil
		case <-s.wake:
		}
	}
}

// execute runs one call with admission control, the circuit breaker, an
// enforced timeout, and bounded retries with exponential backoff plus
// jitter.
func (s *Scheduler) execute(ctx context.Context, req *request) *model.CallOutcome {
	maxAttempts := s.cfg.MaxRetries + 1
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := s.waitAdmission(ctx, req.reqCtx.Cost); err != nil {
			return s.rejectionOutcome(req, err, attempts)
		}

		attempts++
		// A started call runs to its configured timeout even if the
		// caller goes away.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(req.ctx), s.cfg.Timeout)
		start := s.nowFunc()
		payload, err := ExecuteVal(callCtx, s.breaker, func(c context.Context) (any, error) {
			return req.op(c)
		})
		cancel()
		latency := s.nowFunc().Sub(start)

		if !errors.Is(err, ErrCircuitOpen) && s.onLatency != nil {
			s.onLatency(latency, err)
		}

		if err == nil {
			if s.budget != nil && req.reqCtx.Cost > 0 {
				s.budget.Debit(req.reqCtx.Cost)
			}
			out := &model.CallOutcome{
				Success:      true,
				Payload:      payload,
				Latency:      latency,
				CostConsumed: req.reqCtx.Cost,
				Attempts:     attempts,
			}
			if s.budget != nil {
				out.RemainingQuota = s.budget.Balance()
			}
			return out
		}

		if errors.Is(err, ErrCircuitOpen) {
			return s.rejectionOutcome(req, err, attempts)
		}

		lastErr = err
		if attempt < maxAttempts-1 && req.reqCtx.Retryable && IsTransient(err) {
			delay := s.backoff(attempt)
			zap.L().Warn("retrying provider call",
				zap.String("provider", s.cfg.Name),
				zap.String("operation", req.reqCtx.Operation),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			if s.sleep(ctx, delay) != nil {
				break
			}
			continue
		}
		break
	}

	return s.failureOutcome(req, lastErr, attempts)
}

// waitAdmission enforces rate and budget policy, waiting out rejections
// whose delay fits inside MaxAdmissionWait.
func (s *Scheduler) waitAdmission(ctx context.Context, cost float64) error {
	for {
		adm := s.limiter.Allow()
		if !adm.Allowed {
			if adm.RetryAfter > s.cfg.MaxAdmissionWait {
				return faults.Wrap(faults.ReasonRateLimited, eris.Errorf("rate limited for %s", adm.RetryAfter))
			}
			if err := s.sleep(ctx, adm.RetryAfter); err != nil {
				return err
			}
			continue
		}

		if s.budget != nil && cost > 0 {
			ok, retryAt := s.budget.Check(cost)
			if !ok {
				wait := retryAt.Sub(s.nowFunc())
				if wait > s.cfg.MaxAdmissionWait {
					return ErrBudgetExhausted
				}
				if err := s.sleep(ctx, wait); err != nil {
					return err
				}
				// Re-check the rate window after the budget wait.
				continue
			}
		}
		return nil
	}
}

// rejectionOutcome reports a circuit-open, rate-limit, or budget
// rejection as a distinct "try again later" outcome.
func (s *Scheduler) rejectionOutcome(req *request, err error, attempts int) *model.CallOutcome {
	reason := ReasonForError(err, 0)
	zap.L().Warn("provider call rejected",
		zap.String("provider", s.cfg.Name),
		zap.String("operation", req.reqCtx.Operation),
		zap.String("reason", string(reason)),
	)
	return &model.CallOutcome{
		Error:    err.Error(),
		Reason:   string(reason),
		Attempts: attempts,
	}
}

func (s *Scheduler) failureOutcome(req *request, err error, attempts int) *model.CallOutcome {
	status := 0
	var te *TransientError
	if errors.As(err, &te) {
		status = te.StatusCode
	}
	reason := ReasonForError(err, status)
	zap.L().Error("provider call failed",
		zap.String("provider", s.cfg.Name),
		zap.String("operation", req.reqCtx.Operation),
		zap.String("reason", string(reason)),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return &model.CallOutcome{
		Error:      err.Error(),
		Reason:     string(reason),
		StatusCode: status,
		Attempts:   attempts,
	}
}

// backoff computes the retry delay for the given attempt with jitter.
func (s *Scheduler) backoff(attempt int) time.Duration {
	delay := float64(s.cfg.InitialBackoff) * math.Pow(s.cfg.Multiplier, float64(attempt))
	if delay > float64(s.cfg.MaxBackoff) {
		delay = float64(s.cfg.MaxBackoff)
	}
	if s.cfg.JitterFraction > 0 {
		jitterRange := delay * s.cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Registry holds one scheduler per registered provider.
type Registry struct {
	mu         sync.RWMutex
	schedulers map[string]*Scheduler
}

// NewRegistry creates an empty scheduler registry.
func NewRegistry() *Registry {
	return &Registry{schedulers: make(map[string]*Scheduler)}
}

// Register builds a scheduler (with its own limiter, breaker, and
// optional budget) from the endpoint config and starts its worker.
func (r *Registry) Register(ctx context.Context, cfg ServiceConfig) *Scheduler {
	limiter := NewRateLimiter(cfg.RateLimit)
	breaker := NewCircuitBreaker(cfg.Circuit)
	var budget *BudgetManager
	if cfg.Budget != nil {
		budget = NewBudgetManager(*cfg.Budget)
	}
	sched := NewScheduler(cfg, limiter, budget, breaker)

	r.mu.Lock()
	r.schedulers[cfg.Name] = sched
	r.mu.Unlock()

	sched.Start(ctx)
	return sched
}

// Get returns the scheduler for the named provider, or nil.
func (r *Registry) Get(name string) *Scheduler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schedulers[name]
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schedulers))
	for name := range r.schedulers {
		names = append(names, name)
	}
	return names
}
