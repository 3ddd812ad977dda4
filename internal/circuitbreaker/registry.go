package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"
)

// Registry owns one CircuitBreaker per service name. The map lock is only
// held to find or create a breaker; state changes take the breaker's own lock.
type Registry struct {
	mutex         sync.RWMutex
	breakers      map[string]*CircuitBreaker
	threshold     int
	timeout       time.Duration
	now           func() time.Time
	logger        *slog.Logger
	onStateChange func(Transition)
}

type Option func(*Registry)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithStateChangeHook is called after every status transition.
func WithStateChangeHook(fn func(Transition)) Option {
	return func(r *Registry) {
		r.onStateChange = fn
	}
}

func NewRegistry(threshold int, timeout time.Duration, opts ...Option) *Registry {
	r := &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) GetBreaker(name string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	cb = NewCircuitBreaker(name, r.threshold, r.timeout, r.now)
	r.breakers[name] = cb
	return cb
}

// IsOpen may move an expired OPEN breaker to HALF-OPEN as a side effect.
func (r *Registry) IsOpen(name string) bool {
	open, t := r.GetBreaker(name).IsOpen()
	r.notify(t)
	return open
}

func (r *Registry) IsTripped(name string) bool {
	return r.GetBreaker(name).IsTripped()
}

func (r *Registry) RecordSuccess(name string) {
	r.notify(r.GetBreaker(name).RecordSuccess())
}

func (r *Registry) RecordFailure(name string) {
	r.notify(r.GetBreaker(name).RecordFailure())
}

func (r *Registry) Reset(name string) {
	r.notify(r.GetBreaker(name).Reset())
}

func (r *Registry) GetState(name string) State {
	return r.GetBreaker(name).State()
}

func (r *Registry) Snapshot() map[string]State {
	r.mutex.RLock()
	breakers := make(map[string]*CircuitBreaker, len(r.breakers))
	for name, cb := range r.breakers {
		breakers[name] = cb
	}
	r.mutex.RUnlock()

	stats := make(map[string]State, len(breakers))
	for name, cb := range breakers {
		stats[name] = cb.State()
	}
	return stats
}

func (r *Registry) notify(t *Transition) {
	if t == nil {
		return
	}

	r.logger.Info("circuit breaker state changed",
		slog.String("service", t.Name),
		slog.String("from", t.From.String()),
		slog.String("to", t.To.String()))

	if r.onStateChange != nil {
		r.onStateChange(*t)
	}
}
