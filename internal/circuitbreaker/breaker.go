package circuitbreaker

import (
	"sync"
	"time"
)

type Status int

const (
	StatusClosed   Status = iota // Normal operation
	StatusOpen                   // Blocking calls
	StatusHalfOpen               // Testing with one probe
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "CLOSED"
	case StatusOpen:
		return "OPEN"
	case StatusHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is a read-only snapshot of one breaker.
// Failures only carries meaning while Status is CLOSED.
type State struct {
	Failures      int        `json:"failures"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	Status        Status     `json:"status"`
}

// Transition describes a status change, reported after the breaker's
// lock has been released.
type Transition struct {
	Name string
	From Status
	To   Status
}

type CircuitBreaker struct {
	mutex            sync.Mutex
	name             string
	status           Status
	failures         int
	lastFailure      time.Time
	probeStarted     time.Time
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration, now func() time.Time) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		name:             name,
		status:           StatusClosed,
		failureThreshold: threshold,
		resetTimeout:     timeout,
		now:              now,
	}
}

// IsOpen reports whether calls must be blocked. It is the only place where
// elapsed time is checked: an OPEN breaker whose reset timeout has passed
// moves to HALF-OPEN and admits the caller as the probe. Exactly one caller
// wins that transition; others keep seeing an open breaker until the probe
// reports, or until the probe itself outlives the reset timeout.
func (cb *CircuitBreaker) IsOpen() (bool, *Transition) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.status {
	case StatusClosed:
		return false, nil
	case StatusOpen:
		now := cb.now()
		if now.Sub(cb.lastFailure) > cb.resetTimeout {
			t := cb.transitionTo(StatusHalfOpen)
			cb.probeStarted = now
			return false, t
		}
		return true, nil
	case StatusHalfOpen:
		now := cb.now()
		if now.Sub(cb.probeStarted) > cb.resetTimeout {
			// the previous probe never reported back
			cb.probeStarted = now
			return false, nil
		}
		return true, nil
	default:
		return false, nil
	}
}

// IsTripped reports whether the breaker is OPEN without any side effect.
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.status == StatusOpen
}

func (cb *CircuitBreaker) RecordFailure() *Transition {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.status {
	case StatusClosed:
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.failures >= cb.failureThreshold {
			return cb.transitionTo(StatusOpen)
		}
	case StatusHalfOpen:
		cb.lastFailure = cb.now()
		return cb.transitionTo(StatusOpen)
	}
	// OPEN: stragglers from calls admitted before the trip do not move the
	// reset deadline.
	return nil
}

// RecordSuccess closes a HALF-OPEN breaker. Isolated successes while CLOSED
// do not decay the failure count.
func (cb *CircuitBreaker) RecordSuccess() *Transition {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.status == StatusHalfOpen {
		t := cb.transitionTo(StatusClosed)
		cb.lastFailure = time.Time{}
		return t
	}
	return nil
}

// Reset forces the breaker to a fresh CLOSED state.
func (cb *CircuitBreaker) Reset() *Transition {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	t := cb.transitionTo(StatusClosed)
	cb.failures = 0
	cb.lastFailure = time.Time{}
	return t
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	s := State{Failures: cb.failures, Status: cb.status}
	if !cb.lastFailure.IsZero() {
		at := cb.lastFailure
		s.LastFailureAt = &at
	}
	return s
}

// transitionTo must be called with the mutex held.
func (cb *CircuitBreaker) transitionTo(to Status) *Transition {
	from := cb.status
	cb.status = to

	if to == StatusClosed || to == StatusHalfOpen {
		cb.failures = 0
	}
	if from == to {
		return nil
	}
	return &Transition{Name: cb.name, From: from, To: to}
}
