// Package circuit implements the CircuitBreaker contract: one breaker
// per named dependency, shared process-wide so multiple stages fail
// fast together once a dependency is unhealthy.
package circuit

import (
	"sync"
	"time"
)

// State is a circuit's lifecycle position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Params configures one breaker's thresholds.
type Params struct {
	FailureThreshold   int           // consecutive failures to open
	Cooldown           time.Duration // open -> half-open duration
	HalfOpenProbeCount int           // consecutive successes to close from half-open
}

// DefaultParams mirrors a conservative dependency breaker.
func DefaultParams() Params {
	return Params{FailureThreshold: 5, Cooldown: 30 * time.Second, HalfOpenProbeCount: 2}
}

// Transition records one breaker state change, used for circuit_* events.
type Transition struct {
	Dependency string
	From       State
	To         State
	At         time.Time
}

// Observer is notified of breaker transitions.
type Observer interface {
	OnTransition(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) OnTransition(t Transition) { f(t) }

// Breaker is a single named dependency's circuit breaker.
type Breaker struct {
	mu sync.Mutex

	name   string
	params Params

	state              State
	consecutiveFails   int
	consecutiveSuccess int
	openedAt           time.Time

	observers []Observer
}

// New creates a closed breaker for name with the given params.
func New(name string, params Params) *Breaker {
	return &Breaker{name: name, params: params, state: Closed}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Subscribe registers an observer for this breaker's transitions.
func (b *Breaker) Subscribe(o Observer) {
	b.mu.Lock()
	b.observers = append(b.observers, o)
	b.mu.Unlock()
}

// Allow reports whether a call may proceed right now. A half-open
// breaker admits the probe; an open breaker past its cooldown flips to
// half-open and admits exactly that transitioning call.
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	allowed, tr := b.allowLocked(now)
	b.mu.Unlock()
	b.notify(tr)
	return allowed
}

func (b *Breaker) allowLocked(now time.Time) (bool, *Transition) {
	switch b.state {
	case Closed:
		return true, nil
	case Open:
		if now.Sub(b.openedAt) >= b.params.Cooldown {
			tr := b.transitionLocked(HalfOpen, now)
			return true, tr
		}
		return false, nil
	case HalfOpen:
		return true, nil
	default:
		return false, nil
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RecordSuccess reports a successful call. In half-open, enough
// consecutive successes close the breaker; in closed, it resets the
// failure counter.
func (b *Breaker) RecordSuccess(now time.Time) {
	b.mu.Lock()
	b.consecutiveFails = 0
	var tr *Transition
	if b.state == HalfOpen {
		b.consecutiveSuccess++
		if b.consecutiveSuccess >= b.params.HalfOpenProbeCount {
			tr = b.transitionLocked(Closed, now)
		}
	}
	b.mu.Unlock()
	b.notify(tr)
}

// RecordFailure reports a failed call. In closed, enough consecutive
// failures open the breaker; in half-open, any failure reopens it.
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	var tr *Transition
	switch b.state {
	case Closed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.params.FailureThreshold {
			tr = b.transitionLocked(Open, now)
		}
	case HalfOpen:
		tr = b.transitionLocked(Open, now)
	}
	b.mu.Unlock()
	b.notify(tr)
}

// transitionLocked mutates state and returns the transition to notify
// observers with once the caller releases b.mu. Caller must hold b.mu.
func (b *Breaker) transitionLocked(to State, now time.Time) *Transition {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.consecutiveSuccess = 0
	if to == Open {
		b.openedAt = now
		b.consecutiveFails = 0
	}
	return &Transition{Dependency: b.name, From: from, To: to, At: now}
}

func (b *Breaker) notify(tr *Transition) {
	if tr == nil {
		return
	}
	b.mu.Lock()
	observers := append([]Observer(nil), b.observers...)
	b.mu.Unlock()
	for _, o := range observers {
		o.OnTransition(*tr)
	}
}
