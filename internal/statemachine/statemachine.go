// Package statemachine implements the authoritative pipeline-level state
// machine. No other component tracks pipeline state independently —
// they query this machine.
package statemachine

import (
	"fmt"
	"sync"
	"time"
)

// State is one of the pipeline's lifecycle states.
type State string

const (
	Idle       State = "idle"
	Running    State = "running"
	Paused     State = "paused"
	Recovering State = "recovering"
	Completed  State = "completed"
	Failed     State = "failed"
	Cancelled  State = "cancelled"
)

// IsTerminal reports whether s is one of the terminal states.
func (s State) IsTerminal() bool {
	switch s {
	case Completed, Failed, Cancelled:
		return true
	default:
		return false
	}
}

// legal enumerates the allowed state transition table.
var legal = map[State]map[State]bool{
	Idle:       {Running: true},
	Running:    {Paused: true, Recovering: true, Completed: true, Failed: true, Cancelled: true},
	Paused:     {Running: true, Cancelled: true},
	Recovering: {Running: true, Cancelled: true},
}

// Transition records one state change in the history buffer.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// Observer is notified of every successful transition.
type Observer interface {
	OnTransition(Transition)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Transition)

// OnTransition calls f(t).
func (f ObserverFunc) OnTransition(t Transition) { f(t) }

// InvalidTransitionError is raised (as an error, never a panic) when an
// illegal transition is attempted; the state is left unchanged.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("statemachine: illegal transition %s -> %s", e.From, e.To)
}

// Machine is a single run's authoritative state machine.
type Machine struct {
	mu         sync.Mutex
	state      State
	history    []Transition
	maxHistory int
	observers  []Observer
}

// New creates a Machine starting in Idle. maxHistory bounds the
// append-only history buffer (oldest entries are discarded); 0 means a
// sensible default of 256.
func New(maxHistory int) *Machine {
	if maxHistory <= 0 {
		maxHistory = 256
	}
	return &Machine{state: Idle, maxHistory: maxHistory}
}

// Subscribe registers an observer notified on every successful transition.
func (m *Machine) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of the transition history, oldest first.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Transition attempts to move the machine from its current state to to.
// An illegal transition returns *InvalidTransitionError and leaves the
// state unchanged — it is a programming error, not a normal
// control-flow outcome.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	from := m.state
	allowed := legal[from][to]
	if !allowed {
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	m.state = to
	t := Transition{From: from, To: to, Reason: reason, Timestamp: time.Now()}
	m.history = append(m.history, t)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, o := range observers {
		o.OnTransition(t)
	}
	return nil
}

// MustTransition is like Transition but panics on an illegal transition.
// Reserved for internal call sites that have already validated the
// transition is legal.
func (m *Machine) MustTransition(to State, reason string) {
	if err := m.Transition(to, reason); err != nil {
		panic(err)
	}
}
