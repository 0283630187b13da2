package statemachine

import "testing"

func TestMachine_LegalTransitionSequence(t *testing.T) {
	// Given a fresh machine
	m := New(0)

	// When the documented idle -> running -> completed path is followed
	if err := m.Transition(Running, "start"); err != nil {
		t.Fatalf("idle->running: %v", err)
	}
	if err := m.Transition(Completed, "done"); err != nil {
		t.Fatalf("running->completed: %v", err)
	}

	// Then the final state is terminal
	if !m.State().IsTerminal() {
		t.Errorf("expected terminal state, got %s", m.State())
	}
}

func TestMachine_IllegalTransitionRaisesAndLeavesStateUnchanged(t *testing.T) {
	// Given a machine in idle
	m := New(0)

	// When an illegal transition (idle -> completed) is attempted
	err := m.Transition(Completed, "skip steps")

	// Then it returns an error and the state is unchanged (invariant 4)
	if err == nil {
		t.Fatal("expected error for illegal transition")
	}
	if m.State() != Idle {
		t.Errorf("state changed after illegal transition: %s", m.State())
	}
}

func TestMachine_PauseResumeCycle(t *testing.T) {
	// Given a running machine
	m := New(0)
	_ = m.Transition(Running, "start")

	// When it pauses and resumes
	if err := m.Transition(Paused, "user paused"); err != nil {
		t.Fatalf("running->paused: %v", err)
	}
	if err := m.Transition(Running, "user resumed"); err != nil {
		t.Fatalf("paused->running: %v", err)
	}

	if m.State() != Running {
		t.Errorf("state = %s, want running", m.State())
	}
}

func TestMachine_CancelFromAnyNonTerminalState(t *testing.T) {
	for _, from := range []State{Running, Paused, Recovering} {
		// Given a machine driven to the given non-terminal state
		m := New(0)
		_ = m.Transition(Running, "start")
		if from == Paused {
			_ = m.Transition(Paused, "pause")
		}
		if from == Recovering {
			_ = m.Transition(Recovering, "recover")
		}

		// When cancellation is requested
		err := m.Transition(Cancelled, "cancel")

		// Then it succeeds and reaches the terminal cancelled state
		if err != nil {
			t.Errorf("from %s: cancel failed: %v", from, err)
		}
		if m.State() != Cancelled {
			t.Errorf("from %s: state = %s, want cancelled", from, m.State())
		}
	}
}

func TestMachine_ObserverNotifiedInTransitionOrder(t *testing.T) {
	// Given a machine with a subscribed observer
	m := New(0)
	var seen []State
	m.Subscribe(ObserverFunc(func(tr Transition) { seen = append(seen, tr.To) }))

	// When a sequence of transitions occurs
	_ = m.Transition(Running, "start")
	_ = m.Transition(Paused, "pause")
	_ = m.Transition(Running, "resume")
	_ = m.Transition(Completed, "done")

	// Then notification order matches transition order
	want := []State{Running, Paused, Running, Completed}
	if len(seen) != len(want) {
		t.Fatalf("got %v transitions, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestMachine_HistoryBounded(t *testing.T) {
	// Given a machine with a small history cap
	m := New(2)
	_ = m.Transition(Running, "start")
	_ = m.Transition(Paused, "pause")
	_ = m.Transition(Running, "resume")
	_ = m.Transition(Paused, "pause2")

	// When History is read
	h := m.History()

	// Then only the most recent entries are kept
	if len(h) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(h))
	}
}
