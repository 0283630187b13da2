package dashboard

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"

	"github.com/artemis-dev/artemis/internal/eventbus"
)

func TestNewModel_InitializesStagesPending(t *testing.T) {
	// Given / When: a model built from a plan's stage names
	m := NewModel([]string{"parse", "plan", "dev"})

	// Then: every stage starts pending
	if len(m.stages) != 3 {
		t.Fatalf("stages = %d, want 3", len(m.stages))
	}
	for _, s := range m.stages {
		if s.Status != "pending" {
			t.Errorf("stage %q status = %q, want pending", s.Name, s.Status)
		}
	}
}

func TestModel_AppliesStageLifecycleEvents(t *testing.T) {
	// Given: a model tracking one stage
	m := NewModel([]string{"dev"})

	// When: running the stage through started -> retrying -> completed
	updated, _ := m.Update(EventMsg{Event: eventbus.Event{Type: eventbus.StageStarted, Stage: "dev"}})
	m = updated.(Model)
	if m.stages[0].Status != "running" {
		t.Fatalf("after started, status = %q, want running", m.stages[0].Status)
	}

	updated, _ = m.Update(EventMsg{Event: eventbus.Event{Type: eventbus.StageRetrying, Stage: "dev", Payload: map[string]any{"attempt": 2}}})
	m = updated.(Model)
	if m.stages[0].Attempt != 2 {
		t.Fatalf("after retrying, attempt = %d, want 2", m.stages[0].Attempt)
	}

	updated, _ = m.Update(EventMsg{Event: eventbus.Event{Type: eventbus.StageCompleted, Stage: "dev"}})
	m = updated.(Model)

	// Then: the stage reflects its final status
	if m.stages[0].Status != "passed" {
		t.Errorf("status = %q, want passed", m.stages[0].Status)
	}
}

func TestModel_UnknownStageEventIgnored(t *testing.T) {
	// Given: a model tracking one stage
	m := NewModel([]string{"dev"})

	// When: an event references a stage not in the plan
	updated, _ := m.Update(EventMsg{Event: eventbus.Event{Type: eventbus.StageStarted, Stage: "ghost"}})
	m = updated.(Model)

	// Then: the tracked stage is untouched
	if m.stages[0].Status != "pending" {
		t.Errorf("status = %q, want pending (unaffected)", m.stages[0].Status)
	}
}

func TestModel_DoneMsgQuits(t *testing.T) {
	// Given: a running model
	tm := teatest.NewTestModel(t, NewModel([]string{"dev"}), teatest.WithInitialTermSize(80, 24))

	// When: the stage completes and the run signals done
	tm.Send(EventMsg{Event: eventbus.Event{Type: eventbus.StageStarted, Stage: "dev"}})
	tm.Send(EventMsg{Event: eventbus.Event{Type: eventbus.StageCompleted, Stage: "dev"}})
	tm.Send(DoneMsg{})

	// Then: the program terminates on its own
	tm.WaitFinished(t, teatest.WithFinalTimeout(2*time.Second))

	final := tm.FinalModel(t).(Model)
	if !final.done {
		t.Error("done = false, want true after DoneMsg")
	}
}

func TestModel_QuitKeyTerminatesProgram(t *testing.T) {
	// Given: a running model
	tm := teatest.NewTestModel(t, NewModel([]string{"dev"}), teatest.WithInitialTermSize(80, 24))

	// When: the user presses q
	tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	// Then: the program terminates
	tm.WaitFinished(t, teatest.WithFinalTimeout(2*time.Second))
}
