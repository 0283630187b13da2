// Package dashboard renders a live pipeline run using a Bubble Tea
// terminal UI subscribed directly to the substrate's EventBus, or falls
// back to a plain text stream when stdout is not a terminal.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/artemis-dev/artemis/internal/eventbus"
)

// StageState tracks the display state of a single plan stage.
type StageState struct {
	Name     string
	Status   string // "pending" | "running" | "passed" | "failed" | "skipped"
	Attempt  int
	Duration time.Duration
}

var (
	passedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	retryStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// Model is the Bubble Tea model for one pipeline run.
type Model struct {
	stages  []StageState
	spinner spinner.Model
	done    bool
	err     error
}

// NewModel creates a Model with one pending entry per stage name, in
// the order the plan will execute them.
func NewModel(stageNames []string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	stages := make([]StageState, len(stageNames))
	for i, name := range stageNames {
		stages[i] = StageState{Name: name, Status: "pending"}
	}
	return Model{stages: stages, spinner: s}
}

// EventMsg wraps an eventbus.Event for delivery into the Bubble Tea
// update loop.
type EventMsg struct{ Event eventbus.Event }

// DoneMsg signals the run finished, successfully or not.
type DoneMsg struct{ Err error }

// Init starts the spinner tick.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update applies an incoming message, per the Elm architecture.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case EventMsg:
		m.applyEvent(msg.Event)
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) applyEvent(e eventbus.Event) {
	idx := -1
	for i, s := range m.stages {
		if s.Name == e.Stage {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	switch e.Type {
	case eventbus.StageStarted:
		m.stages[idx].Status = "running"
		m.stages[idx].Attempt = 1
	case eventbus.StageRetrying:
		m.stages[idx].Status = "running"
		if attempt, ok := e.Payload["attempt"].(int); ok {
			m.stages[idx].Attempt = attempt
		}
	case eventbus.StageCompleted:
		m.stages[idx].Status = "passed"
		if ms, ok := e.Payload["duration_ms"].(int64); ok {
			m.stages[idx].Duration = time.Duration(ms) * time.Millisecond
		}
	case eventbus.StageFailed:
		m.stages[idx].Status = "failed"
	case eventbus.StageSkipped:
		m.stages[idx].Status = "skipped"
	}
}

// View renders the stage list with status indicators.
func (m Model) View() string {
	var b strings.Builder
	for _, s := range m.stages {
		indicator := styledIndicator(s.Status, m.spinner.View())
		name := styledName(s.Status, s.Name)
		fmt.Fprintf(&b, "  %s %s", indicator, name)
		if s.Attempt > 1 {
			b.WriteString(retryStyle.Render(fmt.Sprintf(" (attempt %d)", s.Attempt)))
		}
		if s.Duration > 0 {
			b.WriteString(retryStyle.Render(fmt.Sprintf(" %.1fs", s.Duration.Seconds())))
		}
		b.WriteString("\n")
	}
	if m.done {
		b.WriteString(m.renderFooter())
	}
	return b.String()
}

func (m Model) renderFooter() string {
	passed, total := 0, len(m.stages)
	for _, s := range m.stages {
		if s.Status == "passed" {
			passed++
		}
	}
	if m.err != nil {
		return fmt.Sprintf("\n  %s %d/%d passed: %v\n", failedStyle.Render("x"), passed, total, m.err)
	}
	return fmt.Sprintf("\n  %s %d/%d passed\n", passedStyle.Render("done"), passed, total)
}

func styledIndicator(status, spinnerView string) string {
	switch status {
	case "pending":
		return pendingStyle.Render("o")
	case "running":
		return spinnerView
	case "passed":
		return passedStyle.Render("v")
	case "failed":
		return failedStyle.Render("x")
	case "skipped":
		return skippedStyle.Render("-")
	default:
		return "?"
	}
}

func styledName(status, name string) string {
	switch status {
	case "pending":
		return pendingStyle.Render(name)
	case "running":
		return runningStyle.Render(name)
	default:
		return name
	}
}

// Bridge subscribes to an EventBus and forwards every event to a
// running Bubble Tea program as an EventMsg, implementing
// eventbus.Observer.
type Bridge struct {
	program *tea.Program
}

// NewBridge returns a Bridge that forwards to p.
func NewBridge(p *tea.Program) *Bridge {
	return &Bridge{program: p}
}

// OnEvent implements eventbus.Observer.
func (b *Bridge) OnEvent(e eventbus.Event) {
	b.program.Send(EventMsg{Event: e})
}

var _ eventbus.Observer = (*Bridge)(nil)

// Run starts a Bubble Tea program rendering stageNames' progress, fed
// by events published to bus, and blocks until ctx is cancelled or the
// run completes. A non-TTY writer falls back to a line-oriented plain
// text stream instead of starting the full-screen program.
func Run(ctx context.Context, w io.Writer, bus *eventbus.Bus, stageNames []string, done <-chan error) error {
	if !isTTY(w) {
		return runPlain(ctx, w, bus, done)
	}

	model := NewModel(stageNames)
	p := tea.NewProgram(model, tea.WithOutput(w), tea.WithContext(ctx))

	token := bus.Subscribe(NewBridge(p))
	defer bus.Unsubscribe(token)

	go func() {
		err := <-done
		p.Send(DoneMsg{Err: err})
	}()

	_, err := p.Run()
	return err
}

func runPlain(ctx context.Context, w io.Writer, bus *eventbus.Bus, done <-chan error) error {
	token := bus.Subscribe(eventbus.ObserverFunc(func(e eventbus.Event) {
		ts := e.Timestamp.Format("15:04:05")
		if e.Stage != "" {
			fmt.Fprintf(w, "[%s] %s %s\n", ts, e.Stage, e.Type)
		} else {
			fmt.Fprintf(w, "[%s] %s\n", ts, e.Type)
		}
	}))
	defer bus.Unsubscribe(token)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
