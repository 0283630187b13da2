package supervisor

import (
	"context"
	"time"

	"github.com/artemis-dev/artemis/internal/card"
	"github.com/artemis-dev/artemis/internal/circuit"
	"github.com/artemis-dev/artemis/internal/errtax"
	"github.com/artemis-dev/artemis/internal/eventbus"
	"github.com/artemis-dev/artemis/internal/retry"
	"github.com/artemis-dev/artemis/internal/stage"
)

// DefaultGracePeriod bounds how long the supervisor waits for a stage to
// observe cancellation and return before it abandons the attempt.
const DefaultGracePeriod = 5 * time.Second

// Supervisor wraps every stage invocation with the reliability
// mechanics: circuit pre-flight, a heartbeat-timed attempt loop,
// retry with backoff, and circuit success/failure bookkeeping.
type Supervisor struct {
	circuits    *circuit.Registry
	bus         *eventbus.Bus
	health      *circuit.HealthMonitor
	gracePeriod time.Duration
}

// New creates a Supervisor sharing the given process-wide circuit
// registry, event bus, and health monitor.
func New(circuits *circuit.Registry, bus *eventbus.Bus, health *circuit.HealthMonitor) *Supervisor {
	return &Supervisor{circuits: circuits, bus: bus, health: health, gracePeriod: DefaultGracePeriod}
}

// WithGracePeriod overrides the cancellation grace period.
func (s *Supervisor) WithGracePeriod(d time.Duration) *Supervisor {
	s.gracePeriod = d
	return s
}

type attemptOutcome struct {
	output map[string]any
	err    error
}

// Invoke runs st under supervision: preflight, attempt loop, retry,
// and circuit bookkeeping. cardID is used only for event/context
// tagging.
func (s *Supervisor) Invoke(ctx context.Context, cardID string, st stage.Stage, view card.View, params map[string]any, policy retry.Policy, timeout time.Duration) StageResult {
	name := st.Name()
	deps := stage.Dependencies(st)
	start := time.Now()

	if blocked, dep := s.preflightBlocked(deps); blocked {
		err := errtax.New(errtax.DependencyUnavailable, "circuit open for dependency "+dep).
			WithCard(cardID).WithStage(name).WithDependency(dep)
		return StageResult{Stage: name, Status: Failed, Duration: time.Since(start), Attempts: 0, Err: err}
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			s.publish(eventbus.StageRetrying, cardID, name, map[string]any{"attempt": attempt})
		} else {
			s.publish(eventbus.StageStarted, cardID, name, nil)
		}

		attemptStart := time.Now()
		output, err := s.runOneAttempt(ctx, st, view, params, timeout)
		duration := time.Since(attemptStart)
		s.recordHealth(name, err)

		if err == nil {
			s.recordOutcome(deps, true)
			s.publish(eventbus.StageCompleted, cardID, name, map[string]any{"attempt": attempt, "duration_ms": duration.Milliseconds()})
			return StageResult{Stage: name, Status: Succeeded, Duration: time.Since(start), Attempts: attempt, Output: output}
		}

		classified, ok := errtax.As(err)
		if !ok {
			classified = errtax.Wrap(errtax.Internal, err)
		}
		lastErr = classified.WithCard(cardID).WithStage(name).WithAttempt(attempt)
		kind := lastErr.(*errtax.Error).Kind
		s.recordOutcome(deps, false)

		if kind == errtax.Cancelled {
			s.publish(eventbus.StageFailed, cardID, name, map[string]any{"attempt": attempt, "reason": "cancelled"})
			return StageResult{Stage: name, Status: Failed, Duration: time.Since(start), Attempts: attempt, Err: lastErr}
		}

		if !kind.Retryable() || policy.Exhausted(attempt) {
			s.publish(eventbus.StageFailed, cardID, name, map[string]any{"attempt": attempt, "reason": kind.String()})
			return StageResult{Stage: name, Status: Failed, Duration: time.Since(start), Attempts: attempt, Err: lastErr}
		}

		delay := policy.Delay(attempt + 1)
		if sleepErr := retry.Sleep(ctx, delay); sleepErr != nil {
			cancelled := errtax.Wrap(errtax.Cancelled, sleepErr).WithCard(cardID).WithStage(name).WithAttempt(attempt)
			s.publish(eventbus.StageFailed, cardID, name, map[string]any{"attempt": attempt, "reason": "cancelled_during_backoff"})
			return StageResult{Stage: name, Status: Failed, Duration: time.Since(start), Attempts: attempt, Err: cancelled}
		}
	}
}

// runOneAttempt starts a heartbeat-timed call to st.Execute, cancelling
// the attempt's context on timeout or caller cancellation and
// classifying the outcome into the error taxonomy.
func (s *Supervisor) runOneAttempt(ctx context.Context, st stage.Stage, view card.View, params map[string]any, timeout time.Duration) (map[string]any, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan attemptOutcome, 1)
	go func() {
		out, err := st.Execute(attemptCtx, view, params)
		resultCh <- attemptOutcome{output: out, err: err}
	}()

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case out := <-resultCh:
		return out.output, out.err
	case <-timerC:
		cancel()
		return s.awaitAbandon(resultCh, errtax.New(errtax.Timeout, "stage exceeded its timeout"))
	case <-ctx.Done():
		cancel()
		return s.awaitAbandon(resultCh, errtax.New(errtax.Cancelled, ctx.Err().Error()))
	}
}

// awaitAbandon gives an already-cancelled attempt one grace period to
// return before abandoning it outright: cancellation is two-phase,
// request then forced abandonment. An error the stage returns in that
// window is kept only if it is already classified in the taxonomy;
// otherwise (e.g. a bare ctx.Err()) onAbandon is returned.
func (s *Supervisor) awaitAbandon(resultCh <-chan attemptOutcome, onAbandon error) (map[string]any, error) {
	select {
	case out := <-resultCh:
		if _, ok := errtax.As(out.err); ok {
			return out.output, out.err
		}
		return out.output, onAbandon
	case <-time.After(s.gracePeriod):
		return nil, onAbandon
	}
}

// preflightBlocked reports whether any declared dependency's circuit
// currently rejects calls.
func (s *Supervisor) preflightBlocked(deps []string) (bool, string) {
	if s.circuits == nil {
		return false, ""
	}
	now := time.Now()
	for _, dep := range deps {
		b := s.circuits.Get(dep)
		if !b.Allow(now) {
			return true, dep
		}
	}
	return false, ""
}

// recordOutcome updates every declared dependency's circuit with the
// attempt's success/failure.
func (s *Supervisor) recordOutcome(deps []string, success bool) {
	if s.circuits == nil {
		return
	}
	now := time.Now()
	for _, dep := range deps {
		b := s.circuits.Get(dep)
		if success {
			b.RecordSuccess(now)
		} else {
			b.RecordFailure(now)
		}
	}
}

func (s *Supervisor) recordHealth(stageName string, err error) {
	if s.health == nil {
		return
	}
	status := circuit.Healthy
	reason := ""
	if err != nil {
		switch errtax.KindOf(err) {
		case errtax.Timeout, errtax.Transient:
			status = circuit.Degraded
		case errtax.DependencyUnavailable:
			status = circuit.Unhealthy
		default:
			status = circuit.Critical
		}
		reason = err.Error()
	}
	s.health.Record(circuit.HealthSample{Stage: stageName, Timestamp: time.Now(), Status: status, Reason: reason})
}

func (s *Supervisor) publish(t eventbus.Type, cardID, stageName string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: t, CardID: cardID, Stage: stageName, Payload: payload})
}
