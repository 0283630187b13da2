package circuit

import (
	"sync"
	"time"
)

// HealthStatus classifies one HealthSample.
type HealthStatus int

const (
	Healthy HealthStatus = iota
	Degraded
	Unhealthy
	Critical
)

func (s HealthStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// HealthSample is one heartbeat observation for a stage.
type HealthSample struct {
	Stage     string
	Timestamp time.Time
	Status    HealthStatus
	Reason    string
}

// HealthObserver is notified of health_* events (degraded, unhealthy,
// critical, recovered) derived from consecutive samples.
type HealthObserver interface {
	OnHealthChange(stage string, from, to HealthStatus, sample HealthSample)
}

// HealthObserverFunc adapts a function to HealthObserver.
type HealthObserverFunc func(stage string, from, to HealthStatus, sample HealthSample)

func (f HealthObserverFunc) OnHealthChange(stage string, from, to HealthStatus, sample HealthSample) {
	f(stage, from, to, sample)
}

// HealthMonitor keeps a bounded per-stage history of heartbeat samples
// and notifies observers when a stage's status changes, matching the
// `health_{degraded, unhealthy, critical, recovered}` event taxonomy.
type HealthMonitor struct {
	mu         sync.Mutex
	maxHistory int
	history    map[string][]HealthSample
	current    map[string]HealthStatus
	observers  []HealthObserver
}

// NewHealthMonitor creates a monitor keeping up to maxHistory samples
// per stage (default 256 if maxHistory <= 0).
func NewHealthMonitor(maxHistory int) *HealthMonitor {
	if maxHistory <= 0 {
		maxHistory = 256
	}
	return &HealthMonitor{
		maxHistory: maxHistory,
		history:    make(map[string][]HealthSample),
		current:    make(map[string]HealthStatus),
	}
}

// Subscribe registers an observer for health status changes.
func (h *HealthMonitor) Subscribe(o HealthObserver) {
	h.mu.Lock()
	h.observers = append(h.observers, o)
	h.mu.Unlock()
}

// Record appends a heartbeat sample for stage and, if its status
// differs from the prior recorded status, notifies observers. A stage
// with no prior sample counts as Healthy, so its first Healthy sample
// does not notify. A
// transition back to Healthy is reported as "recovered" by callers
// inspecting the `to` status.
func (h *HealthMonitor) Record(sample HealthSample) {
	h.mu.Lock()
	prev := h.current[sample.Stage]
	h.current[sample.Stage] = sample.Status

	buf := append(h.history[sample.Stage], sample)
	if len(buf) > h.maxHistory {
		buf = buf[len(buf)-h.maxHistory:]
	}
	h.history[sample.Stage] = buf

	changed := prev != sample.Status
	observers := append([]HealthObserver(nil), h.observers...)
	h.mu.Unlock()

	if !changed {
		return
	}
	for _, o := range observers {
		o.OnHealthChange(sample.Stage, prev, sample.Status, sample)
	}
}

// History returns a copy of the recorded samples for stage, oldest
// first.
func (h *HealthMonitor) History(stage string) []HealthSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HealthSample(nil), h.history[stage]...)
}

// Current returns the most recently recorded status for stage.
func (h *HealthMonitor) Current(stage string) (HealthStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.current[stage]
	return s, ok
}
