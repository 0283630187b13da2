// Package eventbus implements the synchronous observer broadcast the
// substrate uses for pipeline/stage/validation/health/circuit lifecycle
// events.
package eventbus

import (
	"sync"
	"time"
)

// Type is a closed enum of event kinds. The set is extensible only by
// amending this list.
type Type string

const (
	PipelineStarted   Type = "pipeline_started"
	PipelinePaused    Type = "pipeline_paused"
	PipelineResumed   Type = "pipeline_resumed"
	PipelineCompleted Type = "pipeline_completed"
	PipelineFailed    Type = "pipeline_failed"
	PipelineCancelled Type = "pipeline_cancelled"

	StageStarted   Type = "stage_started"
	StageRetrying  Type = "stage_retrying"
	StageCompleted Type = "stage_completed"
	StageFailed    Type = "stage_failed"
	StageSkipped   Type = "stage_skipped"

	ValidationStarted    Type = "validation_started"
	ValidationPassed     Type = "validation_passed"
	ValidationFailed     Type = "validation_failed"
	ValidationMaxRetries Type = "validation_max_retries"

	HealthDegraded  Type = "health_degraded"
	HealthUnhealthy Type = "health_unhealthy"
	HealthCritical  Type = "health_critical"
	HealthRecovered Type = "health_recovered"

	CircuitOpened     Type = "circuit_opened"
	CircuitHalfOpened Type = "circuit_half_opened"
	CircuitClosed     Type = "circuit_closed"

	CampaignStarted        Type = "campaign_started"
	CampaignTaskStarted    Type = "campaign_task_started"
	CampaignTaskCompleted  Type = "campaign_task_completed"
	CampaignTaskFailed     Type = "campaign_task_failed"
	CampaignDiscoveryFiled Type = "campaign_discovery_filed"
	CampaignCompleted      Type = "campaign_completed"
	CampaignFailed         Type = "campaign_failed"
)

// Event is a single fire-and-forget lifecycle notification. Events are
// not persisted; CardID and Stage are optional depending on Type.
type Event struct {
	Type      Type
	Timestamp time.Time
	CardID    string
	Stage     string
	Payload   map[string]any
}

// Observer receives published events. Delivery is synchronous, in
// subscription order, once per event. An Observer that panics is
// recovered and logged by the Bus; it does not stop delivery to the
// rest of the subscribers.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// PanicHandler is invoked with the recovered value when an observer
// panics during OnEvent. Defaults to a no-op; set via Bus.OnObserverPanic.
type PanicHandler func(observer Observer, event Event, recovered any)

// Bus is a synchronous, subscription-ordered event broadcaster.
type Bus struct {
	mu            sync.Mutex
	observers     []entry
	dropSlow      bool
	slowThreshold int
	onPanic       PanicHandler
}

type entry struct {
	id       int
	observer Observer
	failures int
}

// New creates an empty Bus. When dropSlowObservers is true (config key
// events.drop_slow_observers), an observer that panics repeatedly is
// disconnected after slowThreshold consecutive panics.
func New(dropSlowObservers bool, slowThreshold int) *Bus {
	if slowThreshold <= 0 {
		slowThreshold = 3
	}
	return &Bus{dropSlow: dropSlowObservers, slowThreshold: slowThreshold, onPanic: func(Observer, Event, any) {}}
}

// OnObserverPanic sets the callback invoked when an observer panics.
// Typically wired to the logging ambient stack.
func (b *Bus) OnObserverPanic(h PanicHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h == nil {
		h = func(Observer, Event, any) {}
	}
	b.onPanic = h
}

var nextID int
var nextIDMu sync.Mutex

func allocID() int {
	nextIDMu.Lock()
	defer nextIDMu.Unlock()
	nextID++
	return nextID
}

// Subscribe registers an observer and returns a token usable with
// Unsubscribe. Observers hold no strong reference to the Bus.
func (b *Bus) Subscribe(o Observer) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := allocID()
	b.observers = append(b.observers, entry{id: id, observer: o})
	return id
}

// Unsubscribe removes a previously subscribed observer by its token.
func (b *Bus) Unsubscribe(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.observers {
		if e.id == token {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every currently subscribed observer, in
// subscription order, synchronously. Publish holds no lock while
// invoking observers (observers must be re-entrant): it takes a
// snapshot of the subscriber list first.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	snapshot := make([]entry, len(b.observers))
	copy(snapshot, b.observers)
	b.mu.Unlock()

	var toDrop []int
	for _, en := range snapshot {
		if b.deliver(en, e) {
			if b.dropSlow {
				toDrop = append(toDrop, en.id)
			}
		}
	}
	if len(toDrop) > 0 {
		b.mu.Lock()
		for _, id := range toDrop {
			for i, e := range b.observers {
				if e.id == id {
					b.observers = append(b.observers[:i], b.observers[i+1:]...)
					break
				}
			}
		}
		b.mu.Unlock()
	}
}

// deliver invokes one observer, recovering from panics. It returns true
// when the observer's consecutive-failure count has crossed the
// slowThreshold and it is a drop candidate (the caller still only drops
// when dropSlow is enabled).
func (b *Bus) deliver(en entry, e Event) (dropCandidate bool) {
	defer func() {
		if r := recover(); r != nil {
			b.onPanic(en.observer, e, r)
			b.mu.Lock()
			for i := range b.observers {
				if b.observers[i].id == en.id {
					b.observers[i].failures++
					dropCandidate = b.observers[i].failures >= b.slowThreshold
					break
				}
			}
			b.mu.Unlock()
		}
	}()
	en.observer.OnEvent(e)
	b.mu.Lock()
	for i := range b.observers {
		if b.observers[i].id == en.id {
			b.observers[i].failures = 0
			break
		}
	}
	b.mu.Unlock()
	return false
}
