package artemislog

import (
	"github.com/rs/zerolog"

	"github.com/artemis-dev/artemis/internal/eventbus"
)

// EventObserver mirrors EventBus events into a zerolog.Logger, picking
// a severity appropriate to each event kind. Wire it with
// bus.Subscribe(artemislog.NewEventObserver(logger)).
type EventObserver struct {
	logger zerolog.Logger
}

// NewEventObserver returns an eventbus.Observer backed by logger.
func NewEventObserver(logger zerolog.Logger) *EventObserver {
	return &EventObserver{logger: logger}
}

// OnEvent implements eventbus.Observer.
func (o *EventObserver) OnEvent(e eventbus.Event) {
	evt := o.logger.WithLevel(levelFor(e.Type)).
		Str("event", string(e.Type)).
		Time("ts", e.Timestamp)
	if e.CardID != "" {
		evt = evt.Str("card_id", e.CardID)
	}
	if e.Stage != "" {
		evt = evt.Str("stage", e.Stage)
	}
	for k, v := range e.Payload {
		evt = evt.Interface(k, v)
	}
	evt.Msg(string(e.Type))
}

// levelFor maps an event Type to the log severity it should be
// reported at: failures and breaker trips are errors, degradations and
// retries are warnings, everything else is informational.
func levelFor(t eventbus.Type) zerolog.Level {
	switch t {
	case eventbus.PipelineFailed,
		eventbus.StageFailed,
		eventbus.ValidationFailed,
		eventbus.ValidationMaxRetries,
		eventbus.HealthUnhealthy,
		eventbus.HealthCritical,
		eventbus.CircuitOpened,
		eventbus.CampaignTaskFailed,
		eventbus.CampaignFailed:
		return zerolog.ErrorLevel
	case eventbus.StageRetrying,
		eventbus.StageSkipped,
		eventbus.HealthDegraded,
		eventbus.CircuitHalfOpened,
		eventbus.PipelineCancelled:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// PanicHandler returns an eventbus.PanicHandler that logs a recovered
// observer panic at error level. Wire it with bus.OnObserverPanic.
func PanicHandler(logger zerolog.Logger) eventbus.PanicHandler {
	return func(observer eventbus.Observer, e eventbus.Event, recovered any) {
		logger.Error().
			Str("event", string(e.Type)).
			Str("card_id", e.CardID).
			Interface("recovered", recovered).
			Msg("event observer panicked")
	}
}

// compile-time assurance
var _ eventbus.Observer = (*EventObserver)(nil)
