package trigger

import (
	"github.com/dukex/marketflow/pkg/eventbus"
	"github.com/dukex/marketflow/pkg/events"
)

// Subscribe routes the domain events delivered by bus into Submit.
func (e *Evaluator) Subscribe(bus eventbus.EventSubscriber) error {
	for _, eventType := range []events.EventType{
		events.CustomerVisitEvent,
		events.CustomerRegistrationEvent,
		events.PaymentCompletedEvent,
	} {
		if err := bus.Handle(eventType, e.Submit); err != nil {
			return err
		}
	}

	return nil
}
