package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Publisher forwards events outside the process (message broker)
type Publisher interface {
	Publish(ctx context.Context, event EventWithData) error
}

// Manager handles event emission, logging and fan-out
type Manager struct {
	bus       *Bus
	publisher Publisher
	log       zerolog.Logger
}

// NewManager creates a new event manager. publisher may be nil.
func NewManager(bus *Bus, publisher Publisher, log zerolog.Logger) *Manager {
	return &Manager{
		bus:       bus,
		publisher: publisher,
		log:       log.With().Str("service", "events").Logger(),
	}
}

// Emit emits an event
func (m *Manager) Emit(module string, data EventData) {
	if m == nil {
		return
	}

	event := EventWithData{
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	eventJSON, _ := json.Marshal(&event)
	m.log.Info().
		Str("event_type", string(event.Type)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")

	if m.bus != nil {
		m.bus.Publish(event)
	}

	if m.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.publisher.Publish(ctx, event); err != nil {
			m.log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("Failed to publish event to broker")
		}
	}
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	m.Emit(module, &ErrorEventData{
		Error:   err.Error(),
		Context: context,
	})
}

// Bus returns the in-process bus subscribers attach to
func (m *Manager) Bus() *Bus {
	return m.bus
}
