package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(SourceAddedEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event is generic; dispatch on the concrete type
	switch e := ev.(type) {
	case SourceAddedEvent:
		event.Publish(b.dispatcher, e)
	case SourceRemovedEvent:
		event.Publish(b.dispatcher, e)
	case TextureConnectedEvent:
		event.Publish(b.dispatcher, e)
	case TextureDisconnectedEvent:
		event.Publish(b.dispatcher, e)
	case TextureFormatChangedEvent:
		event.Publish(b.dispatcher, e)
	case SourceStatsEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e SourceAddedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SourceAddedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SourceRemovedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(TextureConnectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(TextureDisconnectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(TextureFormatChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SourceStatsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
