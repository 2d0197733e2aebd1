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
// Usage: bus.Publish(JobCompletedEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case ChannelStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case JobCompletedEvent:
		event.Publish(b.dispatcher, e)
	case JobAbortedEvent:
		event.Publish(b.dispatcher, e)
	case BuffersReleasedEvent:
		event.Publish(b.dispatcher, e)
	case SpuriousInterruptEvent:
		event.Publish(b.dispatcher, e)
	case FlushCompletedEvent:
		event.Publish(b.dispatcher, e)
	case FlushTimeoutEvent:
		event.Publish(b.dispatcher, e)
	case FrameScaledEvent:
		event.Publish(b.dispatcher, e)
	case BufferDoneEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e FlushTimeoutEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(ChannelStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(JobCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(JobAbortedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BuffersReleasedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SpuriousInterruptEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FlushCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FlushTimeoutEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameScaledEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BufferDoneEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}

// SubscribeToChannel bridges kelindar/event callback-based subscriptions to channels.
// Used by SSE handlers, where Huma expects a channel-based select loop.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full (non-blocking)
		}
	})
}
