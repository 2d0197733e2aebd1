package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/memscaler/internal/events"
)

// EventsInput filters the event stream.
type EventsInput struct {
	Channel string `query:"channel" doc:"Only forward events of this channel"`
}

// registerSSERoutes registers the scheduler event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time scheduler events: state changes, completions, buffer releases, spurious interrupts, and flushes",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"channel-state-changed": events.ChannelStateChangedEvent{},
		"job-completed":         events.JobCompletedEvent{},
		"job-aborted":           events.JobAbortedEvent{},
		"buffers-released":      events.BuffersReleasedEvent{},
		"spurious-interrupt":    events.SpuriousInterruptEvent{},
		"flush-completed":       events.FlushCompletedEvent{},
		"flush-timeout":         events.FlushTimeoutEvent{},
		"frame-scaled":          events.FrameScaledEvent{},
		"buffer-done":           events.BufferDoneEvent{},
	}, func(ctx context.Context, input *EventsInput, send sse.Sender) {
		eventCh := make(chan any, 64)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.ChannelStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.JobCompletedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.JobAbortedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.BuffersReleasedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SpuriousInterruptEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FlushCompletedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FlushTimeoutEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FrameScaledEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.BufferDoneEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Current state of every channel first, so clients need no separate poll
		for _, st := range s.manager.List() {
			if input.Channel != "" && st.ID != input.Channel {
				continue
			}
			if err := send.Data(events.ChannelStateChangedEvent{
				Channel:   st.ID,
				OldState:  string(st.State),
				NewState:  string(st.State),
				Timestamp: time.Now().Format(timestampFormat),
			}); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if input.Channel != "" && eventChannel(ev) != input.Channel {
					continue
				}
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}

// eventChannel returns the channel an event belongs to.
func eventChannel(ev any) string {
	switch e := ev.(type) {
	case events.ChannelStateChangedEvent:
		return e.Channel
	case events.JobCompletedEvent:
		return e.Channel
	case events.JobAbortedEvent:
		return e.Channel
	case events.BuffersReleasedEvent:
		return e.Channel
	case events.SpuriousInterruptEvent:
		return e.Channel
	case events.FlushCompletedEvent:
		return e.Channel
	case events.FlushTimeoutEvent:
		return e.Channel
	case events.FrameScaledEvent:
		return e.Channel
	case events.BufferDoneEvent:
		return e.Channel
	default:
		return ""
	}
}
