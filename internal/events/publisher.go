package events

import (
	"fmt"
	"time"

	"github.com/smazurov/memscaler/internal/logging"
	"github.com/smazurov/memscaler/internal/scaler"
)

// Publisher forwards scheduler events to the bus. It implements scaler.Observer.
type Publisher struct {
	bus *Bus
}

var _ scaler.Observer = (*Publisher)(nil)

// NewPublisher creates a Publisher for bus.
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus}
}

func now() string {
	return time.Now().Format(time.RFC3339Nano)
}

// JobSubmitted is not published; submissions are visible through state changes.
func (p *Publisher) JobSubmitted(string, scaler.JobHandle) {}

// SubmitRejected is not published; rejections are returned to the caller.
func (p *Publisher) SubmitRejected(string, string) {}

func (p *Publisher) JobCompleted(channel string, handle scaler.JobHandle, success bool, latency time.Duration) {
	p.bus.Publish(JobCompletedEvent{
		Channel:   channel,
		Seq:       handle.Seq,
		Success:   success,
		LatencyUS: latency.Microseconds(),
		Timestamp: now(),
	})
}

func (p *Publisher) JobAborted(channel string, handle scaler.JobHandle) {
	p.bus.Publish(JobAbortedEvent{Channel: channel, Seq: handle.Seq, Timestamp: now()})
}

func (p *Publisher) BuffersReleased(channel string, count int) {
	p.bus.Publish(BuffersReleasedEvent{Channel: channel, Count: count, Timestamp: now()})
}

func (p *Publisher) SpuriousInterrupt(channel string, state scaler.State) {
	p.bus.Publish(SpuriousInterruptEvent{Channel: channel, State: string(state), Timestamp: now()})
}

func (p *Publisher) Flushed(channel string, from scaler.State) {
	p.bus.Publish(FlushCompletedEvent{Channel: channel, From: string(from), Timestamp: now()})
}

func (p *Publisher) FlushTimedOut(channel string) {
	p.bus.Publish(FlushTimeoutEvent{Channel: channel, Timestamp: now()})
}

// StateChanged is a no-op: state changes carry an error and are published
// from the channel's state change callback through StateChangeHook.
func (p *Publisher) StateChanged(string, scaler.State, scaler.State) {}

// StateChangeHook returns a scaler.StateChangeCallback that publishes
// ChannelStateChangedEvent.
func (p *Publisher) StateChangeHook() scaler.StateChangeCallback {
	return func(id string, oldState, newState scaler.State, err error) {
		ev := ChannelStateChangedEvent{
			Channel:   id,
			OldState:  string(oldState),
			NewState:  string(newState),
			Timestamp: now(),
		}
		if err != nil {
			ev.Error = err.Error()
		}
		p.bus.Publish(ev)
	}
}

// ClientCallbacks returns scaler callbacks that publish FrameScaledEvent and
// BufferDoneEvent for channel. User data is rendered with fmt.Sprint.
func (p *Publisher) ClientCallbacks(channel string) scaler.Callbacks {
	return scaler.Callbacks{
		ScalingCompleted: func(userData any, success bool) {
			p.bus.Publish(FrameScaledEvent{
				Channel:   channel,
				Token:     token(userData),
				Success:   success,
				Timestamp: now(),
			})
		},
		BufferDone: func(userData any) {
			p.bus.Publish(BufferDoneEvent{Channel: channel, Token: token(userData), Timestamp: now()})
		},
	}
}

func token(userData any) string {
	if userData == nil {
		return ""
	}
	return fmt.Sprint(userData)
}

// NewLogEntryEvent converts a ring buffer entry to its event form.
func NewLogEntryEvent(entry logging.LogEntry) LogEntryEvent {
	return LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Channel:    entry.Channel,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

// LogCallback returns a logging.LogCallback that publishes every new log
// entry as a LogEntryEvent.
func (p *Publisher) LogCallback() logging.LogCallback {
	return func(entry logging.LogEntry) {
		p.bus.Publish(NewLogEntryEvent(entry))
	}
}
