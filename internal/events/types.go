package events

// Event type constants for kelindar/event.
const (
	TypeChannelStateChanged uint32 = iota + 1
	TypeJobCompleted
	TypeJobAborted
	TypeBuffersReleased
	TypeSpuriousInterrupt
	TypeFlushCompleted
	TypeFlushTimeout
	TypeLogEntry
	TypeFrameScaled
	TypeBufferDone
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// ChannelStateChangedEvent is published on every channel state transition.
type ChannelStateChangedEvent struct {
	Channel   string `json:"channel" example:"enc0" doc:"Channel identifier"`
	OldState  string `json:"old_state" example:"armed" doc:"Previous state"`
	NewState  string `json:"new_state" example:"completed" doc:"New state"`
	Error     string `json:"error,omitempty" doc:"Error that caused the transition"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ChannelStateChangedEvent.
func (e ChannelStateChangedEvent) Type() uint32 { return TypeChannelStateChanged }

// JobCompletedEvent is published when the completion interrupt ends a job.
type JobCompletedEvent struct {
	Channel   string `json:"channel" example:"enc0" doc:"Channel identifier"`
	Seq       uint64 `json:"seq" example:"42" doc:"Job sequence number"`
	Success   bool   `json:"success" example:"true" doc:"Whether the engine reported success"`
	LatencyUS int64  `json:"latency_us" example:"850" doc:"Submit to interrupt latency in microseconds"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for JobCompletedEvent.
func (e JobCompletedEvent) Type() uint32 { return TypeJobCompleted }

// JobAbortedEvent is published when a flush cuts a job short.
type JobAbortedEvent struct {
	Channel   string `json:"channel" example:"enc0" doc:"Channel identifier"`
	Seq       uint64 `json:"seq" example:"42" doc:"Job sequence number"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for JobAbortedEvent.
func (e JobAbortedEvent) Type() uint32 { return TypeJobAborted }

// BuffersReleasedEvent is published when buffers are handed back to the client.
type BuffersReleasedEvent struct {
	Channel   string `json:"channel" example:"enc0" doc:"Channel identifier"`
	Count     int    `json:"count" example:"1" doc:"Number of buffers released"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BuffersReleasedEvent.
func (e BuffersReleasedEvent) Type() uint32 { return TypeBuffersReleased }

// SpuriousInterruptEvent is published for an interrupt no job was waiting for.
type SpuriousInterruptEvent struct {
	Channel   string `json:"channel" example:"enc0" doc:"Channel identifier"`
	State     string `json:"state" example:"idle" doc:"Channel state when the interrupt arrived"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SpuriousInterruptEvent.
func (e SpuriousInterruptEvent) Type() uint32 { return TypeSpuriousInterrupt }

// FlushCompletedEvent is published when a flush leaves the channel idle.
type FlushCompletedEvent struct {
	Channel   string `json:"channel" example:"enc0" doc:"Channel identifier"`
	From      string `json:"from" example:"armed" doc:"State the flush started from"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FlushCompletedEvent.
func (e FlushCompletedEvent) Type() uint32 { return TypeFlushCompleted }

// FlushTimeoutEvent is published when a flush gives up waiting for the engine.
type FlushTimeoutEvent struct {
	Channel   string `json:"channel" example:"enc0" doc:"Channel identifier"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FlushTimeoutEvent.
func (e FlushTimeoutEvent) Type() uint32 { return TypeFlushTimeout }

// FrameScaledEvent reports the scaling-completed callback for a client token.
type FrameScaledEvent struct {
	Channel   string `json:"channel" example:"enc0" doc:"Channel identifier"`
	Token     string `json:"token" example:"frame-0042" doc:"Client token passed at submission"`
	Success   bool   `json:"success" example:"true" doc:"False when the engine failed or a flush aborted the frame"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FrameScaledEvent.
func (e FrameScaledEvent) Type() uint32 { return TypeFrameScaled }

// BufferDoneEvent reports that the buffers of a client token may be reused.
type BufferDoneEvent struct {
	Channel   string `json:"channel" example:"enc0" doc:"Channel identifier"`
	Token     string `json:"token" example:"frame-0042" doc:"Client token passed at submission"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BufferDoneEvent.
func (e BufferDoneEvent) Type() uint32 { return TypeBufferDone }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"scaler" doc:"Source module"`
	Channel    string         `json:"channel,omitempty" example:"vic0" doc:"Scaling channel the entry was logged for"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
