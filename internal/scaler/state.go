package scaler

import "time"

// State is the occupancy state of a channel's scaling engine.
type State string

// Channel states.
const (
	StateIdle                  State = "idle"                    // Never submitted or fully quiesced
	StateArmed                 State = "armed"                   // Job programmed, completion interrupt enabled
	StateCompleted             State = "completed"               // Interrupt serviced, engine free
	StateFlushPendingInterrupt State = "flush_pending_interrupt" // Flush requested while armed, interrupt still expected
	StateFlushCompleted        State = "flush_completed"         // Flush requested after completion
	StateFaulted               State = "faulted"                 // Flush timed out, buffers may still be engine-owned
)

// Busy reports whether the engine may still be reading or writing buffers.
func (s State) Busy() bool {
	switch s {
	case StateArmed, StateFlushPendingInterrupt, StateFaulted:
		return true
	default:
		return false
	}
}

// Accepting reports whether a submission may be made in this state.
func (s State) Accepting() bool {
	switch s {
	case StateIdle, StateCompleted, StateFlushCompleted:
		return true
	default:
		return false
	}
}

// StateChangeCallback is called after a channel state transition, outside the channel lock.
type StateChangeCallback func(id string, oldState, newState State, err error)

// Stats are cumulative channel counters.
type Stats struct {
	Submitted          uint64 `json:"submitted"`
	Rejected           uint64 `json:"rejected"`
	Completed          uint64 `json:"completed"`
	Failed             uint64 `json:"failed"`
	Aborted            uint64 `json:"aborted"`
	BuffersReleased    uint64 `json:"buffers_released"`
	SpuriousInterrupts uint64 `json:"spurious_interrupts"`
	Flushes            uint64 `json:"flushes"`
	FlushTimeouts      uint64 `json:"flush_timeouts"`
}

// Status is a snapshot of a channel.
type Status struct {
	ID             string     `json:"id"`
	State          State      `json:"state"`
	TemporalFilter bool       `json:"temporal_filter"`
	InFlight       *JobHandle `json:"in_flight,omitempty"`
	// Retained is the number of history frames held besides the current one.
	Retained      int       `json:"retained"`
	Outstanding   int       `json:"outstanding"`
	LastInterrupt time.Time `json:"last_interrupt"`
	LastError     string    `json:"last_error,omitempty"`
	Stats         Stats     `json:"stats"`
	PoolCapacity  int       `json:"pool_capacity"`
	PoolFree      int       `json:"pool_free"`
}
