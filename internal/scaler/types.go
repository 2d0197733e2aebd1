package scaler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/memscaler/internal/framepool"
)

// Defaults taken from the engine's timing requirements.
const (
	// DefaultFlushTimeout bounds how long Flush waits for the forced completion interrupt.
	DefaultFlushTimeout = 20 * time.Millisecond
	// DefaultMinInterruptGap separates a serviced interrupt from the next request.
	DefaultMinInterruptGap = 10 * time.Microsecond
)

// Planes are the hardware addresses of a frame's luma and chroma planes.
type Planes struct {
	Luma   uint64 `json:"luma"`
	Chroma uint64 `json:"chroma"`
}

// FrameRequest is one scaling job as submitted by a client.
// Geometry fields left at their zero value are inherited from the previous frame.
type FrameRequest struct {
	UserData    any
	Source      Planes
	Destination Planes
	Geometry    framepool.Geometry
	// Field overrides the input polarity, for interlaced streams that only alternate fields.
	Field     framepool.FieldType
	Timestamp time.Time
}

// JobHandle identifies an accepted submission.
type JobHandle struct {
	Channel string `json:"channel"`
	Seq     uint64 `json:"seq"`
}

func (h JobHandle) String() string {
	return fmt.Sprintf("%s/%d", h.Channel, h.Seq)
}

// Job is what the Configurator programs: the current frame, the history
// frames the temporal filter reads, and the source planes.
type Job struct {
	Handle         JobHandle
	Frame          *framepool.Frame
	Source         Planes
	Destination    Planes
	TemporalFilter bool
	Previous1      *framepool.Frame
	Previous2      *framepool.Frame
}

// Configurator programs the scaling engine. Calls are made with the channel
// lock held and must not block or deliver an interrupt synchronously.
type Configurator interface {
	// Configure programs scaler, color, crop and filter blocks for job and
	// commits the configuration so the engine starts on it.
	Configure(job *Job) error
	// DisableClients stops the engine's memory read and write clients.
	DisableClients()
	// ForceCommit applies pending register state immediately.
	ForceCommit()
	// ForceCompletion makes an in-flight job raise its completion interrupt.
	ForceCompletion()
}

// InterruptLine is the one-shot completion interrupt. It is enabled once per
// job and disabled by the handler before any completion handling.
type InterruptLine interface {
	Enable()
	Disable()
}

// Callbacks are the client's completion hooks. They run with the channel lock
// held: they must not call back into the same channel synchronously.
type Callbacks struct {
	// ScalingCompleted reports the end of the job submitted with userData.
	ScalingCompleted func(userData any, success bool)
	// BufferDone hands a buffer back once no future job reads it.
	BufferDone func(userData any)
}

// ChannelOptions configures a new Channel.
type ChannelOptions struct {
	// Configurator programs the engine (required).
	Configurator Configurator

	// Interrupt is the completion interrupt line (required).
	Interrupt InterruptLine

	// Callbacks are the client completion hooks (both required).
	Callbacks Callbacks

	// Pool supplies frame descriptors and buffers. If nil, a pool of
	// framepool.DefaultCapacity is created.
	Pool *framepool.Pool

	// TemporalFilter enables temporal noise reduction from the first job.
	TemporalFilter bool

	// FlushTimeout bounds Flush. Zero means DefaultFlushTimeout.
	FlushTimeout time.Duration

	// MinInterruptGap is the minimum time between a serviced interrupt and
	// the next request. Zero means DefaultMinInterruptGap, negative disables it.
	MinInterruptGap time.Duration

	// Observer receives scheduling events (optional).
	Observer Observer

	// OnStateChange is called when the channel state transitions (optional).
	OnStateChange StateChangeCallback

	// Logger for channel operations. If nil, uses slog.Default().
	Logger *slog.Logger
}
