package scaler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/memscaler/internal/framepool"
	"github.com/smazurov/memscaler/internal/history"
)

// Channel schedules scaling jobs on one memory-to-memory engine.
type Channel struct {
	id        string
	cfg       Configurator
	irq       InterruptLine
	callbacks Callbacks
	pool      *framepool.Pool
	observer  Observer
	onChange  StateChangeCallback
	logger    *slog.Logger

	mu            sync.Mutex
	state         State
	chain         history.Chain
	temporal      bool
	job           *activeJob
	seq           uint64
	lastInterrupt time.Time
	lastError     string
	stats         Stats
	flushTimeout  time.Duration
	minGap        time.Duration
	flush         *flushOp
	closing       bool
	closed        bool
	changes       []stateChange
}

type activeJob struct {
	Job
	submittedAt time.Time
}

type stateChange struct {
	from, to State
	err      error
}

// NewChannel creates a channel in the idle state.
func NewChannel(id string, opts *ChannelOptions) (*Channel, error) {
	if opts == nil {
		return nil, errors.New("channel options are required")
	}
	if opts.Configurator == nil || opts.Interrupt == nil {
		return nil, fmt.Errorf("channel %s: configurator and interrupt line are required", id)
	}
	if opts.Callbacks.ScalingCompleted == nil || opts.Callbacks.BufferDone == nil {
		return nil, fmt.Errorf("channel %s: ScalingCompleted and BufferDone callbacks are required", id)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pool := opts.Pool
	if pool == nil {
		pool = framepool.New(framepool.Options{Logger: logger})
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	c := &Channel{
		id:        id,
		cfg:       opts.Configurator,
		irq:       opts.Interrupt,
		callbacks: opts.Callbacks,
		pool:      pool,
		observer:  observer,
		onChange:  opts.OnStateChange,
		logger:    logger.With("channel", id),
		state:     StateIdle,
		temporal:  opts.TemporalFilter,
	}
	c.flushTimeout = normalizeFlushTimeout(opts.FlushTimeout)
	c.minGap = normalizeGap(opts.MinInterruptGap)
	return c, nil
}

func normalizeFlushTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultFlushTimeout
	}
	return d
}

func normalizeGap(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultMinInterruptGap
	case d < 0:
		return 0
	default:
		return d
	}
}

// ID returns the channel name.
func (c *Channel) ID() string {
	return c.id
}

// Submit stages req as the current frame, programs the engine and arms the
// completion interrupt. It never waits for the engine. The only delay is the
// minimum interrupt gap: a Submit that follows a serviced interrupt sooner
// than MinInterruptGap sleeps out the remainder, so it blocks for at most the
// gap (DefaultMinInterruptGap, 10µs, unless configured; none when negative).
// A busy channel is rejected with ErrResourceBusy without waiting.
func (c *Channel) Submit(req FrameRequest) (JobHandle, error) {
	c.pause(State.Accepting)

	c.mu.Lock()
	defer c.unlock()

	if c.closed || c.closing {
		return c.rejectLocked(ErrChannelClosed)
	}
	if !c.state.Accepting() {
		return c.rejectLocked(NewError(ErrCodeResourceBusy, fmt.Sprintf("channel is %s", c.state), nil))
	}

	g := c.chain.Inherit(req.Geometry)
	if req.Field != "" {
		g.Input.Field = req.Field
	}
	if err := g.Validate(); err != nil {
		return c.rejectLocked(NewError(ErrCodeInvalidGeometry, "frame rejected", err))
	}

	f, err := c.pool.AllocateFrame()
	if err != nil {
		return c.rejectLocked(NewError(ErrCodeOutOfBuffers, "cannot stage frame", err))
	}
	f.Geometry = g
	f.UserData = req.UserData
	f.Timestamp = req.Timestamp
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	f.Buffers[framepool.RoleLuma].Addr = req.Destination.Luma
	f.Buffers[framepool.RoleChroma].Addr = req.Destination.Chroma

	next, evicted := c.chain.Advance(f)
	refs := next.References(c.temporal)

	c.seq++
	job := Job{
		Handle:         JobHandle{Channel: c.id, Seq: c.seq},
		Frame:          f,
		Source:         req.Source,
		Destination:    req.Destination,
		TemporalFilter: c.temporal,
		Previous1:      refs.Previous1,
		Previous2:      refs.Previous2,
	}

	if err := c.cfg.Configure(&job); err != nil {
		if relErr := c.pool.Release(f); relErr != nil {
			c.logger.Error("Failed to return staged frame", "error", relErr)
		}
		c.logger.Warn("Engine refused job", "job", job.Handle.String(), "error", err)
		return c.rejectLocked(NewError(ErrCodeHardware, "configure job "+job.Handle.String(), err))
	}

	c.chain = next
	c.retireLocked(evicted)

	c.job = &activeJob{Job: job, submittedAt: time.Now()}
	c.stats.Submitted++
	c.observer.JobSubmitted(c.id, job.Handle)
	c.setStateLocked(StateArmed, nil)
	c.irq.Enable()

	c.logger.Debug("Job armed",
		"job", job.Handle.String(),
		"frame", f.Ref().String(),
		"tnr", job.TemporalFilter,
		"previous1", job.Previous1 != nil,
		"previous2", job.Previous2 != nil)
	return job.Handle, nil
}

// OnInterrupt is the completion interrupt handler. The line is disabled
// before anything else; an interrupt in a state that expects none is counted
// and otherwise ignored.
func (c *Channel) OnInterrupt(success bool) {
	c.mu.Lock()
	defer c.unlock()

	c.irq.Disable()

	switch c.state {
	case StateArmed:
		c.completeJobLocked(success)
	case StateFlushPendingInterrupt:
		if c.flush != nil {
			c.flush.signal()
		}
	case StateFaulted:
		c.logger.Warn("Late completion interrupt, recovering")
		c.finishFlushLocked(StateFaulted)
	default:
		c.stats.SpuriousInterrupts++
		c.observer.SpuriousInterrupt(c.id, c.state)
		c.logger.Debug("Spurious interrupt", "state", string(c.state))
	}
}

func (c *Channel) completeJobLocked(success bool) {
	job := c.job
	c.job = nil
	c.lastInterrupt = time.Now()

	if job != nil {
		if success {
			c.stats.Completed++
		} else {
			c.stats.Failed++
		}
		c.callbacks.ScalingCompleted(job.Frame.UserData, success)
		c.observer.JobCompleted(c.id, job.Handle, success, c.lastInterrupt.Sub(job.submittedAt))
	}

	next, retired := c.chain.Retire(c.temporal)
	c.chain = next
	c.retireLocked(retired)
	c.setStateLocked(StateCompleted, nil)
}

// retireLocked is the only place frames leave the scheduler: the frame goes
// back to the pool and its user data to the client.
func (c *Channel) retireLocked(frames []*framepool.Frame) {
	released := 0
	for _, f := range frames {
		userData := f.UserData
		if err := c.pool.Release(f); err != nil {
			c.logger.Error("Frame retired twice", "frame", f.Ref().String(), "error", err)
			continue
		}
		c.callbacks.BufferDone(userData)
		released++
	}
	if released > 0 {
		c.stats.BuffersReleased += uint64(released)
		c.observer.BuffersReleased(c.id, released)
	}
}

func (c *Channel) rejectLocked(err *Error) (JobHandle, error) {
	c.stats.Rejected++
	c.lastError = err.Error()
	c.observer.SubmitRejected(c.id, err.Code)
	c.logger.Debug("Submission rejected", "code", err.Code, "state", string(c.state))
	return JobHandle{}, err
}

func (c *Channel) setStateLocked(to State, err error) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if err != nil {
		c.lastError = err.Error()
	}
	c.observer.StateChanged(c.id, from, to)
	c.changes = append(c.changes, stateChange{from: from, to: to, err: err})
}

// unlock releases the lock and reports the transitions made while holding it.
func (c *Channel) unlock() {
	changes := c.changes
	c.changes = nil
	c.mu.Unlock()

	if c.onChange == nil {
		return
	}
	for _, ch := range changes {
		c.onChange(c.id, ch.from, ch.to, ch.err)
	}
}

// pause sleeps out the rest of the minimum interrupt gap when the channel
// is in a state matched by when.
func (c *Channel) pause(when func(State) bool) {
	c.mu.Lock()
	gap, last, state := c.minGap, c.lastInterrupt, c.state
	c.mu.Unlock()

	if gap <= 0 || last.IsZero() || !when(state) {
		return
	}
	if wait := gap - time.Since(last); wait > 0 {
		time.Sleep(wait)
	}
}

// SetTemporalFilter switches temporal noise reduction for subsequent jobs.
func (c *Channel) SetTemporalFilter(enabled bool) {
	c.mu.Lock()
	defer c.unlock()
	if c.temporal != enabled {
		c.logger.Info("Temporal filter changed", "enabled", enabled)
	}
	c.temporal = enabled
}

// SetFlushTimeout changes the bound on the flush wait. Zero restores the default.
func (c *Channel) SetFlushTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.unlock()
	c.flushTimeout = normalizeFlushTimeout(d)
}

// SetMinInterruptGap changes the minimum time between an interrupt and the next request.
func (c *Channel) SetMinInterruptGap(d time.Duration) {
	c.mu.Lock()
	defer c.unlock()
	c.minGap = normalizeGap(d)
}

// State returns the current occupancy state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the channel.
func (c *Channel) Status() *Status {
	c.mu.Lock()
	st := &Status{
		ID:             c.id,
		State:          c.state,
		TemporalFilter: c.temporal,
		Retained:       c.chain.Retained(),
		Outstanding:    len(c.chain.Frames()),
		LastInterrupt:  c.lastInterrupt,
		LastError:      c.lastError,
		Stats:          c.stats,
	}
	if c.job != nil {
		h := c.job.Handle
		st.InFlight = &h
	}
	c.mu.Unlock()

	ps := c.pool.Stats()
	st.PoolCapacity = ps.Capacity
	st.PoolFree = ps.FreeFrames
	return st
}

// Close flushes the channel and refuses further submissions. A failed flush
// leaves the channel open so Close can be retried.
func (c *Channel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	err := c.Flush(ctx)

	c.mu.Lock()
	c.closing = false
	if err == nil {
		c.closed = true
	}
	released := c.stats.BuffersReleased
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("close channel %s: %w", c.id, err)
	}
	c.logger.Info("Channel closed", "buffers_released", released)
	return nil
}
