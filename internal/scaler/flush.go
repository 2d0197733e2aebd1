package scaler

import (
	"context"
	"time"
)

// flushOp is one flush waiting for the forced completion interrupt.
type flushOp struct {
	seen chan struct{} // closed by the interrupt handler
	done chan struct{} // closed once the flush is resolved
	err  error
}

func newFlushOp() *flushOp {
	return &flushOp{
		seen: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (op *flushOp) signal() {
	select {
	case <-op.seen:
	default:
		close(op.seen)
	}
}

func (op *flushOp) observed() bool {
	select {
	case <-op.seen:
		return true
	default:
		return false
	}
}

// Flush stops the engine and hands every outstanding buffer back to the
// client. With a job in flight it forces the completion interrupt and waits
// for it, bounded by the flush timeout and ctx; on expiry the channel is left
// faulted and callbacks for buffers the engine may still own are withheld.
// Flushing an idle channel is a no-op.
func (c *Channel) Flush(ctx context.Context) error {
	c.pause(func(s State) bool { return s == StateCompleted })

	c.mu.Lock()
	if c.closed {
		c.unlock()
		return ErrChannelClosed
	}

	switch c.state {
	case StateIdle, StateFlushCompleted:
		c.unlock()
		return nil

	case StateCompleted:
		c.setStateLocked(StateFlushCompleted, nil)
		c.drainLocked()
		c.cfg.DisableClients()
		c.cfg.ForceCommit()
		c.stats.Flushes++
		c.observer.Flushed(c.id, StateCompleted)
		c.setStateLocked(StateIdle, nil)
		c.unlock()
		c.logger.Debug("Flushed completed channel")
		return nil

	case StateFlushPendingInterrupt:
		// Another flush owns the wait; share its outcome.
		op := c.flush
		c.unlock()
		select {
		case <-op.done:
			return op.err
		case <-ctx.Done():
			return NewError(ErrCodeFlushTimeout, "gave up waiting for concurrent flush", ctx.Err())
		}
	}

	// Armed or faulted: the engine may still own buffers.
	from := c.state
	op := newFlushOp()
	c.flush = op
	c.setStateLocked(StateFlushPendingInterrupt, nil)
	c.cfg.DisableClients()
	c.cfg.ForceCommit()
	c.lastInterrupt = time.Time{}
	c.cfg.ForceCompletion()
	timeout := c.flushTimeout
	c.unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case <-op.seen:
	case <-timer.C:
		waitErr = context.DeadlineExceeded
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	c.mu.Lock()
	// The interrupt may have landed between the timeout and the lock.
	if op.observed() {
		waitErr = nil
	}

	if waitErr == nil {
		c.finishFlushLocked(from)
	} else {
		op.err = NewError(ErrCodeFlushTimeout, "completion interrupt not observed within "+timeout.String(), waitErr)
		c.stats.FlushTimeouts++
		c.observer.FlushTimedOut(c.id)
		c.setStateLocked(StateFaulted, op.err)
		c.logger.Error("Flush timed out, channel faulted", "timeout", timeout, "error", waitErr)
	}
	c.flush = nil
	close(op.done)
	c.unlock()
	return op.err
}

// finishFlushLocked ends a flush once the engine is known to be stopped: the
// aborted job is reported as failed and the whole history is handed back.
func (c *Channel) finishFlushLocked(from State) {
	if job := c.job; job != nil {
		c.job = nil
		c.stats.Aborted++
		c.callbacks.ScalingCompleted(job.Frame.UserData, false)
		c.observer.JobAborted(c.id, job.Handle)
	}
	c.drainLocked()
	c.stats.Flushes++
	c.observer.Flushed(c.id, from)
	c.setStateLocked(StateIdle, nil)
	c.logger.Debug("Flush complete", "from", string(from))
}

func (c *Channel) drainLocked() {
	next, drained := c.chain.Drain()
	c.chain = next
	c.retireLocked(drained)
}
