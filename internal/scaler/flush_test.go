package scaler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFlushIdleIsNoop(t *testing.T) {
	ch, engine, rec, _ := newTestChannel(t, nil)

	start := time.Now()
	if err := ch.Flush(t.Context()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("idle flush blocked")
	}
	if ch.State() != StateIdle {
		t.Errorf("state = %s", ch.State())
	}
	if len(rec.completions()) != 0 || engine.forced != 0 {
		t.Error("idle flush touched the engine or the client")
	}
}

func TestFlushCompletedReleasesHistory(t *testing.T) {
	ch, engine, rec, pool := newTestChannel(t, func(o *ChannelOptions) { o.TemporalFilter = true })

	mustSubmit(t, ch, frameReq("A"))
	ch.OnInterrupt(true)
	if rec.doneCount("A") != 0 {
		t.Fatal("A released before flush")
	}

	if err := ch.Flush(t.Context()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if ch.State() != StateIdle {
		t.Errorf("state = %s, want idle", ch.State())
	}
	if rec.doneCount("A") != 1 {
		t.Error("BufferDone(A) not called by flush")
	}
	if n := len(rec.completions()); n != 1 {
		t.Errorf("flush of a completed channel called ScalingCompleted (%d calls)", n)
	}
	if engine.clientsDisabled != 1 || engine.commits != 1 {
		t.Errorf("clients disabled %d, commits %d", engine.clientsDisabled, engine.commits)
	}
	if engine.forced != 0 {
		t.Error("completion forced with no job in flight")
	}
	if pool.Stats().InUse() != 0 {
		t.Error("pool not full")
	}
}

func TestFlushArmedWaitsForInterrupt(t *testing.T) {
	ch, engine, rec, pool := newTestChannel(t, func(o *ChannelOptions) { o.TemporalFilter = true })
	engine.setAutoForce(true)

	mustSubmit(t, ch, frameReq("A"))
	ch.OnInterrupt(true)
	mustSubmit(t, ch, frameReq("B"))

	if err := ch.Flush(t.Context()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	got := rec.completions()
	if len(got) != 2 || got[1] != (completion{"B", false}) {
		t.Errorf("completions = %v, want B aborted last", got)
	}
	if rec.doneCount("A") != 1 || rec.doneCount("B") != 1 {
		t.Errorf("BufferDone calls = %v", rec.doneList())
	}
	if ch.State() != StateIdle {
		t.Errorf("state = %s", ch.State())
	}
	if engine.forced != 1 {
		t.Errorf("forced = %d, want 1", engine.forced)
	}
	if engine.enabled {
		t.Error("interrupt line left enabled")
	}
	if pool.Stats().InUse() != 0 {
		t.Error("pool not full after flush")
	}
	if ch.Status().Stats.Aborted != 1 {
		t.Error("aborted job not counted")
	}
}

func TestFlushTwiceEqualsOnce(t *testing.T) {
	ch, engine, rec, _ := newTestChannel(t, nil)
	engine.setAutoForce(true)

	mustSubmit(t, ch, frameReq("A"))
	if err := ch.Flush(t.Context()); err != nil {
		t.Fatalf("first Flush failed: %v", err)
	}
	completions, done := len(rec.completions()), len(rec.doneList())

	if err := ch.Flush(t.Context()); err != nil {
		t.Fatalf("second Flush failed: %v", err)
	}
	if len(rec.completions()) != completions || len(rec.doneList()) != done {
		t.Error("second flush produced callbacks")
	}
	if engine.forced != 1 {
		t.Errorf("forced = %d, want 1", engine.forced)
	}
}

func TestSubmitRejectedWhileFlushBlocked(t *testing.T) {
	ch, engine, rec, _ := newTestChannel(t, nil)

	mustSubmit(t, ch, frameReq("A"))

	errc := make(chan error, 1)
	go func() {
		errc <- ch.Flush(context.Background())
	}()
	waitForState(t, ch, StateFlushPendingInterrupt)

	if _, err := ch.Submit(frameReq("B")); !errors.Is(err, ErrResourceBusy) {
		t.Fatalf("expected ErrResourceBusy during flush, got %v", err)
	}

	select {
	case err := <-errc:
		t.Fatalf("flush returned before interrupt: %v", err)
	default:
	}

	ch.OnInterrupt(true)

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not return after interrupt")
	}

	got := rec.completions()
	if len(got) != 1 || got[0] != (completion{"A", false}) {
		t.Errorf("completions = %v", got)
	}
	if rec.doneCount("A") != 1 {
		t.Error("BufferDone(A) missing")
	}
	if len(engine.jobs) != 1 {
		t.Error("rejected submission reached the engine")
	}
}

func TestFlushTimeoutFaultsChannel(t *testing.T) {
	ch, _, rec, pool := newTestChannel(t, func(o *ChannelOptions) { o.FlushTimeout = 5 * time.Millisecond })

	mustSubmit(t, ch, frameReq("A"))

	err := ch.Flush(t.Context())
	if !errors.Is(err, ErrFlushTimeout) {
		t.Fatalf("expected ErrFlushTimeout, got %v", err)
	}
	if ch.State() != StateFaulted {
		t.Fatalf("state = %s, want faulted", ch.State())
	}
	if len(rec.completions()) != 0 || len(rec.doneList()) != 0 {
		t.Error("callbacks delivered for buffers the engine may own")
	}
	if _, err := ch.Submit(frameReq("B")); !errors.Is(err, ErrResourceBusy) {
		t.Errorf("expected ErrResourceBusy while faulted, got %v", err)
	}

	st := ch.Status()
	if st.Stats.FlushTimeouts != 1 || st.LastError == "" {
		t.Errorf("status = %+v", st)
	}

	// The late interrupt finishes the flush.
	ch.OnInterrupt(true)

	if ch.State() != StateIdle {
		t.Fatalf("state = %s, want idle", ch.State())
	}
	got := rec.completions()
	if len(got) != 1 || got[0] != (completion{"A", false}) {
		t.Errorf("completions = %v", got)
	}
	if rec.doneCount("A") != 1 {
		t.Error("BufferDone(A) not delivered after late interrupt")
	}
	if pool.Stats().InUse() != 0 {
		t.Error("pool not full")
	}
	mustSubmit(t, ch, frameReq("C"))
}

func TestFlushRetryFromFaulted(t *testing.T) {
	ch, engine, rec, _ := newTestChannel(t, func(o *ChannelOptions) { o.FlushTimeout = 5 * time.Millisecond })

	mustSubmit(t, ch, frameReq("A"))
	if err := ch.Flush(t.Context()); !errors.Is(err, ErrFlushTimeout) {
		t.Fatalf("expected ErrFlushTimeout, got %v", err)
	}

	engine.mu.Lock()
	engine.autoForce = true
	engine.enabled = true
	engine.mu.Unlock()
	ch.SetFlushTimeout(time.Second)

	if err := ch.Flush(t.Context()); err != nil {
		t.Fatalf("retried Flush failed: %v", err)
	}
	if ch.State() != StateIdle {
		t.Errorf("state = %s", ch.State())
	}
	if rec.doneCount("A") != 1 || len(rec.completions()) != 1 {
		t.Errorf("callbacks after retry: completions %v done %v", rec.completions(), rec.doneList())
	}
}

func TestFlushHonorsContext(t *testing.T) {
	ch, _, _, _ := newTestChannel(t, nil)
	mustSubmit(t, ch, frameReq("A"))

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Millisecond)
	defer cancel()

	err := ch.Flush(ctx)
	if !errors.Is(err, ErrFlushTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected flush timeout wrapping the context error, got %v", err)
	}
	if ch.State() != StateFaulted {
		t.Errorf("state = %s", ch.State())
	}
}

func TestConcurrentFlushesShareOutcome(t *testing.T) {
	ch, _, rec, _ := newTestChannel(t, nil)
	mustSubmit(t, ch, frameReq("A"))

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ch.Flush(context.Background())
		}(i)
	}

	waitForState(t, ch, StateFlushPendingInterrupt)
	ch.OnInterrupt(true)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("flush %d: %v", i, err)
		}
	}
	if rec.doneCount("A") != 1 || len(rec.completions()) != 1 {
		t.Error("concurrent flushes duplicated callbacks")
	}
}

func TestCloseFlushesAndRefuses(t *testing.T) {
	ch, engine, rec, pool := newTestChannel(t, func(o *ChannelOptions) { o.TemporalFilter = true })
	engine.setAutoForce(true)

	mustSubmit(t, ch, frameReq("A"))
	ch.OnInterrupt(true)
	mustSubmit(t, ch, frameReq("B"))

	if err := ch.Close(t.Context()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if rec.doneCount("A") != 1 || rec.doneCount("B") != 1 {
		t.Errorf("BufferDone calls = %v", rec.doneList())
	}
	if pool.Stats().InUse() != 0 {
		t.Error("pool not full after close")
	}

	if _, err := ch.Submit(frameReq("C")); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("expected ErrChannelClosed, got %v", err)
	}
	if err := ch.Flush(t.Context()); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("expected ErrChannelClosed from Flush, got %v", err)
	}
	if err := ch.Close(t.Context()); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestFlushThenSubmitStartsFreshHistory(t *testing.T) {
	ch, engine, _, _ := newTestChannel(t, func(o *ChannelOptions) { o.TemporalFilter = true })

	mustSubmit(t, ch, frameReq("A"))
	ch.OnInterrupt(true)
	if err := ch.Flush(t.Context()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// Geometry still inherits from the template after a flush.
	mustSubmit(t, ch, FrameRequest{UserData: "B"})
	job := engine.lastJob()
	if job.Previous1 != nil {
		t.Error("history survived flush")
	}
	if job.Frame.Input.Width != 1920 {
		t.Error("template lost on flush")
	}
}
