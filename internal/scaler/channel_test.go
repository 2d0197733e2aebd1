package scaler

import (
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/memscaler/internal/framepool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine records what the channel asks of the hardware. Interrupts are
// delivered by the test, or by ForceCompletion when autoForce is set.
type fakeEngine struct {
	mu              sync.Mutex
	ch              *Channel
	jobs            []Job
	enables         int
	disables        int
	enabled         bool
	clientsDisabled int
	commits         int
	forced          int
	refuse          error
	autoForce       bool
}

func (f *fakeEngine) Configure(job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse != nil {
		return f.refuse
	}
	f.jobs = append(f.jobs, *job)
	return nil
}

func (f *fakeEngine) DisableClients() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clientsDisabled++
}

func (f *fakeEngine) ForceCommit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
}

func (f *fakeEngine) ForceCompletion() {
	f.mu.Lock()
	f.forced++
	deliver := f.autoForce && f.enabled
	ch := f.ch
	f.mu.Unlock()

	if deliver {
		go ch.OnInterrupt(true)
	}
}

func (f *fakeEngine) Enable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enables++
	f.enabled = true
}

func (f *fakeEngine) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disables++
	f.enabled = false
}

func (f *fakeEngine) setAutoForce(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoForce = v
}

func (f *fakeEngine) lastJob() Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[len(f.jobs)-1]
}

type completion struct {
	userData any
	success  bool
}

// recorder collects client callbacks in order.
type recorder struct {
	mu        sync.Mutex
	completed []completion
	done      []any
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		ScalingCompleted: func(userData any, success bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = append(r.completed, completion{userData, success})
		},
		BufferDone: func(userData any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.done = append(r.done, userData)
		},
	}
}

func (r *recorder) doneCount(userData any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.done {
		if d == userData {
			n++
		}
	}
	return n
}

func (r *recorder) completions() []completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]completion(nil), r.completed...)
}

func (r *recorder) doneList() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.done...)
}

func newTestChannel(t *testing.T, mutate func(*ChannelOptions)) (*Channel, *fakeEngine, *recorder, *framepool.Pool) {
	t.Helper()

	engine := &fakeEngine{}
	rec := &recorder{}
	pool := framepool.New(framepool.Options{Logger: testLogger()})
	opts := &ChannelOptions{
		Configurator:    engine,
		Interrupt:       engine,
		Callbacks:       rec.callbacks(),
		Pool:            pool,
		MinInterruptGap: -1,
		FlushTimeout:    time.Second,
		Logger:          testLogger(),
	}
	if mutate != nil {
		mutate(opts)
	}

	ch, err := NewChannel("test", opts)
	if err != nil {
		t.Fatalf("NewChannel failed: %v", err)
	}
	engine.ch = ch
	return ch, engine, rec, opts.Pool
}

func progressiveGeometry() framepool.Geometry {
	return framepool.Geometry{
		Input:  framepool.VideoInfo{Width: 1920, Height: 1080, Scan: framepool.Progressive},
		Output: framepool.VideoInfo{Width: 1280, Height: 720, Scan: framepool.Progressive},
	}
}

func interlacedGeometry(field framepool.FieldType) framepool.Geometry {
	return framepool.Geometry{
		Input:  framepool.VideoInfo{Width: 720, Height: 288, Scan: framepool.Interlaced, Field: field},
		Output: framepool.VideoInfo{Width: 720, Height: 576, Scan: framepool.Progressive},
	}
}

func frameReq(userData any) FrameRequest {
	return FrameRequest{UserData: userData, Geometry: progressiveGeometry()}
}

func mustSubmit(t *testing.T, ch *Channel, req FrameRequest) JobHandle {
	t.Helper()
	h, err := ch.Submit(req)
	if err != nil {
		t.Fatalf("Submit(%v) failed: %v", req.UserData, err)
	}
	return h
}

func waitForState(t *testing.T, ch *Channel, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ch.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for state %s, have %s", want, ch.State())
}

func TestNewChannelRequiresCollaborators(t *testing.T) {
	engine := &fakeEngine{}
	rec := &recorder{}

	tests := []struct {
		name string
		opts *ChannelOptions
	}{
		{"nil options", nil},
		{"no configurator", &ChannelOptions{Interrupt: engine, Callbacks: rec.callbacks()}},
		{"no interrupt", &ChannelOptions{Configurator: engine, Callbacks: rec.callbacks()}},
		{"no callbacks", &ChannelOptions{Configurator: engine, Interrupt: engine}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewChannel("x", tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSubmitArmsEngine(t *testing.T) {
	ch, engine, rec, _ := newTestChannel(t, nil)

	h := mustSubmit(t, ch, frameReq("A"))
	if h.Seq != 1 || h.Channel != "test" {
		t.Errorf("unexpected handle %v", h)
	}
	if ch.State() != StateArmed {
		t.Fatalf("expected armed, got %s", ch.State())
	}
	if engine.enables != 1 || !engine.enabled {
		t.Error("interrupt line not enabled")
	}
	if len(engine.jobs) != 1 {
		t.Fatalf("expected 1 configured job, got %d", len(engine.jobs))
	}
	if len(rec.completions()) != 0 {
		t.Error("ScalingCompleted called before interrupt")
	}

	st := ch.Status()
	if st.InFlight == nil || *st.InFlight != h {
		t.Errorf("InFlight = %v, want %v", st.InFlight, h)
	}
}

func TestSubmitWhileArmedIsBusy(t *testing.T) {
	ch, engine, _, pool := newTestChannel(t, nil)
	mustSubmit(t, ch, frameReq("A"))

	_, err := ch.Submit(frameReq("B"))
	if !errors.Is(err, ErrResourceBusy) {
		t.Fatalf("expected ErrResourceBusy, got %v", err)
	}
	if len(engine.jobs) != 1 {
		t.Error("busy submission reached the engine")
	}
	if got := pool.Stats().InUse(); got != 1 {
		t.Errorf("pool in use = %d, want 1", got)
	}
	if ch.Status().Stats.Rejected != 1 {
		t.Error("rejection not counted")
	}
}

func TestInterruptCompletesJob(t *testing.T) {
	ch, engine, rec, pool := newTestChannel(t, nil)
	mustSubmit(t, ch, frameReq("A"))

	ch.OnInterrupt(true)

	if ch.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", ch.State())
	}
	if engine.enabled {
		t.Error("interrupt line left enabled")
	}
	got := rec.completions()
	if len(got) != 1 || got[0] != (completion{"A", true}) {
		t.Errorf("completions = %v", got)
	}
	// Without temporal filtering nothing is kept.
	if rec.doneCount("A") != 1 {
		t.Error("BufferDone(A) not called")
	}
	if pool.Stats().InUse() != 0 {
		t.Error("frame not returned to pool")
	}
}

func TestInterruptReportsFailure(t *testing.T) {
	ch, _, rec, _ := newTestChannel(t, nil)
	mustSubmit(t, ch, frameReq("A"))

	ch.OnInterrupt(false)

	got := rec.completions()
	if len(got) != 1 || got[0].success {
		t.Errorf("completions = %v, want failure", got)
	}
	if ch.Status().Stats.Failed != 1 {
		t.Error("failure not counted")
	}
}

func TestBufferDoneWaitsForNextCompletion(t *testing.T) {
	ch, _, rec, _ := newTestChannel(t, func(o *ChannelOptions) { o.TemporalFilter = true })

	mustSubmit(t, ch, frameReq("A"))
	ch.OnInterrupt(true)
	if rec.doneCount("A") != 0 {
		t.Fatal("A released while it is still the temporal reference")
	}

	mustSubmit(t, ch, frameReq("B"))
	if rec.doneCount("A") != 0 {
		t.Fatal("A released before B's interrupt")
	}

	ch.OnInterrupt(true)
	if rec.doneCount("A") != 1 {
		t.Fatal("A not released after B's interrupt")
	}
	if rec.doneCount("B") != 0 {
		t.Fatal("B released early")
	}
}

func TestTemporalReferences(t *testing.T) {
	ch, engine, _, _ := newTestChannel(t, func(o *ChannelOptions) { o.TemporalFilter = true })

	fields := []framepool.FieldType{framepool.TopField, framepool.BottomField, framepool.TopField, framepool.BottomField}
	for i, field := range fields {
		mustSubmit(t, ch, FrameRequest{UserData: i, Geometry: interlacedGeometry(field)})
		job := engine.lastJob()

		switch i {
		case 0:
			if job.Previous1 != nil || job.Previous2 != nil {
				t.Fatal("first field has references")
			}
		case 1:
			if job.Previous1 == nil || job.Previous2 != nil {
				t.Fatal("second field must only read Previous1")
			}
		default:
			if job.Previous1 == nil || job.Previous2 == nil {
				t.Fatalf("field %d must read both references", i)
			}
			if job.Previous2.UserData != i-2 {
				t.Errorf("field %d Previous2 = %v, want %d", i, job.Previous2.UserData, i-2)
			}
		}
		ch.OnInterrupt(true)
		if r := ch.Status().Retained; r > 2 {
			t.Fatalf("retained %d history frames", r)
		}
	}
}

func TestProgressiveNeverReadsPrevious2(t *testing.T) {
	ch, engine, _, _ := newTestChannel(t, func(o *ChannelOptions) { o.TemporalFilter = true })

	for i := 0; i < 5; i++ {
		mustSubmit(t, ch, frameReq(i))
		if engine.lastJob().Previous2 != nil {
			t.Fatalf("job %d read Previous2", i)
		}
		ch.OnInterrupt(true)
	}
}

func TestFieldOverrideAlternatesInheritedGeometry(t *testing.T) {
	ch, engine, _, _ := newTestChannel(t, func(o *ChannelOptions) { o.TemporalFilter = true })

	mustSubmit(t, ch, FrameRequest{UserData: 0, Geometry: interlacedGeometry(framepool.TopField)})
	ch.OnInterrupt(true)

	mustSubmit(t, ch, FrameRequest{UserData: 1, Field: framepool.BottomField})
	job := engine.lastJob()
	if job.Frame.Input.Width != 720 || job.Frame.Input.Field != framepool.BottomField {
		t.Errorf("unexpected inherited input %+v", job.Frame.Input)
	}
}

func TestGeometryInheritance(t *testing.T) {
	ch, engine, _, _ := newTestChannel(t, nil)

	g := progressiveGeometry()
	g.Crop = framepool.Window{HStart: 10, VStart: 10, Width: 1280, Height: 720}
	mustSubmit(t, ch, FrameRequest{UserData: "A", Geometry: g})
	ch.OnInterrupt(true)

	mustSubmit(t, ch, FrameRequest{UserData: "B"})
	got := engine.lastJob().Frame.Geometry
	if got != g {
		t.Errorf("inherited geometry = %+v, want %+v", got, g)
	}
}

func TestInvalidGeometryRejectedBeforeHardware(t *testing.T) {
	ch, engine, _, pool := newTestChannel(t, nil)

	bad := progressiveGeometry()
	bad.Active = framepool.Window{HStart: 1000, Width: 1000, Height: 100}

	_, err := ch.Submit(FrameRequest{UserData: "A", Geometry: bad})
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
	if !errors.Is(err, framepool.ErrGeometry) {
		t.Error("cause not wrapped")
	}
	if ch.State() != StateIdle || len(engine.jobs) != 0 || pool.Stats().InUse() != 0 {
		t.Error("rejected submission had side effects")
	}

	// Nothing to inherit from yet.
	if _, err := ch.Submit(FrameRequest{UserData: "B"}); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry for empty first request, got %v", err)
	}
}

func TestOutOfBuffers(t *testing.T) {
	pool := framepool.New(framepool.Options{Capacity: 2, Logger: testLogger()})
	ch, engine, _, _ := newTestChannel(t, func(o *ChannelOptions) { o.Pool = pool })

	var hogs []*framepool.Frame
	for i := 0; i < 2; i++ {
		f, err := pool.AllocateFrame()
		if err != nil {
			t.Fatalf("AllocateFrame failed: %v", err)
		}
		hogs = append(hogs, f)
	}

	_, err := ch.Submit(frameReq("A"))
	if !errors.Is(err, ErrOutOfBuffers) {
		t.Fatalf("expected ErrOutOfBuffers, got %v", err)
	}
	if !errors.Is(err, framepool.ErrOutOfBuffers) {
		t.Error("pool error not wrapped")
	}
	if ch.State() != StateIdle || len(engine.jobs) != 0 {
		t.Error("state changed on allocation failure")
	}

	if err := pool.Release(hogs[0]); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	mustSubmit(t, ch, frameReq("A"))
}

func TestConfigureFailureLeavesHistory(t *testing.T) {
	ch, engine, rec, pool := newTestChannel(t, func(o *ChannelOptions) { o.TemporalFilter = true })

	mustSubmit(t, ch, frameReq("A"))
	ch.OnInterrupt(true)
	before := ch.Status()

	engine.refuse = errors.New("register write failed")
	_, err := ch.Submit(frameReq("B"))
	if !errors.Is(err, ErrHardware) {
		t.Fatalf("expected ErrHardware, got %v", err)
	}

	after := ch.Status()
	if after.State != StateCompleted || after.Outstanding != before.Outstanding {
		t.Errorf("history or state changed: before %+v after %+v", before, after)
	}
	if pool.Stats().InUse() != 1 {
		t.Error("staged frame not returned")
	}
	if len(rec.doneList()) != 0 {
		t.Error("BufferDone called on refused job")
	}

	engine.refuse = nil
	mustSubmit(t, ch, frameReq("C"))
	if engine.lastJob().Previous1 == nil || engine.lastJob().Previous1.UserData != "A" {
		t.Error("A is no longer the reference after a refused job")
	}
}

func TestSpuriousInterruptIgnored(t *testing.T) {
	ch, _, rec, _ := newTestChannel(t, nil)

	ch.OnInterrupt(true)
	if ch.State() != StateIdle {
		t.Fatalf("state changed to %s", ch.State())
	}

	mustSubmit(t, ch, frameReq("A"))
	ch.OnInterrupt(true)
	ch.OnInterrupt(true)

	if ch.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", ch.State())
	}
	if n := len(rec.completions()); n != 1 {
		t.Errorf("ScalingCompleted called %d times", n)
	}
	if ch.Status().Stats.SpuriousInterrupts != 2 {
		t.Errorf("spurious = %d, want 2", ch.Status().Stats.SpuriousInterrupts)
	}
}

func TestMinInterruptGap(t *testing.T) {
	gap := 20 * time.Millisecond
	ch, _, _, _ := newTestChannel(t, func(o *ChannelOptions) { o.MinInterruptGap = gap })

	mustSubmit(t, ch, frameReq("A"))
	ch.OnInterrupt(true)

	start := time.Now()
	mustSubmit(t, ch, frameReq("B"))
	if elapsed := time.Since(start); elapsed < gap/2 {
		t.Errorf("second submission after %v, expected to wait about %v", elapsed, gap)
	}
}

func TestMinInterruptGapBound(t *testing.T) {
	gap := 20 * time.Millisecond
	ch, _, _, _ := newTestChannel(t, func(o *ChannelOptions) { o.MinInterruptGap = gap })

	mustSubmit(t, ch, frameReq("A"))
	ch.OnInterrupt(true)

	// Once the gap has passed, Submit does not wait at all.
	time.Sleep(gap)
	start := time.Now()
	mustSubmit(t, ch, frameReq("B"))
	if elapsed := time.Since(start); elapsed >= gap/2 {
		t.Errorf("submission after an elapsed gap took %v", elapsed)
	}

	// A busy channel is rejected immediately, not throttled.
	start = time.Now()
	if _, err := ch.Submit(frameReq("C")); !errors.Is(err, ErrResourceBusy) {
		t.Fatalf("expected ErrResourceBusy, got %v", err)
	}
	if elapsed := time.Since(start); elapsed >= gap/2 {
		t.Errorf("rejected submission took %v", elapsed)
	}

	// The default gap is the only sleep and stays in the microsecond range.
	def, _, _, _ := newTestChannel(t, func(o *ChannelOptions) { o.MinInterruptGap = 0 })
	mustSubmit(t, def, frameReq("D"))
	def.OnInterrupt(true)
	start = time.Now()
	mustSubmit(t, def, frameReq("E"))
	if elapsed := time.Since(start); elapsed >= 5*time.Millisecond {
		t.Errorf("submission with the default gap took %v", elapsed)
	}
}

func TestStateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions []State

	ch, _, _, _ := newTestChannel(t, func(o *ChannelOptions) {
		o.OnStateChange = func(id string, oldState, newState State, err error) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, newState)
		}
	})

	mustSubmit(t, ch, frameReq("A"))
	ch.OnInterrupt(true)

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateArmed, StateCompleted}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

// Any interleaving of submissions and interrupts keeps the history bounded
// and hands every buffer back exactly once.
func TestRandomSequenceReleasesEveryBufferOnce(t *testing.T) {
	ch, engine, rec, pool := newTestChannel(t, nil)
	rng := rand.New(rand.NewPCG(7, 11))

	submitted := 0
	fields := [2]framepool.FieldType{framepool.TopField, framepool.BottomField}

	for i := 0; i < 500; i++ {
		if rng.IntN(10) == 0 {
			ch.SetTemporalFilter(rng.IntN(2) == 0)
		}

		if ch.State() == StateArmed {
			ch.OnInterrupt(rng.IntN(8) != 0)
		} else {
			g := progressiveGeometry()
			if rng.IntN(2) == 0 {
				g = interlacedGeometry(fields[rng.IntN(2)])
			}
			mustSubmit(t, ch, FrameRequest{UserData: submitted, Geometry: g})
			submitted++
		}

		st := ch.Status()
		if st.Retained > 2 {
			t.Fatalf("step %d: retained %d history frames", i, st.Retained)
		}
		if st.PoolFree < 0 {
			t.Fatalf("step %d: pool over-committed", i)
		}
	}

	engine.setAutoForce(true)
	if err := ch.Close(t.Context()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for ud := 0; ud < submitted; ud++ {
		if n := rec.doneCount(ud); n != 1 {
			t.Errorf("BufferDone(%d) called %d times", ud, n)
		}
	}
	if n := len(rec.completions()); n != submitted {
		t.Errorf("ScalingCompleted called %d times for %d submissions", n, submitted)
	}
	if st := pool.Stats(); st.InUse() != 0 {
		t.Errorf("pool not full after close: %+v", st)
	}
}
