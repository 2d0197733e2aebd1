// Package hardware provides a software model of the memory-to-memory scaling
// engine. It accepts programmed jobs, raises the one-shot completion interrupt
// after a configurable latency and can be told to misbehave.
package hardware

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/memscaler/internal/framepool"
	"github.com/smazurov/memscaler/internal/scaler"
)

// DefaultLatency is the time the engine takes to scale one frame.
const DefaultLatency = 500 * time.Microsecond

// ErrRefused is returned by Configure when a job is refused by fault injection.
var ErrRefused = errors.New("engine refused configuration")

// InterruptHandler receives the completion interrupt.
type InterruptHandler func(success bool)

// Options configures a simulated engine.
type Options struct {
	// Latency from interrupt enable to completion. Defaults to DefaultLatency.
	Latency time.Duration
	// DropInterrupts makes the engine never raise the completion interrupt,
	// not even when completion is forced.
	DropInterrupts bool
	// FailEvery reports every Nth job as failed. Zero disables.
	FailEvery int
	// RefuseEvery refuses every Nth configuration. Zero disables.
	RefuseEvery int
	// SpuriousOnAttach raises one interrupt edge when the handler is attached.
	SpuriousOnAttach bool
	// Logger for engine diagnostics. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Record is what the engine was programmed with for one job.
type Record struct {
	Handle         scaler.JobHandle
	Input          framepool.VideoInfo
	Output         framepool.VideoInfo
	Crop           framepool.Window
	Active         framepool.Window
	TemporalFilter bool
	Previous1      *framepool.Ref
	Previous2      *framepool.Ref
	Source         scaler.Planes
	Destination    scaler.Planes
}

// Stats are engine counters.
type Stats struct {
	Configured     uint64 `json:"configured"`
	Refused        uint64 `json:"refused"`
	Commits        uint64 `json:"commits"`
	Interrupts     uint64 `json:"interrupts"`
	Forced         uint64 `json:"forced"`
	ClientsEnabled bool   `json:"clients_enabled"`
	LineEnabled    bool   `json:"line_enabled"`
}

// Engine is a simulated scaling engine. It implements scaler.Configurator and
// scaler.InterruptLine. The handler is always called from a goroutine of the
// engine's own, never from inside one of the interface methods.
type Engine struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	handler InterruptHandler
	enabled bool
	raised  bool
	// gen identifies the current enable; an edge for an older one is dropped.
	gen     uint64
	timer   *time.Timer
	last    *Record
	stats   Stats
	configs uint64
}

// NewEngine creates a simulated engine.
func NewEngine(opts Options) *Engine {
	if opts.Latency <= 0 {
		opts.Latency = DefaultLatency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{opts: opts, logger: logger}
}

// Attach sets the interrupt handler.
func (e *Engine) Attach(h InterruptHandler) {
	e.mu.Lock()
	e.handler = h
	spurious := e.opts.SpuriousOnAttach
	e.mu.Unlock()

	if spurious && h != nil {
		e.logger.Debug("Raising edge on attach")
		h(true)
	}
}

// Configure programs and commits one job.
func (e *Engine) Configure(job *scaler.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.configs++
	if e.opts.RefuseEvery > 0 && e.configs%uint64(e.opts.RefuseEvery) == 0 {
		e.stats.Refused++
		return ErrRefused
	}

	rec := &Record{
		Handle:         job.Handle,
		Input:          job.Frame.Input,
		Output:         job.Frame.Output,
		Crop:           job.Frame.CropOrFull(),
		Active:         job.Frame.Active,
		TemporalFilter: job.TemporalFilter,
		Source:         job.Source,
		Destination:    job.Destination,
	}
	if job.Previous1 != nil {
		ref := job.Previous1.Ref()
		rec.Previous1 = &ref
	}
	if job.Previous2 != nil {
		ref := job.Previous2.Ref()
		rec.Previous2 = &ref
	}

	e.last = rec
	e.stats.Configured++
	e.stats.Commits++
	e.stats.ClientsEnabled = true
	return nil
}

// DisableClients stops the memory read and write clients.
func (e *Engine) DisableClients() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.ClientsEnabled = false
}

// ForceCommit applies pending register state.
func (e *Engine) ForceCommit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Commits++
}

// ForceCompletion raises the completion interrupt now if the line is enabled.
func (e *Engine) ForceCompletion() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Forced++
	if !e.enabled || e.raised || e.opts.DropInterrupts {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	gen := e.gen
	go e.raise(gen, false)
}

// Enable arms the one-shot completion interrupt for the programmed job.
func (e *Engine) Enable() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.enabled = true
	e.raised = false
	e.gen++
	if e.opts.DropInterrupts {
		return
	}
	gen := e.gen
	e.timer = time.AfterFunc(e.opts.Latency, func() {
		e.raise(gen, true)
	})
}

// Disable masks the interrupt line.
func (e *Engine) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.enabled = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// Stop cancels any pending interrupt.
func (e *Engine) Stop() {
	e.Disable()
}

func (e *Engine) raise(gen uint64, natural bool) {
	e.mu.Lock()
	// One edge per enable.
	if !e.enabled || e.raised || gen != e.gen || e.handler == nil {
		e.mu.Unlock()
		return
	}
	e.raised = true
	e.stats.Interrupts++
	success := true
	if natural && e.opts.FailEvery > 0 && e.stats.Interrupts%uint64(e.opts.FailEvery) == 0 {
		success = false
	}
	h := e.handler
	e.mu.Unlock()

	h(success)
}

// Last returns the most recently programmed job.
func (e *Engine) Last() *Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	rec := *e.last
	return &rec
}

// Stats returns engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	st.LineEnabled = e.enabled
	return st
}
