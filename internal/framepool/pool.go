// Package framepool provides fixed-capacity allocation of frame descriptors
// and the hardware buffer objects that back them.
//
// Every allocated Frame carries an (index, generation) identity and has one
// owner. Release returns the descriptor and its buffers to the pool. Releasing
// a frame that is no longer live is refused with ErrDoubleRelease and leaves
// the free lists untouched.
package framepool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Role identifies which plane a buffer object backs.
type Role int

// Buffer roles.
const (
	RoleLuma Role = iota
	RoleChroma
	NumRoles
)

func (r Role) String() string {
	switch r {
	case RoleLuma:
		return "luma"
	case RoleChroma:
		return "chroma"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// DefaultCapacity holds Current, Previous1, Previous2 and the frame being
// staged by a submission.
const DefaultCapacity = 4

var (
	// ErrOutOfBuffers is returned when a descriptor or a buffer object cannot be allocated.
	ErrOutOfBuffers = errors.New("frame pool exhausted")
	// ErrDoubleRelease is returned when a frame that is no longer live is released or retained.
	ErrDoubleRelease = errors.New("frame already released")
)

// Buffer is one hardware-addressable buffer object.
type Buffer struct {
	Role  Role
	Index int
	Addr  uint64
}

// BufferSet holds one buffer object per role.
type BufferSet [NumRoles]*Buffer

// Ref is the ownership token of a frame.
type Ref struct {
	Index      int
	Generation uint64
}

func (r Ref) String() string {
	return fmt.Sprintf("%d#%d", r.Index, r.Generation)
}

// Frame is a frame descriptor in flight.
type Frame struct {
	Geometry
	Timestamp time.Time
	Buffers   BufferSet
	// UserData is the client token returned through completion callbacks.
	UserData any

	ref Ref
}

// Ref returns the frame's ownership token.
func (f *Frame) Ref() Ref {
	return f.ref
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Capacity    int            `json:"capacity"`
	FreeFrames  int            `json:"free_frames"`
	FreeBuffers map[string]int `json:"free_buffers"`
}

// InUse returns the number of live frame descriptors.
func (s Stats) InUse() int {
	return s.Capacity - s.FreeFrames
}

type slot struct {
	frame      *Frame
	generation uint64
}

type objectPool struct {
	objects []Buffer
	free    []int
}

func newObjectPool(role Role, capacity int) objectPool {
	op := objectPool{
		objects: make([]Buffer, capacity),
		free:    make([]int, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		op.objects[i] = Buffer{Role: role, Index: i}
		op.free = append(op.free, i)
	}
	return op
}

func (op *objectPool) alloc() *Buffer {
	if len(op.free) == 0 {
		return nil
	}
	idx := op.free[len(op.free)-1]
	op.free = op.free[:len(op.free)-1]
	return &op.objects[idx]
}

func (op *objectPool) put(b *Buffer) {
	b.Addr = 0
	op.free = append(op.free, b.Index)
}

// Pool is a fixed-capacity frame allocator. It is safe for concurrent use.
type Pool struct {
	mu        sync.Mutex
	slots     []slot
	freeSlots []int
	buffers   [NumRoles]objectPool
	logger    *slog.Logger
}

// Options configures a new Pool.
type Options struct {
	// Capacity is the number of frame descriptors. Defaults to DefaultCapacity.
	Capacity int
	// BuffersPerRole is the number of buffer objects per role. Defaults to Capacity.
	BuffersPerRole int
	// Logger for pool diagnostics. If nil, uses slog.Default().
	Logger *slog.Logger
}

// New creates a pool.
func New(opts Options) *Pool {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.BuffersPerRole <= 0 {
		opts.BuffersPerRole = opts.Capacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		slots:     make([]slot, opts.Capacity),
		freeSlots: make([]int, 0, opts.Capacity),
		logger:    logger,
	}
	for i := opts.Capacity - 1; i >= 0; i-- {
		p.freeSlots = append(p.freeSlots, i)
	}
	for r := Role(0); r < NumRoles; r++ {
		p.buffers[r] = newObjectPool(r, opts.BuffersPerRole)
	}
	return p
}

// AllocateFrame takes one descriptor and one buffer object per role.
// On failure nothing stays allocated and the error wraps ErrOutOfBuffers.
// The caller owns the frame until it calls Release.
func (p *Pool) AllocateFrame() (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.freeSlots) == 0 {
		return nil, fmt.Errorf("%w: no free frame descriptor (capacity %d)", ErrOutOfBuffers, len(p.slots))
	}

	var set BufferSet
	for r := Role(0); r < NumRoles; r++ {
		b := p.buffers[r].alloc()
		if b == nil {
			for back := Role(0); back < r; back++ {
				p.buffers[back].put(set[back])
			}
			return nil, fmt.Errorf("%w: no free %s buffer", ErrOutOfBuffers, r)
		}
		set[r] = b
	}

	idx := p.freeSlots[len(p.freeSlots)-1]
	p.freeSlots = p.freeSlots[:len(p.freeSlots)-1]

	s := &p.slots[idx]
	s.generation++
	f := &Frame{
		Buffers: set,
		ref:     Ref{Index: idx, Generation: s.generation},
	}
	s.frame = f
	return f, nil
}

// Release returns the frame and its buffers to the pool. Releasing a frame
// whose slot has moved on returns ErrDoubleRelease and changes nothing.
func (p *Pool) Release(f *Frame) error {
	if f == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.liveLocked(f) {
		p.logger.Error("Refusing release of dead frame", "frame", f.ref.String())
		return fmt.Errorf("%w: release %s", ErrDoubleRelease, f.ref)
	}

	for r := Role(0); r < NumRoles; r++ {
		if f.Buffers[r] != nil {
			p.buffers[r].put(f.Buffers[r])
			f.Buffers[r] = nil
		}
	}
	p.slots[f.ref.Index].frame = nil
	p.freeSlots = append(p.freeSlots, f.ref.Index)
	return nil
}

// Stats returns current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		Capacity:    len(p.slots),
		FreeFrames:  len(p.freeSlots),
		FreeBuffers: make(map[string]int, NumRoles),
	}
	for r := Role(0); r < NumRoles; r++ {
		st.FreeBuffers[r.String()] = len(p.buffers[r].free)
	}
	return st
}

func (p *Pool) liveLocked(f *Frame) bool {
	if f == nil || f.ref.Index < 0 || f.ref.Index >= len(p.slots) {
		return false
	}
	s := p.slots[f.ref.Index]
	return s.frame == f && s.generation == f.ref.Generation
}
