package hardware

import (
	"fmt"
	"sync"

	"github.com/smazurov/memscaler/internal/scaler"
)

// Bank holds one simulated engine per channel.
type Bank struct {
	mu      sync.Mutex
	engines map[string]*Engine
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{engines: make(map[string]*Engine)}
}

// Create builds the engine for id, stopping any engine it replaces.
func (b *Bank) Create(id string, opts Options) *Engine {
	e := NewEngine(opts)

	b.mu.Lock()
	old := b.engines[id]
	b.engines[id] = e
	b.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	return e
}

// Get returns the engine of id.
func (b *Bank) Get(id string) (*Engine, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.engines[id]
	return e, ok
}

// Attach routes the interrupt of id's engine to ch. It has the
// scaler.Configurer signature.
func (b *Bank) Attach(id string, ch *scaler.Channel) error {
	e, ok := b.Get(id)
	if !ok {
		return fmt.Errorf("no engine for channel %s", id)
	}
	e.Attach(ch.OnInterrupt)
	return nil
}

// Remove stops and forgets the engine of id. It has the scaler.CloseHook
// signature.
func (b *Bank) Remove(id string) {
	b.mu.Lock()
	e := b.engines[id]
	delete(b.engines, id)
	b.mu.Unlock()

	if e != nil {
		e.Stop()
	}
}

// Stats returns the counters of every engine, keyed by channel.
func (b *Bank) Stats() map[string]Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Stats, len(b.engines))
	for id, e := range b.engines {
		out[id] = e.Stats()
	}
	return out
}

// StopAll stops every engine.
func (b *Bank) StopAll() {
	b.mu.Lock()
	engines := make([]*Engine, 0, len(b.engines))
	for _, e := range b.engines {
		engines = append(engines, e)
	}
	b.mu.Unlock()

	for _, e := range engines {
		e.Stop()
	}
}
