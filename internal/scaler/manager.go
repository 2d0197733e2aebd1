package scaler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Manager manages named scaling channels.
type Manager interface {
	// Open creates and registers a channel. Returns ErrChannelExists if open.
	Open(id string) (*Channel, error)

	// Close flushes and unregisters a channel.
	Close(ctx context.Context, id string) error

	// Get returns an open channel.
	Get(id string) (*Channel, error)

	// Submit submits a frame to a channel.
	Submit(id string, req FrameRequest) (JobHandle, error)

	// Flush flushes a channel.
	Flush(ctx context.Context, id string) error

	// List returns the status of every open channel, ordered by ID.
	List() []*Status

	// CloseAll flushes and closes every channel.
	CloseAll(ctx context.Context) error
}

// ChannelProvider builds the options for a channel ID.
type ChannelProvider func(id string) (*ChannelOptions, error)

// Configurer is called with a freshly created channel before it is registered,
// typically to attach the interrupt source to Channel.OnInterrupt.
type Configurer func(id string, ch *Channel) error

// CloseHook is called with the ID of a channel that left the manager.
type CloseHook func(id string)

// ManagerOptions configures a new Manager.
type ManagerOptions struct {
	// ChannelProvider builds channel options for an ID (required).
	ChannelProvider ChannelProvider

	// ConfigureChannel wires a new channel before registration (optional).
	ConfigureChannel Configurer

	// OnStateChange is called for every channel state transition (optional).
	OnStateChange StateChangeCallback

	// OnClose is called when a channel is unregistered, and when Open fails
	// after ChannelProvider succeeded (optional). It releases whatever the
	// provider set up for the ID. It runs with the manager locked and must
	// not call back into the Manager.
	OnClose CloseHook

	// Logger for manager operations. If nil, uses slog.Default().
	Logger *slog.Logger
}

type manager struct {
	opts     ManagerOptions
	channels map[string]*Channel
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewManager creates a channel manager.
func NewManager(opts *ManagerOptions) Manager {
	if opts == nil || opts.ChannelProvider == nil {
		panic("ManagerOptions with ChannelProvider is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &manager{
		opts:     *opts,
		channels: make(map[string]*Channel),
		logger:   logger,
	}
}

// Open creates and registers a channel.
func (m *manager) Open(id string) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.channels[id]; exists {
		return nil, NewError(ErrCodeChannelExists, "channel "+id+" already open", nil)
	}

	opts, err := m.opts.ChannelProvider(id)
	if err != nil {
		return nil, fmt.Errorf("failed to build channel options: %w", err)
	}

	chOpts := *opts
	if chOpts.Logger == nil {
		chOpts.Logger = m.logger
	}
	chOpts.OnStateChange = m.chainStateChange(opts.OnStateChange)

	ch, err := NewChannel(id, &chOpts)
	if err != nil {
		m.notifyClosed(id)
		return nil, err
	}

	if m.opts.ConfigureChannel != nil {
		if err := m.opts.ConfigureChannel(id, ch); err != nil {
			m.notifyClosed(id)
			return nil, fmt.Errorf("failed to configure channel %s: %w", id, err)
		}
	}

	m.channels[id] = ch
	m.logger.Info("Channel opened", "channel", id)
	return ch, nil
}

func (m *manager) chainStateChange(own StateChangeCallback) StateChangeCallback {
	hook := m.opts.OnStateChange
	if own == nil {
		return hook
	}
	if hook == nil {
		return own
	}
	return func(id string, oldState, newState State, err error) {
		own(id, oldState, newState, err)
		hook(id, oldState, newState, err)
	}
}

// Close flushes and unregisters a channel. A channel whose flush fails stays
// registered so it can be inspected and closed again.
func (m *manager) Close(ctx context.Context, id string) error {
	ch, err := m.Get(id)
	if err != nil {
		return err
	}

	if err := ch.Close(ctx); err != nil {
		m.logger.Warn("Failed to close channel", "channel", id, "error", err)
		return err
	}

	// The hook runs under the lock so a concurrent Open of the same ID
	// cannot have its fresh resources torn down.
	m.mu.Lock()
	if m.channels[id] == ch {
		delete(m.channels, id)
		m.notifyClosed(id)
	}
	m.mu.Unlock()

	m.logger.Info("Channel removed", "channel", id)
	return nil
}

func (m *manager) notifyClosed(id string) {
	if m.opts.OnClose != nil {
		m.opts.OnClose(id)
	}
}

// Get returns an open channel.
func (m *manager) Get(id string) (*Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, exists := m.channels[id]
	if !exists {
		return nil, NewError(ErrCodeChannelNotFound, "channel "+id+" not found", nil)
	}
	return ch, nil
}

// Submit submits a frame to a channel.
func (m *manager) Submit(id string, req FrameRequest) (JobHandle, error) {
	ch, err := m.Get(id)
	if err != nil {
		return JobHandle{}, err
	}
	return ch.Submit(req)
}

// Flush flushes a channel.
func (m *manager) Flush(ctx context.Context, id string) error {
	ch, err := m.Get(id)
	if err != nil {
		return err
	}
	return ch.Flush(ctx)
}

// List returns the status of every open channel.
func (m *manager) List() []*Status {
	m.mu.RLock()
	channels := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	statuses := make([]*Status, 0, len(channels))
	for _, ch := range channels {
		statuses = append(statuses, ch.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ID < statuses[j].ID
	})
	return statuses
}

// CloseAll flushes and closes every channel.
func (m *manager) CloseAll(ctx context.Context) error {
	m.logger.Info("Closing all channels")

	m.mu.RLock()
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.logger.Info("All channels closed")
	return nil
}
