package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/memscaler/internal/framepool"
	"github.com/smazurov/memscaler/internal/hardware"
	"github.com/smazurov/memscaler/internal/scaler"
)

var channelIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// Duration is a time.Duration written as a string ("20ms") in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// EngineSpec configures the simulated engine behind a channel.
type EngineSpec struct {
	Latency          Duration `toml:"latency,omitempty" json:"latency,omitempty"`
	DropInterrupts   bool     `toml:"drop_interrupts,omitempty" json:"drop_interrupts,omitempty"`
	FailEvery        int      `toml:"fail_every,omitempty" json:"fail_every,omitempty"`
	RefuseEvery      int      `toml:"refuse_every,omitempty" json:"refuse_every,omitempty"`
	SpuriousOnAttach bool     `toml:"spurious_on_attach,omitempty" json:"spurious_on_attach,omitempty"`
}

// ChannelSpec is one [channels.<id>] table.
type ChannelSpec struct {
	ID       string `toml:"-" json:"id"`
	Disabled bool   `toml:"disabled,omitempty" json:"disabled,omitempty"`

	// Frame pool
	FrameCapacity  int `toml:"frame_capacity,omitempty" json:"frame_capacity,omitempty"`
	BuffersPerRole int `toml:"buffers_per_role,omitempty" json:"buffers_per_role,omitempty"`

	// Scheduler
	TemporalFilter  bool     `toml:"temporal_filter" json:"temporal_filter"`
	FlushTimeout    Duration `toml:"flush_timeout,omitempty" json:"flush_timeout,omitempty"`
	MinInterruptGap Duration `toml:"min_interrupt_gap,omitempty" json:"min_interrupt_gap,omitempty"`

	Engine EngineSpec `toml:"engine" json:"engine"`
}

// Validate checks a single channel definition.
func (s ChannelSpec) Validate() error {
	var errs []error
	if !channelIDPattern.MatchString(s.ID) {
		errs = append(errs, fmt.Errorf("invalid channel id %q", s.ID))
	}
	if s.FrameCapacity < 0 {
		errs = append(errs, fmt.Errorf("frame_capacity must not be negative"))
	}
	if s.FrameCapacity > 0 && s.FrameCapacity < framepool.DefaultCapacity {
		errs = append(errs, fmt.Errorf("frame_capacity must be at least %d", framepool.DefaultCapacity))
	}
	if s.BuffersPerRole < 0 {
		errs = append(errs, fmt.Errorf("buffers_per_role must not be negative"))
	}
	if s.FlushTimeout < 0 {
		errs = append(errs, fmt.Errorf("flush_timeout must not be negative"))
	}
	if s.Engine.Latency < 0 {
		errs = append(errs, fmt.Errorf("engine.latency must not be negative"))
	}
	if s.Engine.FailEvery < 0 || s.Engine.RefuseEvery < 0 {
		errs = append(errs, fmt.Errorf("engine fault intervals must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("channel %s: %w", s.ID, errors.Join(errs...))
	}
	return nil
}

// PoolOptions returns the frame pool options for the channel.
func (s ChannelSpec) PoolOptions(logger *slog.Logger) framepool.Options {
	return framepool.Options{
		Capacity:       s.FrameCapacity,
		BuffersPerRole: s.BuffersPerRole,
		Logger:         logger,
	}
}

// EngineOptions returns the simulated engine options for the channel.
func (s ChannelSpec) EngineOptions(logger *slog.Logger) hardware.Options {
	return hardware.Options{
		Latency:          time.Duration(s.Engine.Latency),
		DropInterrupts:   s.Engine.DropInterrupts,
		FailEvery:        s.Engine.FailEvery,
		RefuseEvery:      s.Engine.RefuseEvery,
		SpuriousOnAttach: s.Engine.SpuriousOnAttach,
		Logger:           logger,
	}
}

// ChannelOptions builds the scheduler options for the channel on engine.
func (s ChannelSpec) ChannelOptions(engine *hardware.Engine, callbacks scaler.Callbacks, observer scaler.Observer, logger *slog.Logger) *scaler.ChannelOptions {
	return &scaler.ChannelOptions{
		Configurator:    engine,
		Interrupt:       engine,
		Callbacks:       callbacks,
		Pool:            framepool.New(s.PoolOptions(logger)),
		TemporalFilter:  s.TemporalFilter,
		FlushTimeout:    time.Duration(s.FlushTimeout),
		MinInterruptGap: time.Duration(s.MinInterruptGap),
		Observer:        observer,
		Logger:          logger,
	}
}

// Apply pushes the live-tunable settings onto an open channel.
func (s ChannelSpec) Apply(ch *scaler.Channel) {
	ch.SetTemporalFilter(s.TemporalFilter)
	ch.SetFlushTimeout(time.Duration(s.FlushTimeout))
	ch.SetMinInterruptGap(time.Duration(s.MinInterruptGap))
}

// ChannelsConfig is the complete channels file.
type ChannelsConfig struct {
	Version  int                    `toml:"version" json:"version"`
	Channels map[string]ChannelSpec `toml:"channels" json:"channels"`
}

// Enabled returns the enabled channels sorted by ID.
func (c *ChannelsConfig) Enabled() []ChannelSpec {
	specs := make([]ChannelSpec, 0, len(c.Channels))
	for _, spec := range c.Channels {
		if !spec.Disabled {
			specs = append(specs, spec)
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// Lookup returns the channel with the given ID.
func (c *ChannelsConfig) Lookup(id string) (ChannelSpec, bool) {
	spec, ok := c.Channels[id]
	return spec, ok
}

// LoadChannels reads and validates a channels file. A missing file yields
// an empty configuration.
func LoadChannels(path string) (*ChannelsConfig, error) {
	cfg := &ChannelsConfig{
		Version:  1,
		Channels: make(map[string]ChannelSpec),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read channels config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse channels config: %w", err)
	}
	if cfg.Channels == nil {
		cfg.Channels = make(map[string]ChannelSpec)
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	var errs []error
	for id, spec := range cfg.Channels {
		spec.ID = id
		cfg.Channels[id] = spec
		if err := spec.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// SaveChannels writes a channels file.
func SaveChannels(path string, cfg *ChannelsConfig) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal channels config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write channels config: %w", err)
	}
	return nil
}
