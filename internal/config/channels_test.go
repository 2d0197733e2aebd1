package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/memscaler/internal/framepool"
	"github.com/smazurov/memscaler/internal/hardware"
	"github.com/smazurov/memscaler/internal/scaler"
)

func TestLoadChannels(t *testing.T) {
	path := writeTOML(t, `
version = 1

[channels.vic1]
temporal_filter = false
disabled = true

[channels.vic0]
frame_capacity = 6
buffers_per_role = 8
temporal_filter = true
flush_timeout = "40ms"
min_interrupt_gap = "-1ns"

[channels.vic0.engine]
latency = "2ms"
fail_every = 10
spurious_on_attach = true
`)

	cfg, err := LoadChannels(path)
	if err != nil {
		t.Fatalf("LoadChannels failed: %v", err)
	}

	enabled := cfg.Enabled()
	if len(enabled) != 1 || enabled[0].ID != "vic0" {
		t.Fatalf("enabled = %+v", enabled)
	}
	spec := enabled[0]
	if spec.FrameCapacity != 6 || spec.BuffersPerRole != 8 || !spec.TemporalFilter {
		t.Errorf("spec = %+v", spec)
	}
	if time.Duration(spec.FlushTimeout) != 40*time.Millisecond || spec.MinInterruptGap >= 0 {
		t.Errorf("durations = %v / %v", spec.FlushTimeout, spec.MinInterruptGap)
	}

	eng := spec.EngineOptions(nil)
	if eng.Latency != 2*time.Millisecond || eng.FailEvery != 10 || !eng.SpuriousOnAttach {
		t.Errorf("engine options = %+v", eng)
	}
	pool := spec.PoolOptions(nil)
	if pool.Capacity != 6 || pool.BuffersPerRole != 8 {
		t.Errorf("pool options = %+v", pool)
	}

	if _, ok := cfg.Lookup("vic1"); !ok {
		t.Error("disabled channel should still be known")
	}
}

func TestLoadChannelsMissingFile(t *testing.T) {
	cfg, err := LoadChannels(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadChannels failed: %v", err)
	}
	if cfg.Version != 1 || len(cfg.Channels) != 0 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadChannelsValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad id", "[channels.\"Vic 0\"]\n", "invalid channel id"},
		{"small pool", "[channels.vic0]\nframe_capacity = 2\n", "frame_capacity must be at least"},
		{"negative timeout", "[channels.vic0]\nflush_timeout = \"-5ms\"\n", "flush_timeout"},
		{"negative fault", "[channels.vic0.engine]\nfail_every = -1\n", "fault intervals"},
		{"bad duration", "[channels.vic0]\nflush_timeout = \"soon\"\n", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadChannels(writeTOML(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestSaveChannelsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.toml")
	cfg := &ChannelsConfig{
		Version: 1,
		Channels: map[string]ChannelSpec{
			"vic0": {
				FrameCapacity:  framepool.DefaultCapacity,
				TemporalFilter: true,
				FlushTimeout:   Duration(20 * time.Millisecond),
				Engine:         EngineSpec{DropInterrupts: true},
			},
		},
	}
	if err := SaveChannels(path, cfg); err != nil {
		t.Fatalf("SaveChannels failed: %v", err)
	}

	loaded, err := LoadChannels(path)
	if err != nil {
		t.Fatalf("LoadChannels failed: %v", err)
	}
	spec, ok := loaded.Lookup("vic0")
	if !ok || spec.ID != "vic0" || !spec.Engine.DropInterrupts || time.Duration(spec.FlushTimeout) != 20*time.Millisecond {
		t.Errorf("loaded spec = %+v", spec)
	}
}

func TestChannelSpecChannelOptions(t *testing.T) {
	spec := ChannelSpec{
		ID:              "vic0",
		FrameCapacity:   6,
		TemporalFilter:  true,
		FlushTimeout:    Duration(30 * time.Millisecond),
		MinInterruptGap: Duration(-1),
	}
	engine := hardware.NewEngine(spec.EngineOptions(nil))

	opts := spec.ChannelOptions(engine, scaler.Callbacks{
		ScalingCompleted: func(any, bool) {},
		BufferDone:       func(any) {},
	}, nil, nil)

	if opts.Configurator != engine || opts.Interrupt != engine {
		t.Error("engine not wired as configurator and interrupt line")
	}
	if opts.Pool == nil || opts.Pool.Stats().Capacity != 6 {
		t.Errorf("pool = %+v", opts.Pool)
	}
	if !opts.TemporalFilter || opts.FlushTimeout != 30*time.Millisecond || opts.MinInterruptGap >= 0 {
		t.Errorf("options = %+v", opts)
	}

	ch, err := scaler.NewChannel(spec.ID, opts)
	if err != nil {
		t.Fatalf("NewChannel failed: %v", err)
	}
	if st := ch.Status(); st.PoolCapacity != 6 || !st.TemporalFilter {
		t.Errorf("status = %+v", st)
	}

	spec.TemporalFilter = false
	spec.Apply(ch)
	if ch.Status().TemporalFilter {
		t.Error("Apply did not switch temporal filter off")
	}
}
