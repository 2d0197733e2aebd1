package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/memscaler/internal/config"
	"github.com/smazurov/memscaler/internal/framepool"
	"github.com/smazurov/memscaler/internal/hardware"
	"github.com/smazurov/memscaler/internal/logging"
	"github.com/smazurov/memscaler/internal/metrics"
	"github.com/smazurov/memscaler/internal/scaler"
)

// ErrBufferMismatch is returned when a simulated frame did not get exactly one BufferDone.
var ErrBufferMismatch = errors.New("buffer done mismatch")

// SimulationConfig describes one simulation run.
type SimulationConfig struct {
	Channels       int
	Frames         int
	Interlaced     bool
	TemporalFilter bool
	Latency        time.Duration
	FlushTimeout   time.Duration
	// FlushAfter flushes every channel after that many frames. Zero never flushes mid-run.
	FlushAfter     int
	DropInterrupts bool
	FailEvery      int
}

// ChannelSummary is the outcome of one simulated channel.
type ChannelSummary struct {
	ID            string
	Submitted     int
	Completed     int
	Failed        int
	BuffersDone   int
	Missing       int
	Duplicates    int
	Spurious      uint64
	Flushes       uint64
	FlushTimeouts uint64
	Err           error
}

// OK reports whether every accepted frame got exactly one BufferDone.
func (s ChannelSummary) OK() bool {
	return s.Missing == 0 && s.Duplicates == 0
}

// tracker records the client callbacks of one channel.
type tracker struct {
	mu        sync.Mutex
	done      map[int]int
	completed int
	failed    int
	scaled    chan struct{}
}

func newTracker(frames int) *tracker {
	return &tracker{done: make(map[int]int), scaled: make(chan struct{}, frames+1)}
}

func (t *tracker) callbacks() scaler.Callbacks {
	return scaler.Callbacks{
		ScalingCompleted: func(_ any, success bool) {
			t.mu.Lock()
			if success {
				t.completed++
			} else {
				t.failed++
			}
			t.mu.Unlock()
			select {
			case t.scaled <- struct{}{}:
			default:
			}
		},
		BufferDone: func(userData any) {
			frame, ok := userData.(int)
			if !ok {
				return
			}
			t.mu.Lock()
			t.done[frame]++
			t.mu.Unlock()
		},
	}
}

// CreateSimulateCmd creates the simulate command.
func CreateSimulateCmd() *cobra.Command {
	cfg := SimulationConfig{}
	var logJSON bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive simulated scaling channels",
		Long: `Runs frames through one or more scaling channels backed by the simulated engine ` +
			`and checks that every submitted buffer is handed back exactly once.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loggingConfig := logging.Config{Level: logLevel, Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("simulate")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summaries, err := RunSimulation(ctx, cfg, logger)
			PrintSummary(cmd.OutOrStdout(), summaries)
			return err
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Channels, "channels", 1, "Number of channels to drive concurrently")
	flags.IntVar(&cfg.Frames, "frames", 100, "Frames per channel")
	flags.BoolVar(&cfg.Interlaced, "interlaced", false, "Submit alternating top and bottom fields")
	flags.BoolVar(&cfg.TemporalFilter, "tnr", true, "Enable temporal noise reduction")
	flags.DurationVar(&cfg.Latency, "latency", hardware.DefaultLatency, "Simulated scaling latency per frame")
	flags.DurationVar(&cfg.FlushTimeout, "flush-timeout", scaler.DefaultFlushTimeout, "Bound on each flush")
	flags.IntVar(&cfg.FlushAfter, "flush-after", 0, "Flush every N frames (0 disables)")
	flags.BoolVar(&cfg.DropInterrupts, "drop-interrupts", false, "Never raise the completion interrupt")
	flags.IntVar(&cfg.FailEvery, "fail-every", 0, "Report every Nth job as failed (0 disables)")
	flags.BoolVar(&logJSON, "log-json", false, "Log in JSON")
	flags.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	return cmd
}

// RunSimulation drives cfg.Channels channels concurrently and closes them.
// It returns ErrBufferMismatch if any frame was not released exactly once.
func RunSimulation(ctx context.Context, cfg SimulationConfig, logger *slog.Logger) ([]ChannelSummary, error) {
	if cfg.Channels <= 0 || cfg.Frames <= 0 {
		return nil, fmt.Errorf("channels and frames must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	bank := hardware.NewBank()
	defer bank.StopAll()

	trackers := make(map[string]*tracker, cfg.Channels)
	var trackersMu sync.Mutex

	manager := scaler.NewManager(&scaler.ManagerOptions{
		ChannelProvider: func(id string) (*scaler.ChannelOptions, error) {
			spec := config.ChannelSpec{
				ID:             id,
				TemporalFilter: cfg.TemporalFilter,
				FlushTimeout:   config.Duration(cfg.FlushTimeout),
				Engine: config.EngineSpec{
					Latency:        config.Duration(cfg.Latency),
					DropInterrupts: cfg.DropInterrupts,
					FailEvery:      cfg.FailEvery,
				},
			}
			if err := spec.Validate(); err != nil {
				return nil, err
			}
			t := newTracker(cfg.Frames)
			trackersMu.Lock()
			trackers[id] = t
			trackersMu.Unlock()

			engine := bank.Create(id, spec.EngineOptions(logger))
			return spec.ChannelOptions(engine, t.callbacks(), metrics.Recorder{}, logger), nil
		},
		ConfigureChannel: bank.Attach,
		OnClose:          bank.Remove,
		Logger:           logger,
	})

	summaries := make([]ChannelSummary, cfg.Channels)
	g, gctx := errgroup.WithContext(ctx)
	for i := range cfg.Channels {
		id := fmt.Sprintf("sim%d", i)
		g.Go(func() error {
			ch, err := manager.Open(id)
			if err != nil {
				return err
			}
			trackersMu.Lock()
			t := trackers[id]
			trackersMu.Unlock()

			summaries[i] = driveChannel(gctx, manager, ch, t, cfg, logger.With("channel", id))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, s := range summaries {
		if !s.OK() {
			return summaries, ErrBufferMismatch
		}
	}
	return summaries, nil
}

func driveChannel(ctx context.Context, manager scaler.Manager, ch *scaler.Channel, t *tracker, cfg SimulationConfig, logger *slog.Logger) ChannelSummary {
	summary := ChannelSummary{ID: ch.ID()}
	// Long enough for the engine, short enough to notice a lost interrupt.
	wait := 10*cfg.Latency + 100*time.Millisecond

	accepted := 0
	for frame := range cfg.Frames {
		if ctx.Err() != nil {
			break
		}
		if _, err := ch.Submit(frameRequest(frame, cfg.Interlaced)); err != nil {
			summary.Err = err
			logger.Warn("Submit failed", "frame", frame, "error", err)
			break
		}
		accepted++

		select {
		case <-t.scaled:
		case <-ctx.Done():
		case <-time.After(wait):
			logger.Warn("Completion interrupt not seen, flushing", "frame", frame)
		}

		if (cfg.FlushAfter > 0 && (frame+1)%cfg.FlushAfter == 0) || ch.State() == scaler.StateArmed {
			if err := ch.Flush(ctx); err != nil {
				summary.Err = err
				logger.Warn("Flush failed", "frame", frame, "error", err)
				break
			}
			// An aborted job reports its completion too.
			for len(t.scaled) > 0 {
				<-t.scaled
			}
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := manager.Close(closeCtx, ch.ID()); err != nil && summary.Err == nil {
		summary.Err = err
	}

	st := ch.Status()
	summary.Submitted = accepted
	summary.Spurious = st.Stats.SpuriousInterrupts
	summary.Flushes = st.Stats.Flushes
	summary.FlushTimeouts = st.Stats.FlushTimeouts

	t.mu.Lock()
	defer t.mu.Unlock()
	summary.Completed = t.completed
	summary.Failed = t.failed
	for frame := range accepted {
		switch n := t.done[frame]; {
		case n == 0:
			summary.Missing++
		case n > 1:
			summary.Duplicates++
		}
		summary.BuffersDone += t.done[frame]
	}
	return summary
}

// frameRequest builds frame n of a 1080 to 720 stream. Only the first frame
// carries geometry; later frames inherit it.
func frameRequest(n int, interlaced bool) scaler.FrameRequest {
	base := uint64(n) << 24
	req := scaler.FrameRequest{
		UserData:    n,
		Source:      scaler.Planes{Luma: base, Chroma: base + 0x200000},
		Destination: scaler.Planes{Luma: base + 0x800000, Chroma: base + 0xa00000},
	}
	if interlaced {
		req.Field = framepool.TopField
		if n%2 == 1 {
			req.Field = framepool.BottomField
		}
	}
	if n > 0 {
		return req
	}

	scan := framepool.Progressive
	if interlaced {
		scan = framepool.Interlaced
	}
	req.Geometry = framepool.Geometry{
		Input: framepool.VideoInfo{
			Width: 1920, Height: 1080, Scan: scan, Field: req.Field,
			ColorSpace: framepool.ColorSpaceBT709, Sampling: framepool.Sampling420,
		},
		Output: framepool.VideoInfo{
			Width: 1280, Height: 720, Scan: framepool.Progressive,
			ColorSpace: framepool.ColorSpaceBT709, Sampling: framepool.Sampling420,
		},
	}
	return req
}

// PrintSummary writes one line per channel.
func PrintSummary(w io.Writer, summaries []ChannelSummary) {
	sorted := append([]ChannelSummary(nil), summaries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	fmt.Fprintf(w, "%-8s %9s %9s %6s %11s %7s %5s %8s %7s %8s  %s\n",
		"CHANNEL", "SUBMITTED", "COMPLETED", "FAILED", "BUFFERDONE", "MISSING", "DUPS", "SPURIOUS", "FLUSHES", "TIMEOUTS", "RESULT")
	for _, s := range sorted {
		result := "ok"
		if !s.OK() {
			result = "MISMATCH"
		}
		if s.Err != nil {
			result += " (" + s.Err.Error() + ")"
		}
		fmt.Fprintf(w, "%-8s %9d %9d %6d %11d %7d %5d %8d %7d %8d  %s\n",
			s.ID, s.Submitted, s.Completed, s.Failed, s.BuffersDone, s.Missing, s.Duplicates,
			s.Spurious, s.Flushes, s.FlushTimeouts, result)
	}
}
