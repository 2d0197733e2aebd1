// Package metrics provides Prometheus metrics for the scaling scheduler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/memscaler/internal/hardware"
	"github.com/smazurov/memscaler/internal/scaler"
)

const (
	namespace = "memscaler"
	subsystem = "scheduler"
)

var (
	jobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "jobs_submitted_total",
		Help:      "Jobs accepted and programmed into the engine",
	}, []string{"channel"})

	submissionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "submissions_rejected_total",
		Help:      "Submissions refused, by error code",
	}, []string{"channel", "code"})

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "jobs_completed_total",
		Help:      "Jobs ended by the completion interrupt, by result",
	}, []string{"channel", "result"})

	jobsAborted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "jobs_aborted_total",
		Help:      "Jobs cut short by a flush",
	}, []string{"channel"})

	jobLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "job_latency_seconds",
		Help:      "Time from submission to completion interrupt",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	}, []string{"channel"})

	buffersReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "buffers_released_total",
		Help:      "Buffers handed back to the client",
	}, []string{"channel"})

	spuriousInterrupts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "spurious_interrupts_total",
		Help:      "Completion interrupts with no job waiting",
	}, []string{"channel"})

	flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "flushes_total",
		Help:      "Completed flushes, by starting state",
	}, []string{"channel", "from"})

	flushTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "flush_timeouts_total",
		Help:      "Flushes that gave up waiting for the engine",
	}, []string{"channel"})

	channelState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "channel_state",
		Help:      "1 for the current state of each channel",
	}, []string{"channel", "state"})

	poolFreeFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "free_frames",
		Help:      "Free frame descriptors in the channel pool",
	}, []string{"channel"})

	poolCapacity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "capacity",
		Help:      "Frame descriptor capacity of the channel pool",
	}, []string{"channel"})

	engineOperations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "operations",
		Help:      "Operations performed by the channel's engine since it was created",
	}, []string{"channel", "op"})

	engineLineEnabled = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "line_enabled",
		Help:      "1 while the completion interrupt line is armed",
	}, []string{"channel"})

	retainedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "history",
		Name:      "retained_frames",
		Help:      "History frames held for temporal filtering",
	}, []string{"channel"})
)

var allStates = []scaler.State{
	scaler.StateIdle,
	scaler.StateArmed,
	scaler.StateCompleted,
	scaler.StateFlushPendingInterrupt,
	scaler.StateFlushCompleted,
	scaler.StateFaulted,
}

// Recorder records scheduler events. It implements scaler.Observer.
type Recorder struct{}

var _ scaler.Observer = Recorder{}

func (Recorder) JobSubmitted(channel string, _ scaler.JobHandle) {
	jobsSubmitted.WithLabelValues(channel).Inc()
}

func (Recorder) SubmitRejected(channel string, code string) {
	submissionsRejected.WithLabelValues(channel, code).Inc()
}

func (Recorder) JobCompleted(channel string, _ scaler.JobHandle, success bool, latency time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	jobsCompleted.WithLabelValues(channel, result).Inc()
	jobLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

func (Recorder) JobAborted(channel string, _ scaler.JobHandle) {
	jobsAborted.WithLabelValues(channel).Inc()
}

func (Recorder) BuffersReleased(channel string, count int) {
	buffersReleased.WithLabelValues(channel).Add(float64(count))
}

func (Recorder) SpuriousInterrupt(channel string, _ scaler.State) {
	spuriousInterrupts.WithLabelValues(channel).Inc()
}

func (Recorder) Flushed(channel string, from scaler.State) {
	flushes.WithLabelValues(channel, string(from)).Inc()
}

func (Recorder) FlushTimedOut(channel string) {
	flushTimeouts.WithLabelValues(channel).Inc()
}

func (Recorder) StateChanged(channel string, _, to scaler.State) {
	SetChannelState(channel, to)
}

// SetChannelState marks state as the current state of channel.
func SetChannelState(channel string, state scaler.State) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		channelState.WithLabelValues(channel, string(s)).Set(v)
	}
}

// SetChannelStatus updates the occupancy gauges from a status snapshot.
func SetChannelStatus(st *scaler.Status) {
	poolFreeFrames.WithLabelValues(st.ID).Set(float64(st.PoolFree))
	poolCapacity.WithLabelValues(st.ID).Set(float64(st.PoolCapacity))
	retainedFrames.WithLabelValues(st.ID).Set(float64(st.Retained))
	SetChannelState(st.ID, st.State)
}

// SetEngineStats updates the engine gauges of channel.
func SetEngineStats(channel string, st hardware.Stats) {
	engineOperations.WithLabelValues(channel, "configured").Set(float64(st.Configured))
	engineOperations.WithLabelValues(channel, "refused").Set(float64(st.Refused))
	engineOperations.WithLabelValues(channel, "commits").Set(float64(st.Commits))
	engineOperations.WithLabelValues(channel, "interrupts").Set(float64(st.Interrupts))
	engineOperations.WithLabelValues(channel, "forced").Set(float64(st.Forced))
	line := 0.0
	if st.LineEnabled {
		line = 1
	}
	engineLineEnabled.WithLabelValues(channel).Set(line)
}

// DeleteChannelMetrics removes all metrics for a channel.
func DeleteChannelMetrics(channel string) {
	labels := prometheus.Labels{"channel": channel}
	for _, vec := range []*prometheus.CounterVec{
		jobsSubmitted, submissionsRejected, jobsCompleted, jobsAborted,
		buffersReleased, spuriousInterrupts, flushes, flushTimeouts,
	} {
		vec.DeletePartialMatch(labels)
	}
	jobLatency.DeletePartialMatch(labels)
	for _, vec := range []*prometheus.GaugeVec{
		channelState, poolFreeFrames, poolCapacity, retainedFrames, engineOperations, engineLineEnabled,
	} {
		vec.DeletePartialMatch(labels)
	}
}

// Handler returns the Prometheus metrics HTTP handler.
// This collects all promauto-registered metrics automatically.
func Handler() http.Handler {
	return promhttp.Handler()
}
