package scaler

import "time"

// Observer receives scheduling events. Methods are called with the channel
// lock held and must return quickly.
type Observer interface {
	JobSubmitted(channel string, handle JobHandle)
	SubmitRejected(channel string, code string)
	JobCompleted(channel string, handle JobHandle, success bool, latency time.Duration)
	JobAborted(channel string, handle JobHandle)
	BuffersReleased(channel string, count int)
	SpuriousInterrupt(channel string, state State)
	Flushed(channel string, from State)
	FlushTimedOut(channel string)
	StateChanged(channel string, from, to State)
}

// NopObserver implements Observer with no-ops. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) JobSubmitted(string, JobHandle)                       {}
func (NopObserver) SubmitRejected(string, string)                        {}
func (NopObserver) JobCompleted(string, JobHandle, bool, time.Duration) {}
func (NopObserver) JobAborted(string, JobHandle)                         {}
func (NopObserver) BuffersReleased(string, int)                          {}
func (NopObserver) SpuriousInterrupt(string, State)                      {}
func (NopObserver) Flushed(string, State)                                {}
func (NopObserver) FlushTimedOut(string)                                 {}
func (NopObserver) StateChanged(string, State, State)                    {}

// MultiObserver fans events out to several observers.
type MultiObserver []Observer

func (m MultiObserver) JobSubmitted(channel string, handle JobHandle) {
	for _, o := range m {
		o.JobSubmitted(channel, handle)
	}
}

func (m MultiObserver) SubmitRejected(channel string, code string) {
	for _, o := range m {
		o.SubmitRejected(channel, code)
	}
}

func (m MultiObserver) JobCompleted(channel string, handle JobHandle, success bool, latency time.Duration) {
	for _, o := range m {
		o.JobCompleted(channel, handle, success, latency)
	}
}

func (m MultiObserver) JobAborted(channel string, handle JobHandle) {
	for _, o := range m {
		o.JobAborted(channel, handle)
	}
}

func (m MultiObserver) BuffersReleased(channel string, count int) {
	for _, o := range m {
		o.BuffersReleased(channel, count)
	}
}

func (m MultiObserver) SpuriousInterrupt(channel string, state State) {
	for _, o := range m {
		o.SpuriousInterrupt(channel, state)
	}
}

func (m MultiObserver) Flushed(channel string, from State) {
	for _, o := range m {
		o.Flushed(channel, from)
	}
}

func (m MultiObserver) FlushTimedOut(channel string) {
	for _, o := range m {
		o.FlushTimedOut(channel)
	}
}

func (m MultiObserver) StateChanged(channel string, from, to State) {
	for _, o := range m {
		o.StateChanged(channel, from, to)
	}
}
