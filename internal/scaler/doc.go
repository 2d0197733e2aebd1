// Package scaler schedules jobs on an asynchronous memory-to-memory scaling
// engine and hands buffers back to the client once the engine is done with them.
//
// A Channel owns one engine. Its life is a small state machine:
//
//	idle/completed --Submit--> armed --interrupt--> completed
//	armed --Flush--> flush_pending_interrupt --interrupt--> idle
//	completed --Flush--> flush_completed --> idle
//	flush_pending_interrupt --timeout--> faulted --interrupt or Flush--> idle
//
// Submit validates the request, stages a frame from the pool, advances the
// temporal-filter history, programs the engine and enables the one-shot
// completion interrupt, in that order. It never waits for the engine.
//
// OnInterrupt is the interrupt entry point. It reports ScalingCompleted for the
// job and hands back, through BufferDone, the frames the temporal filter no
// longer reads. With the filter on, a frame is only handed back after the next
// job completes.
//
// Flush forces completion of an in-flight job, waits a bounded time for the
// interrupt, and hands back every outstanding buffer before it returns.
//
// Manager keeps named channels, mirroring a process pool. ConfigureChannel
// runs before a channel is registered and is where the interrupt source gets
// attached:
//
//	bank := hardware.NewBank()
//	mgr := scaler.NewManager(&scaler.ManagerOptions{
//	    ChannelProvider: func(id string) (*scaler.ChannelOptions, error) {
//	        engine := bank.Create(id, hardware.Options{})
//	        return &scaler.ChannelOptions{Configurator: engine, Interrupt: engine, Callbacks: cb}, nil
//	    },
//	    ConfigureChannel: bank.Attach,
//	})
//	ch, _ := mgr.Open("enc0")
//	defer mgr.CloseAll(context.Background())
package scaler
