// Package logging sets up memscaler's slog loggers: one logger per module,
// each with its own runtime-adjustable level, writing to every sink the host
// offers.
//
// # Sinks
//
//	stdout           text or JSON, when stdout is usable
//	systemd journal  when the journal socket is reachable
//	ring buffer      always; backs /api/logs and the log SSE stream
//
// With more than one sink a record is fanned out to all of them; a failing
// sink does not stop the others.
//
// # Loggers
//
//	logging.Initialize(cfg)
//	logger := logging.GetLogger("scaler").With("channel", "vic0")
//	logger.Warn("Flush timed out", "job", "vic0/42", "timeout", 20*time.Millisecond)
//
// A top-level "channel" attribute is promoted to a field of its own in the
// ring buffer and the journal, so the log API and journalctl can select one
// channel. "job", "frame", "state" and "code" get fixed journal fields as well.
//
// Levels change in place after a config reload:
//
//	logging.ApplyLevels(cfg.Logging)
//	logging.SetModuleLevel("scaler", "debug")
//
// # Journal queries
//
//	journalctl -t memscaler -f
//	journalctl -t memscaler -p warning MODULE=scaler
//	journalctl -t memscaler CHANNEL=vic0
//	journalctl -t memscaler JOB=vic0/42
//	journalctl -t memscaler ERROR_CODE=RESOURCE_BUSY
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	scaler = "debug"
//	hardware = "warn"
package logging
