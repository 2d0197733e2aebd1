// Package systemd reports service readiness and liveness to systemd through
// the sd_notify protocol.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyFunc sends one sd_notify state string. It reports whether the
// notification was delivered; false with a nil error means systemd is not
// listening.
type NotifyFunc func(state string) (bool, error)

// Notifier sends lifecycle notifications and keeps the watchdog fed.
type Notifier struct {
	notify   NotifyFunc
	watchdog func() (time.Duration, error)
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewNotifier creates a notifier bound to $NOTIFY_SOCKET.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
		watchdog: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
		logger: logger,
	}
}

// Ready tells systemd that startup finished and starts the watchdog loop
// if the unit has WatchdogSec set. The loop stops with ctx or Stopping.
func (n *Notifier) Ready(ctx context.Context, status string) {
	n.send(daemon.SdNotifyReady + "\n" + status)

	interval, err := n.watchdog()
	if err != nil {
		n.logger.Warn("Failed to read watchdog settings", "error", err)
		return
	}
	if interval <= 0 {
		return
	}

	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	// Feed at half the timeout
	go n.feed(ctx, interval/2)
	n.logger.Info("Watchdog enabled", "interval", interval)
}

// Status updates the free-form status line shown by systemctl.
func (n *Notifier) Status(format string, args ...any) {
	n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// Stopping tells systemd that shutdown started and stops the watchdog.
func (n *Notifier) Stopping() {
	if n.cancel != nil {
		n.cancel()
		<-n.done
		n.cancel = nil
	}
	n.send(daemon.SdNotifyStopping)
}

func (n *Notifier) feed(ctx context.Context, every time.Duration) {
	defer close(n.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return
	}
	if !sent {
		n.logger.Debug("sd_notify not supported, skipping", "state", state)
	}
}
