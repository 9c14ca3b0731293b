// Package systemd reports service lifecycle to the service manager through
// the sd_notify protocol. Every call is a no-op when NOTIFY_SOCKET is unset.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends readiness, status and watchdog messages.
type Notifier struct {
	logger *slog.Logger
	notify func(state string) (bool, error)
	// watchdog returns the interval at which the manager expects a ping, or 0.
	watchdog func() (time.Duration, error)
}

// NewNotifier creates a Notifier backed by the NOTIFY_SOCKET of the process.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		logger: logger,
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
		watchdog: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
	}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify sent", "state", state)
	}
}

// Ready reports that startup finished, with a human readable status line.
func (n *Notifier) Ready(status string) {
	n.send(daemon.SdNotifyReady + "\nSTATUS=" + status)
}

// Status updates the status line shown by systemctl.
func (n *Notifier) Status(format string, args ...any) {
	n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// Reloading reports that configuration is being reloaded. Ready must follow.
func (n *Notifier) Reloading() {
	n.send(daemon.SdNotifyReloading)
}

// Stopping reports that shutdown began.
func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping)
}

// RunWatchdog pings the service manager at half the configured watchdog
// interval until ctx is cancelled. alive is consulted before every ping; a
// false result withholds the ping so the manager restarts the service.
// It returns immediately when no watchdog is configured.
func (n *Notifier) RunWatchdog(ctx context.Context, alive func() bool) {
	interval, err := n.watchdog()
	if err != nil {
		n.logger.Warn("Invalid watchdog configuration", "error", err)
		return
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	n.logger.Info("Watchdog enabled", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if alive != nil && !alive() {
				n.logger.Warn("Skipping watchdog ping, service unhealthy")
				continue
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
