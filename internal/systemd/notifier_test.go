package systemd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	states []string
	err    error
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func newTestNotifier(r *recorder, interval time.Duration) *Notifier {
	return &Notifier{
		logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		notify:   r.notify,
		watchdog: func() (time.Duration, error) { return interval, nil },
	}
}

func TestNotifierStates(t *testing.T) {
	r := &recorder{}
	n := newTestNotifier(r, 0)

	n.Ready("2 sources")
	n.Status("%d textures", 3)
	n.Reloading()
	n.Stopping()

	want := []string{"READY=1\nSTATUS=2 sources", "STATUS=3 textures", "RELOADING=1", "STOPPING=1"}
	got := r.sent()
	if len(got) != len(want) {
		t.Fatalf("sent %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNotifierErrorIsNotFatal(t *testing.T) {
	r := &recorder{err: errors.New("socket gone")}
	n := newTestNotifier(r, 0)
	n.Ready("ok")
	if len(r.sent()) != 0 {
		t.Error("failed notification recorded")
	}
}

func TestRunWatchdogDisabled(t *testing.T) {
	r := &recorder{}
	n := newTestNotifier(r, 0)

	done := make(chan struct{})
	go func() {
		n.RunWatchdog(context.Background(), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunWatchdog did not return without a watchdog")
	}
}

func TestRunWatchdogPings(t *testing.T) {
	r := &recorder{}
	n := newTestNotifier(r, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	n.RunWatchdog(ctx, func() bool { return true })

	pings := 0
	for _, s := range r.sent() {
		if s == "WATCHDOG=1" {
			pings++
		}
	}
	if pings == 0 {
		t.Error("no watchdog pings sent")
	}
}

func TestRunWatchdogWithheldWhenUnhealthy(t *testing.T) {
	r := &recorder{}
	n := newTestNotifier(r, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	n.RunWatchdog(ctx, func() bool { return false })

	if got := r.sent(); len(got) != 0 {
		t.Errorf("sent %q while unhealthy", got)
	}
}
