package pipewire

import (
	"sync"
	"time"
)

// Loop is a cooperative callback executor. Any goroutine may Invoke work onto
// it; the goroutine that calls Iterate runs the work serially. Every listener
// in this package and in its users runs on that goroutine, so their state
// needs no locking.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
}

// NewLoop creates an idle loop.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Invoke queues fn to run on the loop goroutine. It returns false if the loop
// has been closed and fn was discarded.
func (l *Loop) Invoke(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Iterate runs the callbacks queued at the moment it looks at the queue. If
// none are queued it waits up to timeout for one to arrive. It returns the
// number of callbacks run. Callbacks queued while running are left for the
// next iteration.
func (l *Loop) Iterate(timeout time.Duration) int {
	tasks := l.take()
	if len(tasks) == 0 && timeout > 0 {
		timer := time.NewTimer(timeout)
		select {
		case <-l.wake:
			tasks = l.take()
		case <-timer.C:
		}
		timer.Stop()
	}
	for _, fn := range tasks {
		fn()
	}
	return len(tasks)
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	tasks := l.tasks
	l.tasks = nil
	return tasks
}

// Close stops accepting work. Queued callbacks are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.tasks = nil
	l.mu.Unlock()
}
