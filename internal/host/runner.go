// Package host runs the consumer frame loop. Each frame first runs queued
// closures against the directory and then polls it for relay events, so the
// directory is only ever touched from the loop goroutine.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/pwtexture/internal/directory"
	"github.com/smazurov/pwtexture/internal/logging"
)

// Defaults for Config.
const (
	DefaultFPS       = 60
	DefaultTaskQueue = 64
)

var (
	// ErrStopped is returned when the runner is not running.
	ErrStopped = errors.New("host: runner stopped")
	// ErrQueueFull is returned by Do when the task queue has no room.
	ErrQueueFull = errors.New("host: task queue full")
)

// Task runs on the frame loop goroutine.
type Task func(*directory.Directory)

// Config configures a Runner.
type Config struct {
	Directory  *directory.Directory
	FPS        int
	PollBudget time.Duration
	TaskQueue  int
	Logger     *slog.Logger
}

// Runner drives a Directory at a fixed rate.
type Runner struct {
	dir      *directory.Directory
	interval time.Duration
	budget   time.Duration
	logger   *slog.Logger

	tasks   chan Task
	running atomic.Bool
	stopped chan struct{}
	once    sync.Once

	frames atomic.Uint64
	events atomic.Uint64
}

// NewRunner creates a runner for cfg.Directory.
func NewRunner(cfg Config) *Runner {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = directory.DefaultPollBudget
	}
	if cfg.TaskQueue <= 0 {
		cfg.TaskQueue = DefaultTaskQueue
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger("host")
	}
	return &Runner{
		dir:      cfg.Directory,
		interval: time.Second / time.Duration(cfg.FPS),
		budget:   cfg.PollBudget,
		logger:   cfg.Logger,
		tasks:    make(chan Task, cfg.TaskQueue),
		stopped:  make(chan struct{}),
	}
}

// Run ticks until ctx is cancelled. Tasks still queued at that point are
// discarded.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("host: runner already running")
	}
	defer r.once.Do(func() { close(r.stopped) })

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Frame loop started", "interval", r.interval, "poll_budget", r.budget)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Frame loop stopped", "frames", r.frames.Load(), "events", r.events.Load())
			return nil
		case <-ticker.C:
			r.Frame()
		}
	}
}

// Frame runs one iteration: queued tasks, then one directory poll.
// Run calls it on every tick; tests and tools may call it directly instead
// of Run.
func (r *Runner) Frame() {
	// tasks queued by tasks wait for the next frame
	for n := len(r.tasks); n > 0; n-- {
		(<-r.tasks)(r.dir)
	}
	n := r.dir.Poll(r.budget)
	r.events.Add(uint64(n))
	r.frames.Add(1)
}

// Do queues task for the next frame without waiting.
func (r *Runner) Do(task Task) error {
	select {
	case <-r.stopped:
		return ErrStopped
	default:
	}
	select {
	case r.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Call queues fn and waits for its result.
func (r *Runner) Call(ctx context.Context, fn func(*directory.Directory) error) error {
	result := make(chan error, 1)
	task := func(d *directory.Directory) { result <- fn(d) }

	select {
	case r.tasks <- task:
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Frames reports the number of completed frames.
func (r *Runner) Frames() uint64 { return r.frames.Load() }

// Events reports the number of relay events dispatched.
func (r *Runner) Events() uint64 { return r.events.Load() }
