package relay

import (
	"sync"
	"sync/atomic"

	"github.com/smazurov/pwtexture/internal/metrics"
)

// Default sizing of the FrameChannel.
const (
	DefaultQueueDepth   = 64
	DefaultFrameReserve = 8
)

// FrameChannel is a bounded, non-blocking queue of UpdateEvents.
//
// Frames are dropped once fewer than reserve slots are free so that
// source and format events still fit when the consumer is slow.
type FrameChannel struct {
	ch      chan UpdateEvent
	reserve int
	dropped atomic.Uint64
}

// NewFrameChannel creates a channel holding depth events.
func NewFrameChannel(depth, reserve int) *FrameChannel {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	if reserve < 0 || reserve >= depth {
		reserve = 0
	}
	return &FrameChannel{ch: make(chan UpdateEvent, depth), reserve: reserve}
}

// Send enqueues e without blocking. It reports false if e was dropped.
func (c *FrameChannel) Send(e UpdateEvent) bool {
	if _, ok := e.(FrameReady); ok && len(c.ch) >= cap(c.ch)-c.reserve {
		c.drop()
		return false
	}
	select {
	case c.ch <- e:
		return true
	default:
		c.drop()
		return false
	}
}

func (c *FrameChannel) drop() {
	c.dropped.Add(1)
	metrics.RecordFrameDropped(metrics.DropQueueFull)
}

// TryRecv returns the next event if one is queued.
func (c *FrameChannel) TryRecv() (UpdateEvent, bool) {
	select {
	case e := <-c.ch:
		return e, true
	default:
		return nil, false
	}
}

// Len reports the number of queued events.
func (c *FrameChannel) Len() int { return len(c.ch) }

// Dropped reports how many events were discarded since creation.
func (c *FrameChannel) Dropped() uint64 { return c.dropped.Load() }

// Invoker runs a function on another goroutine's loop.
type Invoker interface {
	Invoke(fn func()) bool
}

// ControlChannel is an unbounded queue of ControlCommands that can be
// attached to a loop. While attached, every Send schedules one drain on the
// loop; sends that arrive before the drain runs share it.
type ControlChannel struct {
	mu       sync.Mutex
	queue    []ControlCommand
	inv      Invoker
	handler  func(ControlCommand)
	attached bool

	scheduled atomic.Bool
}

// NewControlChannel creates a detached channel.
func NewControlChannel() *ControlChannel {
	return &ControlChannel{}
}

// Send enqueues cmd. It never blocks.
func (c *ControlChannel) Send(cmd ControlCommand) {
	c.mu.Lock()
	c.queue = append(c.queue, cmd)
	inv, attached := c.inv, c.attached
	c.mu.Unlock()

	if attached {
		c.schedule(inv)
	}
}

// Drain removes and returns every queued command in send order.
func (c *ControlChannel) Drain() []ControlCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmds := c.queue
	c.queue = nil
	return cmds
}

// Len reports the number of queued commands.
func (c *ControlChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Attach delivers commands to handler on inv's loop. Commands already queued
// are scheduled immediately.
func (c *ControlChannel) Attach(inv Invoker, handler func(ControlCommand)) {
	c.mu.Lock()
	c.inv = inv
	c.handler = handler
	c.attached = true
	pending := len(c.queue) > 0
	c.mu.Unlock()

	if pending {
		c.schedule(inv)
	}
}

// Detach stops delivery. Queued commands stay queued.
func (c *ControlChannel) Detach() {
	c.mu.Lock()
	c.attached = false
	c.inv = nil
	c.handler = nil
	c.mu.Unlock()
}

func (c *ControlChannel) schedule(inv Invoker) {
	if !c.scheduled.CompareAndSwap(false, true) {
		return
	}
	if !inv.Invoke(c.dispatch) {
		c.scheduled.Store(false)
	}
}

// dispatch handles only the commands queued when it starts.
func (c *ControlChannel) dispatch() {
	c.scheduled.Store(false)
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return
	}
	for _, cmd := range c.Drain() {
		handler(cmd)
	}
}
