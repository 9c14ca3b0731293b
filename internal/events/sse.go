package events

import (
	"sync"
	"sync/atomic"

	"github.com/kelindar/event"
)

// Feed gathers events of the followed types into one buffered channel for a
// single SSE client. An event that finds the buffer full is dropped and
// counted, so a slow client never holds up publishers.
type Feed struct {
	bus     *Bus
	ch      chan any
	dropped atomic.Uint64

	mu     sync.Mutex
	unsubs []func()
}

// NewFeed creates a feed with room for size pending events.
func NewFeed(bus *Bus, size int) *Feed {
	return &Feed{bus: bus, ch: make(chan any, size)}
}

// C delivers followed events in publish order per type.
func (f *Feed) C() <-chan any { return f.ch }

// Dropped counts events lost to a full buffer.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

// Close stops following every type. C is left open.
func (f *Feed) Close() {
	f.mu.Lock()
	unsubs := f.unsubs
	f.unsubs = nil
	f.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (f *Feed) offer(e any) {
	select {
	case f.ch <- e:
	default:
		f.dropped.Add(1)
	}
}

// Follow adds events of type T to f.
func Follow[T Event](f *Feed) *Feed {
	unsub := event.Subscribe(f.bus.dispatcher, func(e T) { f.offer(e) })
	f.mu.Lock()
	f.unsubs = append(f.unsubs, unsub)
	f.mu.Unlock()
	return f
}

// FollowLifecycle adds source discovery and texture binding events to f.
func FollowLifecycle(f *Feed) *Feed {
	Follow[SourceAddedEvent](f)
	Follow[SourceRemovedEvent](f)
	Follow[TextureConnectedEvent](f)
	Follow[TextureDisconnectedEvent](f)
	return Follow[TextureFormatChangedEvent](f)
}
