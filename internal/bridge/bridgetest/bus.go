// Package bridgetest provides an in-memory bus for exercising the bridge
// without a PipeWire daemon.
package bridgetest

import (
	"context"
	"strconv"
	"sync"

	"github.com/smazurov/pwtexture/internal/session"
	"github.com/smazurov/pwtexture/pkg/pipewire"
	"github.com/smazurov/pwtexture/pkg/spa"
)

// Bus announces a fixed set of video sources. Every stream connected to one
// of them accepts Format and delivers Frame once.
type Bus struct {
	Sources []uint32
	Format  spa.VideoInfoRaw
	Frame   []byte

	mu      sync.Mutex
	loop    *pipewire.Loop
	streams map[uint32]int
	closed  int

	dropOnce sync.Once
	dropped  chan struct{}
	dropErr  error
}

// NewBus creates a bus with the given sources that delivers one 2x2 RGBA frame.
func NewBus(sources ...uint32) *Bus {
	return &Bus{
		Sources: sources,
		Format: spa.VideoInfoRaw{
			Format:    spa.VideoFormatRGBA,
			Size:      spa.Rectangle{Width: 2, Height: 2},
			Framerate: spa.Fraction{Num: 30, Denom: 1},
		},
		Frame: []byte{
			255, 0, 0, 255, 0, 255, 0, 255,
			0, 0, 255, 255, 255, 255, 255, 255,
		},
		streams: make(map[uint32]int),
		dropped: make(chan struct{}),
	}
}

// Connector returns a session.Connector that yields this bus.
func (b *Bus) Connector() session.Connector {
	return func(_ context.Context, loop *pipewire.Loop) (session.Core, error) {
		b.mu.Lock()
		b.loop = loop
		b.mu.Unlock()
		return b, nil
	}
}

// AddRegistryListener announces every source.
func (b *Bus) AddRegistryListener(events pipewire.RegistryEvents) error {
	for _, id := range b.Sources {
		if events.Global == nil {
			break
		}
		events.Global(pipewire.GlobalObject{
			ID:      id,
			Type:    pipewire.TypeInterfaceNode,
			Version: 3,
			Props: pipewire.Properties{
				pipewire.KeyMediaClass: pipewire.MediaClassVideoSource,
				pipewire.KeyNodeName:   "test-source-" + strconv.FormatUint(uint64(id), 10),
			},
		})
	}
	return nil
}

// NewStream creates a stream that replays the configured format and frame.
func (b *Bus) NewStream(_ string, _ pipewire.Properties, events pipewire.StreamEvents) (pipewire.Stream, error) {
	return &stream{bus: b, events: events}, nil
}

// Disconnect implements session.Core.
func (b *Bus) Disconnect() error { return nil }

// Done implements session.Core. It is closed by Drop.
func (b *Bus) Done() <-chan struct{} { return b.dropped }

// Err implements session.Core.
func (b *Bus) Err() error {
	<-b.dropped
	return b.dropErr
}

// Drop simulates the daemon going away with err.
func (b *Bus) Drop(err error) {
	b.dropOnce.Do(func() {
		b.dropErr = err
		close(b.dropped)
	})
}

// Streams reports how many streams were connected to id.
func (b *Bus) Streams(id uint32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[id]
}

// Closed reports how many streams were disconnected.
func (b *Bus) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type stream struct {
	bus    *Bus
	events pipewire.StreamEvents
	ready  []*pipewire.Buffer
	closed bool
}

func (s *stream) Connect(_ pipewire.Direction, target uint32, _ pipewire.StreamFlags, _ ...spa.Pod) error {
	s.bus.mu.Lock()
	s.bus.streams[target]++
	loop := s.bus.loop
	s.bus.mu.Unlock()

	frame := append([]byte(nil), s.bus.Frame...)
	format := spa.BuildVideoFormat(s.bus.Format)
	loop.Invoke(func() {
		if s.closed {
			return
		}
		if s.events.ParamChanged != nil {
			s.events.ParamChanged(spa.ParamFormat, format)
		}
		s.ready = append(s.ready, &pipewire.Buffer{Datas: []pipewire.Data{{
			Data:    frame,
			MaxSize: uint32(len(frame)),
			Chunk:   pipewire.Chunk{Size: uint32(len(frame))},
		}}})
		if s.events.Process != nil {
			s.events.Process()
		}
	})
	return nil
}

func (s *stream) DequeueBuffer() *pipewire.Buffer {
	if len(s.ready) == 0 {
		return nil
	}
	b := s.ready[0]
	s.ready = s.ready[1:]
	return b
}

func (s *stream) QueueBuffer(*pipewire.Buffer) {}

func (s *stream) Disconnect() error {
	if !s.closed {
		s.closed = true
		s.bus.mu.Lock()
		s.bus.closed++
		s.bus.mu.Unlock()
	}
	return nil
}
