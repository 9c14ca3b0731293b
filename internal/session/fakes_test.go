package session

import (
	"context"
	"errors"
	"sync"

	"github.com/smazurov/pwtexture/pkg/pipewire"
	"github.com/smazurov/pwtexture/pkg/spa"
)

type connectCall struct {
	dir    pipewire.Direction
	target uint32
	flags  pipewire.StreamFlags
	params []spa.Pod
}

type fakeStream struct {
	mu          sync.Mutex
	name        string
	props       pipewire.Properties
	events      pipewire.StreamEvents
	connects    []connectCall
	connectErr  error
	buffers     []*pipewire.Buffer
	queued      []*pipewire.Buffer
	disconnects int
}

func (s *fakeStream) Connect(dir pipewire.Direction, target uint32, flags pipewire.StreamFlags, params ...spa.Pod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects = append(s.connects, connectCall{dir: dir, target: target, flags: flags, params: params})
	return s.connectErr
}

func (s *fakeStream) DequeueBuffer() *pipewire.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffers) == 0 {
		return nil
	}
	b := s.buffers[0]
	s.buffers = s.buffers[1:]
	return b
}

func (s *fakeStream) QueueBuffer(b *pipewire.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, b)
}

func (s *fakeStream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	return nil
}

func (s *fakeStream) disconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

type fakeCore struct {
	mu            sync.Mutex
	loop          *pipewire.Loop
	registry      []pipewire.RegistryEvents
	streams       []*fakeStream
	connectErr    error
	disconnects   int
	newStreamHook func(*fakeStream)

	lostOnce sync.Once
	lostCh   chan struct{}
	lostErr  error
}

func (c *fakeCore) connector() Connector {
	return func(_ context.Context, loop *pipewire.Loop) (Core, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.loop = loop
		return c, nil
	}
}

func (c *fakeCore) AddRegistryListener(events pipewire.RegistryEvents) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry = append(c.registry, events)
	return nil
}

func (c *fakeCore) NewStream(name string, props pipewire.Properties, events pipewire.StreamEvents) (pipewire.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeStream{name: name, props: props, events: events, connectErr: c.connectErr}
	if c.newStreamHook != nil {
		c.newStreamHook(s)
	}
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *fakeCore) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *fakeCore) lostChan() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lostCh == nil {
		c.lostCh = make(chan struct{})
	}
	return c.lostCh
}

func (c *fakeCore) Done() <-chan struct{} { return c.lostChan() }

func (c *fakeCore) Err() error {
	<-c.lostChan()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lostErr
}

// lose simulates the daemon going away.
func (c *fakeCore) lose(err error) {
	ch := c.lostChan()
	c.lostOnce.Do(func() {
		c.mu.Lock()
		c.lostErr = err
		c.mu.Unlock()
		close(ch)
	})
}

func (c *fakeCore) streamCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *fakeCore) stream(i int) *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[i]
}

func (c *fakeCore) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// invoke runs fn on the session loop and waits for it.
func (c *fakeCore) invoke(fn func()) {
	c.mu.Lock()
	loop := c.loop
	c.mu.Unlock()
	done := make(chan struct{})
	if !loop.Invoke(func() { fn(); close(done) }) {
		panic("loop closed")
	}
	<-done
}

var errDial = errors.New("dial failed")
