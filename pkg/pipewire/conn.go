package pipewire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/smazurov/pwtexture/pkg/spa"
)

// CoreError is an error event reported by the daemon.
type CoreError struct {
	ID      uint32
	Seq     int32
	Res     int32
	Message string
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("pipewire: object %d: %s (res %d)", e.ID, e.Message, e.Res)
}

type eventHandler func(opcode uint8, args spa.Struct) error

// Conn is a native protocol connection to the PipeWire daemon.
//
// A reader goroutine decodes incoming messages and posts them to the Loop.
// Every method except Close must be called from the goroutine iterating the
// loop; outgoing writes are serialized internally.
type Conn struct {
	nc     net.Conn
	loop   *Loop
	logger *slog.Logger

	wmu   sync.Mutex
	wseq  uint32
	wbuf  []byte
	errCb func(*CoreError)

	// owned by the loop goroutine
	nextID   uint32
	syncSeq  int32
	pending  map[int32]func()
	handlers map[uint32]eventHandler

	closed atomic.Bool
	fatal  atomic.Pointer[CoreError]
	done   chan struct{}
	err    error
}

// Dial connects to the daemon socket at path.
func Dial(ctx context.Context, loop *Loop, path string, logger *slog.Logger) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return NewConn(nc, loop, logger), nil
}

// NewConn wraps an established transport and starts reading from it.
func NewConn(nc net.Conn, loop *Loop, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		nc:       nc,
		loop:     loop,
		logger:   logger,
		nextID:   clientID + 1,
		pending:  make(map[int32]func()),
		handlers: make(map[uint32]eventHandler),
		done:     make(chan struct{}),
	}
	c.handlers[coreID] = c.handleCoreEvent
	c.handlers[clientID] = func(uint8, spa.Struct) error { return nil }
	go c.readLoop()
	return c
}

// OnError sets the callback for daemon error events. It runs on the loop
// goroutine. An error on the core object itself ends the connection; Err then
// returns it.
func (c *Conn) OnError(fn func(*CoreError)) {
	c.wmu.Lock()
	c.errCb = fn
	c.wmu.Unlock()
}

// Done is closed when the connection stops reading.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection stopped. It is valid after Done is closed.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		m, err := readMessage(c.nc)
		if err != nil {
			if fe := c.fatal.Load(); fe != nil {
				c.err = fe
			} else if c.closed.Load() || errors.Is(err, io.EOF) {
				c.err = ErrClosed
			} else {
				c.err = fmt.Errorf("pipewire: read: %w", err)
			}
			return
		}
		if !c.loop.Invoke(func() { c.dispatch(m) }) {
			c.err = ErrClosed
			return
		}
	}
}

func (c *Conn) dispatch(m message) {
	if c.closed.Load() {
		return
	}
	h, ok := c.handlers[m.id]
	if !ok {
		c.logger.Debug("Event for unknown proxy", "id", m.id, "opcode", m.opcode)
		return
	}
	args, err := m.args()
	if err != nil {
		c.logger.Warn("Malformed event", "id", m.id, "opcode", m.opcode, "error", err)
		return
	}
	if err := h(m.opcode, args); err != nil {
		c.logger.Warn("Failed to handle event", "id", m.id, "opcode", m.opcode, "error", err)
	}
}

func (c *Conn) handleCoreEvent(opcode uint8, args spa.Struct) error {
	switch opcode {
	case coreEventInfo:
		return nil
	case coreEventDone:
		seq, err := argInt(args, 1)
		if err != nil {
			return err
		}
		if fn, ok := c.pending[seq]; ok {
			delete(c.pending, seq)
			fn()
		}
		return nil
	case coreEventPing:
		id, err := argInt(args, 0)
		if err != nil {
			return err
		}
		seq, err := argInt(args, 1)
		if err != nil {
			return err
		}
		return c.send(coreID, coreMethodPong, spa.Struct{spa.Int(id), spa.Int(seq)})
	case coreEventError:
		ce := &CoreError{}
		id, err := argInt(args, 0)
		if err != nil {
			return err
		}
		ce.ID = uint32(id)
		if ce.Seq, err = argInt(args, 1); err != nil {
			return err
		}
		if ce.Res, err = argInt(args, 2); err != nil {
			return err
		}
		if ce.Message, err = argString(args, 3); err != nil {
			return err
		}
		c.logger.Debug("Daemon reported error", "id", ce.ID, "res", ce.Res, "message", ce.Message)
		c.wmu.Lock()
		cb := c.errCb
		c.wmu.Unlock()
		if cb != nil {
			cb(ce)
		}
		if ce.ID == coreID {
			c.fatal.Store(ce)
			return c.Close()
		}
		return nil
	case coreEventRemoveID:
		id, err := argInt(args, 0)
		if err != nil {
			return err
		}
		delete(c.handlers, uint32(id))
		return nil
	default:
		return nil
	}
}

func (c *Conn) send(id uint32, opcode uint8, args spa.Struct) error {
	if c.closed.Load() {
		return ErrClosed
	}
	payload, err := spa.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode opcode %d: %w", opcode, err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.wbuf, err = appendMessage(c.wbuf[:0], message{id: id, opcode: opcode, seq: c.wseq, payload: payload})
	if err != nil {
		return err
	}
	c.wseq++
	if _, err := c.nc.Write(c.wbuf); err != nil {
		return fmt.Errorf("pipewire: write: %w", err)
	}
	return nil
}

// Hello opens the protocol session.
func (c *Conn) Hello() error {
	return c.send(coreID, coreMethodHello, spa.Struct{spa.Int(coreVersion)})
}

// UpdateProperties publishes client properties such as application.name.
func (c *Conn) UpdateProperties(props Properties) error {
	return c.send(clientID, clientMethodUpdateProp, spa.Struct{encodeDict(props)})
}

// Sync asks the daemon for a round trip; fn runs once every message sent
// before it has been processed.
func (c *Conn) Sync(fn func()) error {
	c.syncSeq++
	seq := c.syncSeq
	c.pending[seq] = fn
	if err := c.send(coreID, coreMethodSync, spa.Struct{spa.Int(coreID), spa.Int(seq)}); err != nil {
		delete(c.pending, seq)
		return err
	}
	return nil
}

// Registry is a bound registry proxy.
type Registry struct {
	ID uint32
}

// GetRegistry binds the registry and installs events before any global can
// arrive.
func (c *Conn) GetRegistry(events RegistryEvents) (*Registry, error) {
	id := c.nextID
	c.nextID++
	c.handlers[id] = func(opcode uint8, args spa.Struct) error {
		return handleRegistryEvent(events, opcode, args)
	}
	if err := c.send(coreID, coreMethodGetRegistry, spa.Struct{spa.Int(registryVersion), spa.Int(id)}); err != nil {
		delete(c.handlers, id)
		return nil, err
	}
	return &Registry{ID: id}, nil
}

func handleRegistryEvent(events RegistryEvents, opcode uint8, args spa.Struct) error {
	switch opcode {
	case registryEventGlobal:
		id, err := argInt(args, 0)
		if err != nil {
			return err
		}
		perms, err := argInt(args, 1)
		if err != nil {
			return err
		}
		typ, err := argString(args, 2)
		if err != nil {
			return err
		}
		version, err := argInt(args, 3)
		if err != nil {
			return err
		}
		props := Properties{}
		if len(args) > 4 {
			if props, err = decodeDict(args[4]); err != nil {
				return err
			}
		}
		if events.Global != nil {
			events.Global(GlobalObject{
				ID:          uint32(id),
				Permissions: uint32(perms),
				Type:        typ,
				Version:     uint32(version),
				Props:       props,
			})
		}
	case registryEventGlobalRemove:
		id, err := argInt(args, 0)
		if err != nil {
			return err
		}
		if events.GlobalRemove != nil {
			events.GlobalRemove(uint32(id))
		}
	}
	return nil
}

// Close shuts the transport. Pending sync callbacks never run.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.nc.Close()
}
