// Package capture is the concrete bus backend of the session.
//
// The registry is watched over the PipeWire native protocol. Each stream is
// realised as a GStreamer pipeline
//
//	pipewiresrc path=<node> → capsfilter → appsink
//
// whose caps filter is rendered from the SPA format proposal. Samples are
// copied on the GStreamer streaming thread and handed to the session loop,
// where the negotiated caps are reported back as an SPA Format param.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/smazurov/pwtexture/internal/logging"
	"github.com/smazurov/pwtexture/internal/session"
	"github.com/smazurov/pwtexture/internal/version"
	"github.com/smazurov/pwtexture/pkg/pipewire"
)

// Defaults for Options.
const (
	DefaultAppName          = version.Name
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultMaxBuffers       = 2
)

// ErrHandshakeTimeout is returned when the daemon does not answer the initial sync.
var ErrHandshakeTimeout = errors.New("capture: handshake timed out")

// ErrUnsupportedDirection is returned for output streams.
var ErrUnsupportedDirection = errors.New("capture: only input streams are supported")

// Options configures the backend.
type Options struct {
	// Remote is the socket name or absolute path. Empty selects the default.
	Remote           string
	AppName          string
	HandshakeTimeout time.Duration
	// MaxBuffers bounds the samples waiting for the session loop per stream.
	MaxBuffers int
	// Leaky lets the appsink drop old samples instead of blocking the pipeline.
	Leaky  bool
	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.AppName == "" {
		o.AppName = DefaultAppName
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.MaxBuffers <= 0 {
		o.MaxBuffers = DefaultMaxBuffers
	}
	if o.Logger == nil {
		o.Logger = logging.GetLogger("capture")
	}
}

// Connector returns a session.Connector that calls Connect with opts.
func Connector(opts Options) session.Connector {
	return func(ctx context.Context, loop *pipewire.Loop) (session.Core, error) {
		return Connect(ctx, loop, opts)
	}
}

var gstInit sync.Once

// Connect dials the daemon, performs the handshake and waits for the first
// sync round trip by iterating loop. It must run on the goroutine that will
// keep iterating loop.
func Connect(ctx context.Context, loop *pipewire.Loop, opts Options) (*Core, error) {
	opts.setDefaults()

	path, err := pipewire.SocketPath(opts.Remote)
	if err != nil {
		return nil, err
	}
	conn, err := pipewire.Dial(ctx, loop, path, logging.GetLogger("pipewire"))
	if err != nil {
		return nil, err
	}
	if err := handshake(ctx, loop, conn, opts); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", path, err)
	}

	gstInit.Do(func() { gst.Init(nil) })

	opts.Logger.Info("Connected to PipeWire", "socket", path)
	c := &Core{
		conn:    conn,
		loop:    loop,
		opts:    opts,
		logger:  opts.Logger,
		streams: make(map[*Stream]struct{}),
	}
	conn.OnError(c.onError)
	return c, nil
}

func handshake(ctx context.Context, loop *pipewire.Loop, conn *pipewire.Conn, opts Options) error {
	if err := conn.Hello(); err != nil {
		return err
	}
	if err := conn.UpdateProperties(version.ClientProperties(opts.AppName)); err != nil {
		return err
	}

	synced := false
	if err := conn.Sync(func() { synced = true }); err != nil {
		return err
	}
	deadline := time.Now().Add(opts.HandshakeTimeout)
	for !synced {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-conn.Done():
			return conn.Err()
		default:
		}
		if time.Now().After(deadline) {
			return ErrHandshakeTimeout
		}
		loop.Iterate(10 * time.Millisecond)
	}
	return nil
}

// Core is a connected backend. It implements session.Core.
type Core struct {
	conn    *pipewire.Conn
	loop    *pipewire.Loop
	opts    Options
	logger  *slog.Logger
	streams map[*Stream]struct{}
}

// onError runs on the loop. Errors on the core object also close the
// connection, which the session sees through Done.
func (c *Core) onError(e *pipewire.CoreError) {
	if e.ID == 0 {
		c.logger.Error("PipeWire closed the session", "res", e.Res, "message", e.Message)
		return
	}
	c.logger.Warn("PipeWire rejected a request", "object_id", e.ID, "res", e.Res, "message", e.Message)
}

// Done is closed when the daemon connection is gone.
func (c *Core) Done() <-chan struct{} { return c.conn.Done() }

// Err reports why the connection ended.
func (c *Core) Err() error { return c.conn.Err() }

// AddRegistryListener binds the registry with events as its listener.
func (c *Core) AddRegistryListener(events pipewire.RegistryEvents) error {
	_, err := c.conn.GetRegistry(events)
	return err
}

// NewStream creates an unconnected pipeline backed stream.
func (c *Core) NewStream(name string, props pipewire.Properties, events pipewire.StreamEvents) (pipewire.Stream, error) {
	s := newStream(c, name, props, events)
	c.streams[s] = struct{}{}
	return s, nil
}

func (c *Core) forget(s *Stream) {
	delete(c.streams, s)
}

// Disconnect stops any stream still running and closes the connection.
func (c *Core) Disconnect() error {
	for s := range c.streams {
		if err := s.Disconnect(); err != nil {
			c.logger.Warn("Failed to stop stream", "stream", s.name, "error", err)
		}
	}
	return c.conn.Close()
}
