// Package session runs the PipeWire protocol side of the bridge.
//
// A Manager owns one goroutine, locked to its OS thread, that connects to the
// bus and iterates a pipewire.Loop until told to terminate. On that goroutine
// a Watcher turns registry globals into source events and one Negotiator per
// requested source negotiates a raw video format and copies frames out of
// dequeued buffers. Results leave through a relay.FrameChannel; requests
// arrive through a relay.ControlChannel attached to the loop.
package session

import (
	"context"
	"errors"

	"github.com/smazurov/pwtexture/pkg/pipewire"
)

var (
	// ErrAlreadyStarted is returned by Start on a manager that was started before.
	ErrAlreadyStarted = errors.New("session: already started")
	// ErrNotStarted is returned by operations that need a running session.
	ErrNotStarted = errors.New("session: not started")
	// ErrConnectionLost is wrapped by Manager.Err when the daemon went away.
	ErrConnectionLost = errors.New("session: bus connection lost")
)

// Core is a connected bus as seen from the protocol goroutine.
// Every method is called on the loop goroutine.
type Core interface {
	// AddRegistryListener subscribes to registry globals. Globals already
	// present are announced too.
	AddRegistryListener(events pipewire.RegistryEvents) error
	// NewStream creates an unconnected stream whose callbacks run on the loop.
	NewStream(name string, props pipewire.Properties, events pipewire.StreamEvents) (pipewire.Stream, error)
	// Disconnect releases the bus connection.
	Disconnect() error
	// Done is closed when the connection to the daemon is gone. Unlike the
	// other methods it may be used from any goroutine.
	Done() <-chan struct{}
	// Err reports why Done was closed. It is valid after Done is closed.
	Err() error
}

// Connector establishes a Core whose callbacks are posted to loop. It runs on
// the protocol goroutine.
type Connector func(ctx context.Context, loop *pipewire.Loop) (Core, error)
