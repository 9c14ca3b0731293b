// Package relay carries messages between the protocol goroutine and the
// consumer goroutine.
//
// Two one-directional channels exist. The FrameChannel moves UpdateEvents from
// the protocol side to the consumer; it never blocks the sender and sheds frames
// when the consumer falls behind. The ControlChannel moves ControlCommands from
// the consumer to the protocol side and wakes the protocol loop when commands
// arrive.
package relay

import (
	"fmt"

	"github.com/smazurov/pwtexture/pkg/spa"
)

// PixelFormat is the layout a consumer texture stores.
type PixelFormat string

// PixelFormatRGBA8 is the only target format textures are configured with.
const PixelFormatRGBA8 PixelFormat = "RGBA8"

// ImageParameters describe the image a source now delivers.
type ImageParameters struct {
	Width   int32
	Height  int32
	Mipmaps bool
	Format  PixelFormat
	// Source is the negotiated wire format of the frames.
	Source spa.VideoFormat
}

func (p ImageParameters) String() string {
	return fmt.Sprintf("%dx%d %s (source %s)", p.Width, p.Height, p.Format, p.Source)
}

// FrameBuffer owns the bytes of one frame.
type FrameBuffer struct {
	Data []byte
}

// Len reports the number of valid bytes.
func (f FrameBuffer) Len() int { return len(f.Data) }

// SourceInfo describes a discovered capture source.
type SourceInfo struct {
	ID          uint32            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	MediaClass  string            `json:"media_class"`
	Serial      string            `json:"serial,omitempty"`
	Version     uint32            `json:"version"`
	Props       map[string]string `json:"props,omitempty"`
}

// UpdateEvent is sent from the protocol goroutine to the consumer.
type UpdateEvent interface {
	// SourceID reports the source the event belongs to.
	SourceID() uint32
	isUpdateEvent()
}

// SourceAppeared announces a new capture source.
type SourceAppeared struct {
	Source SourceInfo
}

// SourceRemoved announces that a source left the bus.
type SourceRemoved struct {
	ID uint32
}

// FormatChanged carries the parameters of a newly negotiated format.
type FormatChanged struct {
	ID     uint32
	Params ImageParameters
}

// FrameReady carries one frame of pixel data.
type FrameReady struct {
	ID    uint32
	Frame FrameBuffer
}

func (e SourceAppeared) SourceID() uint32 { return e.Source.ID }
func (e SourceRemoved) SourceID() uint32  { return e.ID }
func (e FormatChanged) SourceID() uint32  { return e.ID }
func (e FrameReady) SourceID() uint32     { return e.ID }

func (SourceAppeared) isUpdateEvent() {}
func (SourceRemoved) isUpdateEvent()  {}
func (FormatChanged) isUpdateEvent()  {}
func (FrameReady) isUpdateEvent()     {}

// ControlCommand is sent from the consumer to the protocol goroutine.
type ControlCommand interface {
	isControlCommand()
}

// CreateStream asks for a stream on a source.
type CreateStream struct {
	ID uint32
}

// DeleteStream asks for the stream on a source to be torn down.
type DeleteStream struct {
	ID uint32
}

// Terminate ends the protocol loop.
type Terminate struct{}

func (CreateStream) isControlCommand() {}
func (DeleteStream) isControlCommand() {}
func (Terminate) isControlCommand()    {}
