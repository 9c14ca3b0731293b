package pipewire

import (
	"sort"

	"github.com/smazurov/pwtexture/pkg/spa"
)

// Interface types announced by the registry.
const (
	TypeInterfaceNode   = "PipeWire:Interface:Node"
	TypeInterfaceDevice = "PipeWire:Interface:Device"
	TypeInterfacePort   = "PipeWire:Interface:Port"
)

// Well known property keys.
const (
	KeyApplicationName    = "application.name"
	KeyApplicationVersion = "application.version"
	KeyMediaClass         = "media.class"
	KeyMediaType          = "media.type"
	KeyMediaCategory      = "media.category"
	KeyMediaRole          = "media.role"
	KeyNodeName           = "node.name"
	KeyNodeDescription    = "node.description"
	KeyNodeNick           = "node.nick"
	KeyObjectSerial       = "object.serial"
	KeyTargetObject       = "target.object"
)

// Media classes of video producers.
const (
	MediaClassVideoSource = "Video/Source"
	MediaClassVideoStream = "Stream/Output/Video"
)

// IDAny lets the session manager pick a target node.
const IDAny uint32 = 0xffffffff

// Properties is a PipeWire string dictionary.
type Properties map[string]string

// Keys returns the keys in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// GlobalObject is an object announced by the registry.
type GlobalObject struct {
	ID          uint32
	Permissions uint32
	Type        string
	Version     uint32
	Props       Properties
}

// RegistryEvents receives registry notifications on the loop goroutine.
// Nil members are skipped.
type RegistryEvents struct {
	Global       func(GlobalObject)
	GlobalRemove func(id uint32)
}

// Direction of a stream relative to this client.
type Direction uint32

const (
	DirectionInput  Direction = 0
	DirectionOutput Direction = 1
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// StreamFlags modify how a stream connects.
type StreamFlags uint32

const (
	StreamFlagAutoConnect StreamFlags = 1 << 0
	StreamFlagInactive    StreamFlags = 1 << 1
	StreamFlagMapBuffers  StreamFlags = 1 << 2
	StreamFlagDriver      StreamFlags = 1 << 3
	StreamFlagRTProcess   StreamFlags = 1 << 4
)

// Has reports whether all bits of f are set.
func (s StreamFlags) Has(f StreamFlags) bool {
	return s&f == f
}

// StreamState is the connection state of a stream.
type StreamState int

const (
	StreamStateError       StreamState = -1
	StreamStateUnconnected StreamState = 0
	StreamStateConnecting  StreamState = 1
	StreamStatePaused      StreamState = 2
	StreamStateStreaming   StreamState = 3
)

func (s StreamState) String() string {
	switch s {
	case StreamStateError:
		return "error"
	case StreamStateUnconnected:
		return "unconnected"
	case StreamStateConnecting:
		return "connecting"
	case StreamStatePaused:
		return "paused"
	case StreamStateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// StreamEvents receives stream notifications on the loop goroutine.
// Nil members are skipped.
type StreamEvents struct {
	StateChanged func(old, state StreamState, err error)
	ParamChanged func(id uint32, param spa.Pod)
	Process      func()
}

// Stream is a media stream between this client and a node.
// All methods must be called on the loop goroutine.
type Stream interface {
	// Connect starts negotiation with target using params as the offered formats.
	Connect(dir Direction, target uint32, flags StreamFlags, params ...spa.Pod) error
	// DequeueBuffer returns the next filled buffer or nil if none is ready.
	DequeueBuffer() *Buffer
	// QueueBuffer hands a dequeued buffer back for reuse.
	QueueBuffer(b *Buffer)
	// Disconnect stops the stream. No callbacks follow it.
	Disconnect() error
}

// Chunk describes the valid region of a Data plane.
type Chunk struct {
	Offset uint32
	Size   uint32
	Stride int32
	Flags  int32
}

// Data is one plane of a buffer.
type Data struct {
	Data    []byte // mapped memory, len is the mapped size
	MaxSize uint32
	Chunk   Chunk
}

// Buffer is a set of planes dequeued from a stream.
type Buffer struct {
	Datas []Data
}
