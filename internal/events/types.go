package events

import "github.com/smazurov/pwtexture/internal/relay"

// Event type constants for kelindar/event.
const (
	TypeSourceAdded uint32 = iota + 1
	TypeSourceRemoved
	TypeTextureConnected
	TypeTextureDisconnected
	TypeTextureFormatChanged
	TypeSourceStats
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SourceAddedEvent is published when a capture source appears on the bus.
type SourceAddedEvent struct {
	Source    relay.SourceInfo `json:"source" doc:"Discovered source"`
	Timestamp string           `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SourceAddedEvent.
func (e SourceAddedEvent) Type() uint32 { return TypeSourceAdded }

// SourceRemovedEvent is published when a capture source leaves the bus.
type SourceRemovedEvent struct {
	SourceID  uint32 `json:"source_id" example:"57" doc:"Registry id of the removed source"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SourceRemovedEvent.
func (e SourceRemovedEvent) Type() uint32 { return TypeSourceRemoved }

// TextureConnectedEvent is published when a texture is bound to a source.
type TextureConnectedEvent struct {
	Handle    uint64 `json:"handle" example:"4294967297" doc:"Texture handle"`
	SourceID  uint32 `json:"source_id" example:"57" doc:"Bound source"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for TextureConnectedEvent.
func (e TextureConnectedEvent) Type() uint32 { return TypeTextureConnected }

// TextureDisconnectedEvent is published when a texture binding is released.
type TextureDisconnectedEvent struct {
	Handle    uint64 `json:"handle" example:"4294967297" doc:"Texture handle"`
	SourceID  uint32 `json:"source_id" example:"57" doc:"Previously bound source"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for TextureDisconnectedEvent.
func (e TextureDisconnectedEvent) Type() uint32 { return TypeTextureDisconnected }

// TextureFormatChangedEvent is published when a source negotiates a new format.
type TextureFormatChangedEvent struct {
	SourceID     uint32 `json:"source_id" example:"57" doc:"Source that renegotiated"`
	Width        int32  `json:"width" example:"1280" doc:"Frame width in pixels"`
	Height       int32  `json:"height" example:"720" doc:"Frame height in pixels"`
	Mipmaps      bool   `json:"mipmaps" example:"false" doc:"Whether textures use mipmaps"`
	PixelFormat  string `json:"pixel_format" example:"RGBA8" doc:"Texture pixel format"`
	SourceFormat string `json:"source_format" example:"RGBA" doc:"Negotiated wire format"`
	Textures     int    `json:"textures" example:"1" doc:"Number of textures updated"`
	Timestamp    string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for TextureFormatChangedEvent.
func (e TextureFormatChangedEvent) Type() uint32 { return TypeTextureFormatChanged }

// SourceStatsEvent carries per-source relay counters.
type SourceStatsEvent struct {
	EventType    string `json:"type"`
	SourceID     uint32 `json:"source_id"`
	Frames       uint64 `json:"frames"`
	Bytes        uint64 `json:"bytes"`
	BufferMisses uint64 `json:"buffer_misses"`
	FPS          string `json:"fps"`
}

// Type returns the event type identifier for SourceStatsEvent.
func (e SourceStatsEvent) Type() uint32 { return TypeSourceStats }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"session" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
