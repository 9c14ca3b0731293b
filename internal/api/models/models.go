package models

import (
	"time"

	"github.com/smazurov/pwtexture/internal/events"
)

// Health check models
type HealthData struct {
	Status    string `json:"status" example:"ok" enum:"ok,degraded" doc:"Service status"`
	Message   string `json:"message" example:"Session running" doc:"Status message"`
	SessionID string `json:"session_id" example:"0b8e5c0a-8f3e-4f7e-9d55-3c5f1e7a2b10" doc:"Bus session instance id"`
	Streams   int    `json:"streams" example:"2" doc:"Open source streams"`
	Error     string `json:"error,omitempty" example:"session: bus connection lost: pipewire: connection closed" doc:"Why the session ended"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.21.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
	Protocol  int    `json:"protocol" example:"3" doc:"PipeWire core protocol version"`
}

type VersionResponse struct {
	Body VersionData
}

// Source models
type SourceData struct {
	ID          uint32            `json:"id" example:"57" doc:"Registry object id"`
	Name        string            `json:"name,omitempty" example:"v4l2_input.pci-0000_00_14.0-usb-0_1_1.0" doc:"Node name"`
	Description string            `json:"description,omitempty" example:"HD Webcam" doc:"Human-readable description"`
	MediaClass  string            `json:"media_class" example:"Video/Source" doc:"Media class"`
	Serial      string            `json:"serial,omitempty" example:"112" doc:"Object serial"`
	Streaming   bool              `json:"streaming" doc:"Whether a stream is open for this source"`
	Props       map[string]string `json:"props,omitempty" doc:"All registry properties"`
}

type SourceListData struct {
	Sources []SourceData `json:"sources" doc:"Sources announced by the registry"`
	Count   int          `json:"count" example:"2" doc:"Number of sources"`
}

type SourceListResponse struct {
	Body SourceListData
}

// Stream models
type StreamData struct {
	SourceID uint32 `json:"source_id" example:"57" doc:"Source the stream reads"`
	State    string `json:"state" example:"streaming" enum:"created,awaiting_format,streaming,closed" doc:"Negotiation state"`
	Format   string `json:"format,omitempty" example:"BGRx" doc:"Negotiated video format"`
	Width    uint32 `json:"width,omitempty" example:"1280" doc:"Negotiated width"`
	Height   uint32 `json:"height,omitempty" example:"720" doc:"Negotiated height"`
}

type StreamListData struct {
	Streams []StreamData `json:"streams" doc:"Streams owned by the session"`
	Count   int          `json:"count" example:"1" doc:"Number of streams"`
}

type StreamListResponse struct {
	Body StreamListData
}

// Texture models
type ImageParametersData struct {
	Width        int32  `json:"width" example:"1280" doc:"Image width"`
	Height       int32  `json:"height" example:"720" doc:"Image height"`
	Mipmaps      bool   `json:"mipmaps" example:"false" doc:"Whether mipmaps are generated"`
	PixelFormat  string `json:"pixel_format" example:"RGBA8" doc:"Texture storage format"`
	SourceFormat string `json:"source_format" example:"BGRx" doc:"Negotiated wire format"`
}

type TextureData struct {
	Handle    uint64               `json:"handle" example:"4294967296" doc:"Texture handle"`
	Label     string               `json:"label" example:"0.1" doc:"Handle as slot.generation"`
	Name      string               `json:"name" example:"preview" doc:"Texture name"`
	Bound     bool                 `json:"bound" doc:"Whether the texture is bound to a source"`
	SourceID  uint32               `json:"source_id,omitempty" example:"57" doc:"Bound source"`
	Params    *ImageParametersData `json:"params,omitempty" doc:"Current image parameters"`
	Frames    uint64               `json:"frames" example:"1800" doc:"Frames received"`
	UpdatedAt *time.Time           `json:"updated_at,omitempty" doc:"When the last frame arrived"`
}

type TextureListData struct {
	Textures []TextureData `json:"textures" doc:"Registered textures"`
	Count    int           `json:"count" example:"1" doc:"Number of textures"`
}

type TextureListResponse struct {
	Body TextureListData
}

type TextureResponse struct {
	Body TextureData
}

type TextureRequestData struct {
	SourceID uint32 `json:"source_id" example:"57" doc:"Source to bind"`
	Name     string `json:"name,omitempty" maxLength:"64" example:"preview" doc:"Optional texture name"`
}

type TextureRequest struct {
	Body TextureRequestData
}

type TextureHandleInput struct {
	Handle uint64 `path:"handle" example:"4294967296" doc:"Texture handle"`
}

type TextureSourceRequest struct {
	Handle uint64 `path:"handle" example:"4294967296" doc:"Texture handle"`
	Body   struct {
		SourceID uint32 `json:"source_id" example:"57" doc:"Source to bind"`
	}
}

type SnapshotResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Frame        uint64 `header:"X-Frame-Number"`
	Body         []byte
}

// Log models
type LogListInput struct {
	Module string `query:"module" example:"session" doc:"Only entries of this module"`
	Level  string `query:"level" enum:"debug,info,warn,error" doc:"Only entries at this level"`
	Limit  int    `query:"limit" minimum:"0" maximum:"1000" default:"200" doc:"Most recent entries to return"`
}

type LogListData struct {
	Entries []events.LogEntryEvent `json:"entries" doc:"Buffered log entries, oldest first"`
	Count   int                    `json:"count" example:"200" doc:"Number of entries"`
}

type LogListResponse struct {
	Body LogListData
}

type LogLevelsData struct {
	Level   string            `json:"level" example:"info" doc:"Global level"`
	Modules map[string]string `json:"modules,omitempty" doc:"Per-module levels"`
}

type LogLevelsResponse struct {
	Body LogLevelsData
}

type LogLevelsRequest struct {
	Body LogLevelsData
}

// Stats models
type StatsData struct {
	HostFrames    uint64 `json:"host_frames" example:"36000" doc:"Frame loop iterations"`
	RelayEvents   uint64 `json:"relay_events" example:"18000" doc:"Relay events dispatched"`
	DroppedFrames uint64 `json:"dropped_frames" example:"0" doc:"Frames shed by a full frame channel"`
	QueueLength   int    `json:"queue_length" example:"0" doc:"Events waiting in the frame channel"`
}

type StatsResponse struct {
	Body StatsData
}
