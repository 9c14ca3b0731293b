package session

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/smazurov/pwtexture/internal/metrics"
	"github.com/smazurov/pwtexture/internal/relay"
	"github.com/smazurov/pwtexture/pkg/pipewire"
	"github.com/smazurov/pwtexture/pkg/spa"
)

// State represents the negotiation state of a stream.
type State string

// Negotiation states.
const (
	StateCreated        State = "created"         // Stream exists, not connected
	StateAwaitingFormat State = "awaiting_format" // Connected, no format accepted yet
	StateStreaming      State = "streaming"       // Format accepted, frames flow
	StateClosed         State = "closed"          // Disconnected
)

// DefaultMediaRole is announced when no role is configured.
const DefaultMediaRole = "Game"

// NegotiatorConfig configures a Negotiator.
type NegotiatorConfig struct {
	SourceID  uint32
	MediaRole string
	Proposal  spa.VideoProposal
	Frames    *relay.FrameChannel
	Logger    *slog.Logger
	// OnChange runs after every state or format change.
	OnChange func()
}

// Negotiator drives one stream from connection to frame delivery.
// All methods and callbacks run on the loop goroutine.
type Negotiator struct {
	cfg    NegotiatorConfig
	stream pipewire.Stream
	state  State
	format spa.VideoInfoRaw
	logger *slog.Logger
}

// NewNegotiator creates a stream on core and connects it to the source with
// the configured format proposal.
func NewNegotiator(core Core, cfg NegotiatorConfig) (*Negotiator, error) {
	if cfg.MediaRole == "" {
		cfg.MediaRole = DefaultMediaRole
	}
	if len(cfg.Proposal.Formats) == 0 {
		cfg.Proposal = spa.DefaultVideoProposal()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	n := &Negotiator{
		cfg:    cfg,
		state:  StateCreated,
		logger: cfg.Logger.With("source_id", cfg.SourceID),
	}

	enumFormat, err := spa.BuildEnumFormat(cfg.Proposal)
	if err != nil {
		return nil, fmt.Errorf("build format proposal: %w", err)
	}

	props := pipewire.Properties{
		pipewire.KeyMediaType:     "Video",
		pipewire.KeyMediaCategory: "Capture",
		pipewire.KeyMediaRole:     cfg.MediaRole,
	}
	stream, err := core.NewStream(fmt.Sprintf("pwtexture-%d", cfg.SourceID), props, pipewire.StreamEvents{
		StateChanged: n.onStateChanged,
		ParamChanged: n.onParamChanged,
		Process:      n.onProcess,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream for source %d: %w", cfg.SourceID, err)
	}
	n.stream = stream

	flags := pipewire.StreamFlagAutoConnect | pipewire.StreamFlagMapBuffers
	if err := stream.Connect(pipewire.DirectionInput, cfg.SourceID, flags, enumFormat); err != nil {
		_ = stream.Disconnect()
		return nil, fmt.Errorf("connect stream to source %d: %w", cfg.SourceID, err)
	}
	n.setState(StateAwaitingFormat)
	n.logger.Debug("Stream connected, awaiting format")
	return n, nil
}

// State returns the current state.
func (n *Negotiator) State() State {
	return n.state
}

// Format returns the accepted format. It is zero until the stream is Streaming.
func (n *Negotiator) Format() spa.VideoInfoRaw {
	return n.format
}

func (n *Negotiator) setState(s State) {
	n.state = s
	if n.cfg.OnChange != nil {
		n.cfg.OnChange()
	}
}

func (n *Negotiator) onStateChanged(old, state pipewire.StreamState, err error) {
	if err != nil {
		n.logger.Warn("Stream error", "from", old, "to", state, "error", err)
		return
	}
	n.logger.Debug("Stream state changed", "from", old, "to", state)
}

func (n *Negotiator) onParamChanged(id uint32, param spa.Pod) {
	if n.state == StateClosed || id != spa.ParamFormat || param == nil {
		return
	}

	obj, err := param.Object()
	if err != nil {
		n.logger.Debug("Ignoring undecodable format", "error", err)
		metrics.RecordNegotiation(metrics.NegotiationIgnored)
		return
	}
	mediaType, mediaSubtype, err := spa.ParseFormat(obj)
	if err != nil {
		n.logger.Debug("Ignoring format without media type", "error", err)
		metrics.RecordNegotiation(metrics.NegotiationIgnored)
		return
	}
	if mediaType != spa.MediaTypeVideo || mediaSubtype != spa.MediaSubtypeRaw {
		n.logger.Debug("Ignoring non raw video format", "media_type", mediaType, "media_subtype", mediaSubtype)
		metrics.RecordNegotiation(metrics.NegotiationIgnored)
		return
	}

	info, err := spa.ParseVideoRaw(obj)
	if err != nil {
		n.logger.Debug("Rejecting format", "error", err)
		metrics.RecordNegotiation(metrics.NegotiationRejected)
		return
	}
	if !n.sizeAcceptable(info.Size) {
		n.logger.Debug("Rejecting format size", "width", info.Size.Width, "height", info.Size.Height)
		metrics.RecordNegotiation(metrics.NegotiationRejected)
		return
	}

	n.format = info
	n.setState(StateStreaming)
	metrics.RecordNegotiation(metrics.NegotiationAccepted)

	params := relay.ImageParameters{
		Width:   int32(info.Size.Width),
		Height:  int32(info.Size.Height),
		Mipmaps: false,
		Format:  relay.PixelFormatRGBA8,
		Source:  info.Format,
	}
	n.logger.Info("Format negotiated", "format", info.Format, "width", params.Width, "height", params.Height,
		"framerate", fmt.Sprintf("%d/%d", info.Framerate.Num, info.Framerate.Denom))
	if !n.cfg.Frames.Send(relay.FormatChanged{ID: n.cfg.SourceID, Params: params}) {
		n.logger.Warn("Frame channel full, format change lost")
	}
}

func (n *Negotiator) sizeAcceptable(size spa.Rectangle) bool {
	p := n.cfg.Proposal
	if size.Width > math.MaxInt32 || size.Height > math.MaxInt32 {
		return false
	}
	return size.Width >= p.MinSize.Width && size.Height >= p.MinSize.Height &&
		size.Width <= p.MaxSize.Width && size.Height <= p.MaxSize.Height
}

func (n *Negotiator) onProcess() {
	if n.state != StateStreaming {
		return
	}
	buf := n.stream.DequeueBuffer()
	if buf == nil {
		metrics.RecordBufferMiss(n.cfg.SourceID)
		return
	}
	if len(buf.Datas) == 0 || buf.Datas[0].Data == nil {
		n.stream.QueueBuffer(buf)
		return
	}

	d := buf.Datas[0]
	// Valid bytes start at the chunk offset within the mapping
	start := min(int(d.Chunk.Offset), len(d.Data))
	end := min(start+int(d.Chunk.Size), len(d.Data))
	frame := make([]byte, end-start)
	copy(frame, d.Data[start:end])
	n.stream.QueueBuffer(buf)

	metrics.RecordFrameRelayed(n.cfg.SourceID, len(frame))
	n.cfg.Frames.Send(relay.FrameReady{ID: n.cfg.SourceID, Frame: relay.FrameBuffer{Data: frame}})
}

// Close disconnects the stream. No events follow it.
func (n *Negotiator) Close() error {
	if n.state == StateClosed {
		return nil
	}
	n.setState(StateClosed)
	if err := n.stream.Disconnect(); err != nil {
		return fmt.Errorf("disconnect stream for source %d: %w", n.cfg.SourceID, err)
	}
	return nil
}
