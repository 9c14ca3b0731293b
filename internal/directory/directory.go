// Package directory is the consumer side of the relay.
//
// A Directory keeps an arena of consumer textures addressed by Handle, binds
// textures to sources, issues CreateStream and DeleteStream commands as the
// first binding for a source appears and the last one goes away, and drains
// the frame channel into the bound textures.
//
// A Directory is not safe for concurrent use. Every method must be called
// from the goroutine that polls it.
package directory

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/smazurov/pwtexture/internal/events"
	"github.com/smazurov/pwtexture/internal/logging"
	"github.com/smazurov/pwtexture/internal/metrics"
	"github.com/smazurov/pwtexture/internal/relay"
)

// DefaultPollBudget bounds the time one Poll may spend dispatching.
const DefaultPollBudget = 5 * time.Millisecond

// ErrUnknownTexture is returned for handles that are not registered.
var ErrUnknownTexture = errors.New("directory: unknown texture handle")

// Texture receives source updates.
type Texture interface {
	SetImageParameters(relay.ImageParameters)
	UpdateFrame(relay.FrameBuffer)
}

// Handle addresses a registered texture. The low 32 bits index the arena and
// the high 32 bits hold the slot generation, so a stale handle never reaches
// a texture registered later in the same slot.
type Handle uint64

func makeHandle(index, gen uint32) Handle { return Handle(uint64(gen)<<32 | uint64(index)) }

func (h Handle) index() uint32      { return uint32(h) }
func (h Handle) generation() uint32 { return uint32(h >> 32) }

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.index(), h.generation())
}

type slot struct {
	gen     uint32
	live    bool
	texture Texture
	bound   bool
	source  uint32
}

// TextureStatus describes one registered texture.
type TextureStatus struct {
	Handle    Handle
	Bound     bool
	SourceID  uint32
	HasParams bool
	Params    relay.ImageParameters
}

// Config wires a Directory to the relay channels.
type Config struct {
	Frames  *relay.FrameChannel
	Control *relay.ControlChannel
	// Bus is optional. When set, source and texture lifecycle events are published.
	Bus    *events.Bus
	Logger *slog.Logger
}

// Directory owns texture registrations and source bindings.
type Directory struct {
	frames  *relay.FrameChannel
	control *relay.ControlChannel
	bus     *events.Bus
	logger  *slog.Logger

	slots []slot
	free  []uint32

	// bindings keeps handles in bind order per source
	bindings map[uint32][]Handle
	params   map[uint32]relay.ImageParameters
	sources  map[uint32]relay.SourceInfo
}

// New creates an empty directory.
func New(cfg Config) *Directory {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger("directory")
	}
	return &Directory{
		frames:   cfg.Frames,
		control:  cfg.Control,
		bus:      cfg.Bus,
		logger:   logger,
		bindings: make(map[uint32][]Handle),
		params:   make(map[uint32]relay.ImageParameters),
		sources:  make(map[uint32]relay.SourceInfo),
	}
}

// Register adds t to the arena.
func (d *Directory) Register(t Texture) Handle {
	var index uint32
	if n := len(d.free); n > 0 {
		index = d.free[n-1]
		d.free = d.free[:n-1]
	} else {
		index = uint32(len(d.slots))
		d.slots = append(d.slots, slot{gen: 1})
	}
	s := &d.slots[index]
	s.live = true
	s.texture = t
	s.bound = false
	h := makeHandle(index, s.gen)
	d.logger.Debug("Texture registered", "handle", h.String())
	return h
}

// Unregister releases the binding of h, if any, and frees its slot.
func (d *Directory) Unregister(h Handle) error {
	s, err := d.slot(h)
	if err != nil {
		return err
	}
	if s.bound {
		d.unbind(h, s)
	}
	s.live = false
	s.texture = nil
	s.gen++
	d.free = append(d.free, h.index())
	d.logger.Debug("Texture unregistered", "handle", h.String())
	return nil
}

func (d *Directory) slot(h Handle) (*slot, error) {
	i := h.index()
	if int(i) >= len(d.slots) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTexture, h)
	}
	s := &d.slots[i]
	if !s.live || s.gen != h.generation() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTexture, h)
	}
	return s, nil
}

// Lookup returns the texture registered under h.
func (d *Directory) Lookup(h Handle) (Texture, bool) {
	s, err := d.slot(h)
	if err != nil {
		return nil, false
	}
	return s.texture, true
}

// Connect binds h to sourceID. Binding the same pair twice is a no-op; a
// texture bound elsewhere is moved. The first binding for a source requests
// a stream. Known parameters for the source are replayed to the texture.
func (d *Directory) Connect(h Handle, sourceID uint32) error {
	s, err := d.slot(h)
	if err != nil {
		return err
	}
	if s.bound {
		if s.source == sourceID {
			return nil
		}
		d.unbind(h, s)
	}

	s.bound = true
	s.source = sourceID
	d.bindings[sourceID] = append(d.bindings[sourceID], h)
	if len(d.bindings[sourceID]) == 1 {
		d.control.Send(relay.CreateStream{ID: sourceID})
		d.logger.Info("Requested stream", "source_id", sourceID)
	}
	if p, ok := d.params[sourceID]; ok {
		s.texture.SetImageParameters(p)
	}

	d.publish(events.TextureConnectedEvent{Handle: uint64(h), SourceID: sourceID, Timestamp: now()})
	return nil
}

// Disconnect unbinds h from sourceID. The last binding for a source releases
// its stream. Disconnecting a texture that is not bound to sourceID is a no-op.
func (d *Directory) Disconnect(h Handle, sourceID uint32) error {
	s, err := d.slot(h)
	if err != nil {
		return err
	}
	if !s.bound || s.source != sourceID {
		return nil
	}
	d.unbind(h, s)
	return nil
}

func (d *Directory) unbind(h Handle, s *slot) {
	id := s.source
	s.bound = false
	s.source = 0

	handles := slices.DeleteFunc(d.bindings[id], func(b Handle) bool { return b == h })
	if len(handles) > 0 {
		d.bindings[id] = handles
	} else {
		delete(d.bindings, id)
		delete(d.params, id)
		d.control.Send(relay.DeleteStream{ID: id})
		d.logger.Info("Released stream", "source_id", id)
	}
	d.publish(events.TextureDisconnectedEvent{Handle: uint64(h), SourceID: id, Timestamp: now()})
}

// Bindings reports how many textures are bound to sourceID.
func (d *Directory) Bindings(sourceID uint32) int {
	return len(d.bindings[sourceID])
}

// Poll drains the frame channel until it is empty or budget is spent, and
// returns the number of events handled. At least one event is handled when
// any is queued. A non-positive budget selects DefaultPollBudget.
func (d *Directory) Poll(budget time.Duration) int {
	if budget <= 0 {
		budget = DefaultPollBudget
	}
	start := time.Now()
	n := 0
	for {
		e, ok := d.frames.TryRecv()
		if !ok {
			break
		}
		d.dispatch(e)
		n++
		if time.Since(start) >= budget {
			break
		}
	}
	metrics.ObservePoll(time.Since(start))
	return n
}

func (d *Directory) dispatch(e relay.UpdateEvent) {
	switch e := e.(type) {
	case relay.SourceAppeared:
		d.sources[e.Source.ID] = e.Source
		metrics.SetKnownSources(len(d.sources))
		d.logger.Info("Source appeared", "source_id", e.Source.ID, "name", e.Source.Name, "class", e.Source.MediaClass)
		d.publish(events.SourceAddedEvent{Source: e.Source, Timestamp: now()})

	case relay.SourceRemoved:
		if _, ok := d.sources[e.ID]; !ok {
			return
		}
		delete(d.sources, e.ID)
		metrics.SetKnownSources(len(d.sources))
		d.logger.Info("Source removed", "source_id", e.ID, "bindings", len(d.bindings[e.ID]))
		d.publish(events.SourceRemovedEvent{SourceID: e.ID, Timestamp: now()})

	case relay.FormatChanged:
		handles := d.bindings[e.ID]
		if len(handles) == 0 {
			metrics.RecordFrameDropped(metrics.DropUnbound)
			d.logger.Debug("Format for unbound source dropped", "source_id", e.ID)
			return
		}
		d.params[e.ID] = e.Params
		for _, h := range handles {
			d.slots[h.index()].texture.SetImageParameters(e.Params)
		}
		d.logger.Info("Format changed", "source_id", e.ID, "params", e.Params.String())
		d.publish(events.TextureFormatChangedEvent{
			SourceID:     e.ID,
			Width:        e.Params.Width,
			Height:       e.Params.Height,
			Mipmaps:      e.Params.Mipmaps,
			PixelFormat:  string(e.Params.Format),
			SourceFormat: e.Params.Source.String(),
			Textures:     len(handles),
			Timestamp:    now(),
		})

	case relay.FrameReady:
		handles := d.bindings[e.ID]
		if len(handles) == 0 {
			metrics.RecordFrameDropped(metrics.DropUnbound)
			return
		}
		// the last texture takes the buffer, earlier ones get copies
		last := len(handles) - 1
		for _, h := range handles[:last] {
			frame := relay.FrameBuffer{Data: slices.Clone(e.Frame.Data)}
			d.slots[h.index()].texture.UpdateFrame(frame)
		}
		d.slots[handles[last].index()].texture.UpdateFrame(e.Frame)
	}
}

// EnumerateSources returns the known source ids in ascending order.
func (d *Directory) EnumerateSources() []uint32 {
	ids := make([]uint32, 0, len(d.sources))
	for id := range d.sources {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Sources returns the known sources ordered by id.
func (d *Directory) Sources() []relay.SourceInfo {
	out := make([]relay.SourceInfo, 0, len(d.sources))
	for _, id := range d.EnumerateSources() {
		out = append(out, d.sources[id])
	}
	return out
}

// Source returns one known source.
func (d *Directory) Source(id uint32) (relay.SourceInfo, bool) {
	info, ok := d.sources[id]
	return info, ok
}

// Textures returns the status of every registered texture ordered by slot.
func (d *Directory) Textures() []TextureStatus {
	var out []TextureStatus
	for i := range d.slots {
		s := &d.slots[i]
		if !s.live {
			continue
		}
		st := TextureStatus{Handle: makeHandle(uint32(i), s.gen), Bound: s.bound}
		if s.bound {
			st.SourceID = s.source
			st.Params, st.HasParams = d.params[s.source]
		}
		out = append(out, st)
	}
	return out
}

func (d *Directory) publish(ev events.Event) {
	if d.bus != nil {
		d.bus.Publish(ev)
	}
}

func now() string { return time.Now().Format(time.RFC3339) }
