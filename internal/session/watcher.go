package session

import (
	"log/slog"
	"sort"

	"github.com/smazurov/pwtexture/internal/relay"
	"github.com/smazurov/pwtexture/pkg/pipewire"
)

// Watcher announces video sources from registry events.
type Watcher struct {
	frames         *relay.FrameChannel
	includeStreams bool
	announced      map[uint32]struct{}
	logger         *slog.Logger
}

// NewWatcher creates a watcher that reports to frames. With includeStreams,
// application video streams count as sources too.
func NewWatcher(frames *relay.FrameChannel, includeStreams bool, logger *slog.Logger) *Watcher {
	return &Watcher{
		frames:         frames,
		includeStreams: includeStreams,
		announced:      make(map[uint32]struct{}),
		logger:         logger,
	}
}

// Events returns the registry listener.
func (w *Watcher) Events() pipewire.RegistryEvents {
	return pipewire.RegistryEvents{
		Global:       w.onGlobal,
		GlobalRemove: w.onGlobalRemove,
	}
}

func (w *Watcher) isVideoSource(g pipewire.GlobalObject) bool {
	if g.Type != pipewire.TypeInterfaceNode {
		return false
	}
	switch g.Props[pipewire.KeyMediaClass] {
	case pipewire.MediaClassVideoSource:
		return true
	case pipewire.MediaClassVideoStream:
		return w.includeStreams
	default:
		return false
	}
}

func (w *Watcher) onGlobal(g pipewire.GlobalObject) {
	if !w.isVideoSource(g) {
		return
	}
	if _, ok := w.announced[g.ID]; ok {
		return
	}
	w.announced[g.ID] = struct{}{}

	info := relay.SourceInfo{
		ID:          g.ID,
		Name:        g.Props[pipewire.KeyNodeName],
		Description: g.Props[pipewire.KeyNodeDescription],
		MediaClass:  g.Props[pipewire.KeyMediaClass],
		Serial:      g.Props[pipewire.KeyObjectSerial],
		Version:     g.Version,
		Props:       g.Props.Clone(),
	}
	if info.Description == "" {
		info.Description = g.Props[pipewire.KeyNodeNick]
	}
	w.logger.Info("Source appeared", "source_id", g.ID, "name", info.Name, "media_class", info.MediaClass)
	if !w.frames.Send(relay.SourceAppeared{Source: info}) {
		w.logger.Warn("Frame channel full, source announcement lost", "source_id", g.ID)
	}
}

func (w *Watcher) onGlobalRemove(id uint32) {
	if _, ok := w.announced[id]; !ok {
		return
	}
	delete(w.announced, id)
	w.logger.Info("Source removed", "source_id", id)
	if !w.frames.Send(relay.SourceRemoved{ID: id}) {
		w.logger.Warn("Frame channel full, source removal lost", "source_id", id)
	}
}

// removeAll reports every announced source as removed, in id order.
func (w *Watcher) removeAll() {
	for _, id := range w.announcedIDs() {
		w.onGlobalRemove(id)
	}
}

// announcedIDs returns the ids announced and not yet removed, sorted.
func (w *Watcher) announcedIDs() []uint32 {
	ids := make([]uint32, 0, len(w.announced))
	for id := range w.announced {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
