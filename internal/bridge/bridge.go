// Package bridge assembles the capture session, the relay channels, the
// texture directory and its frame loop into one service with a single
// Start/Stop lifecycle. The HTTP API and the CLI commands drive textures
// through it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/pwtexture/internal/capture"
	"github.com/smazurov/pwtexture/internal/directory"
	"github.com/smazurov/pwtexture/internal/events"
	"github.com/smazurov/pwtexture/internal/host"
	"github.com/smazurov/pwtexture/internal/logging"
	"github.com/smazurov/pwtexture/internal/metrics/exporters"
	"github.com/smazurov/pwtexture/internal/relay"
	"github.com/smazurov/pwtexture/internal/session"
	"github.com/smazurov/pwtexture/internal/texture"
)

// Defaults for Config.
const (
	DefaultQueueDepth   = 64
	DefaultFrameReserve = 8
)

var (
	// ErrNotTexture is returned when a handle does not hold an image texture.
	ErrNotTexture = errors.New("bridge: handle is not an image texture")
	// ErrUnknownSource is returned when connecting to a source the registry never announced.
	ErrUnknownSource = errors.New("bridge: unknown source")
)

// Config configures a Bridge.
type Config struct {
	Capture capture.Options
	// Connector overrides the capture backend. Tests use it to inject a fake bus.
	Connector session.Connector

	IterateTimeout time.Duration
	MediaRole      string
	IncludeStreams bool

	QueueDepth   int
	FrameReserve int

	FPS        int
	PollBudget time.Duration

	// StatsEvents publishes per-source counters on the event bus every second.
	StatsEvents bool
	// ForwardLogs publishes every log entry on the event bus.
	ForwardLogs bool

	// RequireKnownSource rejects connections to ids the registry has not announced.
	RequireKnownSource bool

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Connector == nil {
		c.Connector = capture.Connector(c.Capture)
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.FrameReserve < 0 || c.FrameReserve >= c.QueueDepth {
		c.FrameReserve = min(DefaultFrameReserve, c.QueueDepth/2)
	}
	if c.Logger == nil {
		c.Logger = logging.GetLogger("bridge")
	}
}

// Bridge is the assembled service.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	bus     *events.Bus
	frames  *relay.FrameChannel
	control *relay.ControlChannel
	session *session.Manager
	dir     *directory.Directory
	runner  *host.Runner
	stats   *exporters.SSEExporter

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires a stopped bridge.
func New(cfg Config) *Bridge {
	cfg.setDefaults()

	bus := events.New()
	frames := relay.NewFrameChannel(cfg.QueueDepth, cfg.FrameReserve)
	control := relay.NewControlChannel()
	dir := directory.New(directory.Config{
		Frames:  frames,
		Control: control,
		Bus:     bus,
	})

	b := &Bridge{
		cfg:     cfg,
		logger:  cfg.Logger,
		bus:     bus,
		frames:  frames,
		control: control,
		dir:     dir,
		session: session.NewManager(session.Config{
			Connector:      cfg.Connector,
			Frames:         frames,
			Control:        control,
			IterateTimeout: cfg.IterateTimeout,
			MediaRole:      cfg.MediaRole,
			IncludeStreams: cfg.IncludeStreams,
		}),
		runner: host.NewRunner(host.Config{
			Directory:  dir,
			FPS:        cfg.FPS,
			PollBudget: cfg.PollBudget,
		}),
	}
	if cfg.StatsEvents {
		b.stats = exporters.NewSSEExporter(bus)
	}
	return b
}

// Start connects the session and starts the frame loop. A failed bus
// connection is returned and leaves nothing running.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return session.ErrAlreadyStarted
	}

	if err := b.session.Start(ctx); err != nil {
		return err
	}
	b.started = true

	if b.cfg.ForwardLogs {
		logging.SetLogCallback(b.forwardLog)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.runner.Run(runCtx); err != nil {
			b.logger.Error("Frame loop failed", "error", err)
		}
	}()

	if b.stats != nil {
		b.stats.Start(runCtx)
	}

	b.logger.Info("Bridge started", "session_id", b.session.ID())
	return nil
}

// Stop halts the frame loop and terminates the session, waiting for both.
// It is safe to call more than once.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}
	b.started = false

	if b.cfg.ForwardLogs {
		logging.SetLogCallback(nil)
	}
	if b.stats != nil {
		b.stats.Stop()
	}
	b.cancel()
	b.wg.Wait()
	b.session.Stop()
	b.logger.Info("Bridge stopped")
}

func (b *Bridge) forwardLog(entry logging.LogEntry) {
	b.bus.Publish(events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	})
}

// Bus returns the lifecycle event bus.
func (b *Bridge) Bus() *events.Bus { return b.bus }

// SessionID returns the id of the underlying session.
func (b *Bridge) SessionID() string { return b.session.ID() }

// Running reports whether the protocol goroutine is live.
func (b *Bridge) Running() bool { return b.session.Running() }

// Err reports why the session ended on its own, wrapping
// session.ErrConnectionLost, or nil.
func (b *Bridge) Err() error { return b.session.Err() }

// Streams returns the live streams of the session.
func (b *Bridge) Streams() []session.StreamStatus { return b.session.Streams() }

// Stats reports frame loop counters and relay drops.
func (b *Bridge) Stats() Stats {
	return Stats{
		HostFrames:    b.runner.Frames(),
		RelayEvents:   b.runner.Events(),
		DroppedFrames: b.frames.Dropped(),
		QueueLength:   b.frames.Len(),
	}
}

// Stats are frame loop counters.
type Stats struct {
	HostFrames    uint64
	RelayEvents   uint64
	DroppedFrames uint64
	QueueLength   int
}

// Sources returns the sources currently announced by the registry.
func (b *Bridge) Sources(ctx context.Context) ([]relay.SourceInfo, error) {
	var out []relay.SourceInfo
	err := b.runner.Call(ctx, func(d *directory.Directory) error {
		out = d.Sources()
		return nil
	})
	return out, err
}

// TextureInfo describes one texture managed by the bridge.
type TextureInfo struct {
	directory.TextureStatus
	Name    string
	Frames  uint64
	Updated time.Time
}

// Textures returns every texture.
func (b *Bridge) Textures(ctx context.Context) ([]TextureInfo, error) {
	var out []TextureInfo
	err := b.runner.Call(ctx, func(d *directory.Directory) error {
		for _, st := range d.Textures() {
			info, err := describe(d, st)
			if err != nil {
				return err
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

// Texture returns one texture.
func (b *Bridge) Texture(ctx context.Context, h directory.Handle) (TextureInfo, error) {
	var out TextureInfo
	err := b.runner.Call(ctx, func(d *directory.Directory) error {
		for _, st := range d.Textures() {
			if st.Handle == h {
				var err error
				out, err = describe(d, st)
				return err
			}
		}
		return fmt.Errorf("%w: %s", directory.ErrUnknownTexture, h)
	})
	return out, err
}

func describe(d *directory.Directory, st directory.TextureStatus) (TextureInfo, error) {
	t, err := imageTexture(d, st.Handle)
	if err != nil {
		return TextureInfo{}, err
	}
	return TextureInfo{TextureStatus: st, Name: t.Name(), Frames: t.Frames(), Updated: t.Updated()}, nil
}

func imageTexture(d *directory.Directory, h directory.Handle) (*texture.ImageTexture, error) {
	t, ok := d.Lookup(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", directory.ErrUnknownTexture, h)
	}
	img, ok := t.(*texture.ImageTexture)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotTexture, h)
	}
	return img, nil
}

// CreateTexture registers a new texture and binds it to sourceID.
func (b *Bridge) CreateTexture(ctx context.Context, name string, sourceID uint32) (directory.Handle, error) {
	var h directory.Handle
	err := b.runner.Call(ctx, func(d *directory.Directory) error {
		if err := b.checkSource(d, sourceID); err != nil {
			return err
		}
		h = d.Register(texture.New(name))
		if err := d.Connect(h, sourceID); err != nil {
			_ = d.Unregister(h)
			return err
		}
		return nil
	})
	return h, err
}

// ConnectTexture moves a texture to sourceID.
func (b *Bridge) ConnectTexture(ctx context.Context, h directory.Handle, sourceID uint32) error {
	return b.runner.Call(ctx, func(d *directory.Directory) error {
		if err := b.checkSource(d, sourceID); err != nil {
			return err
		}
		return d.Connect(h, sourceID)
	})
}

// DisconnectTexture unbinds a texture from sourceID and keeps it registered.
func (b *Bridge) DisconnectTexture(ctx context.Context, h directory.Handle, sourceID uint32) error {
	return b.runner.Call(ctx, func(d *directory.Directory) error {
		return d.Disconnect(h, sourceID)
	})
}

// DeleteTexture unbinds and forgets a texture.
func (b *Bridge) DeleteTexture(ctx context.Context, h directory.Handle) error {
	return b.runner.Call(ctx, func(d *directory.Directory) error {
		return d.Unregister(h)
	})
}

// Snapshot copies the current image of a texture.
func (b *Bridge) Snapshot(ctx context.Context, h directory.Handle) (texture.Snapshot, error) {
	var snap texture.Snapshot
	err := b.runner.Call(ctx, func(d *directory.Directory) error {
		t, err := imageTexture(d, h)
		if err != nil {
			return err
		}
		snap, err = t.Snapshot()
		return err
	})
	return snap, err
}

func (b *Bridge) checkSource(d *directory.Directory, sourceID uint32) error {
	if !b.cfg.RequireKnownSource {
		return nil
	}
	if _, ok := d.Source(sourceID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSource, sourceID)
	}
	return nil
}
