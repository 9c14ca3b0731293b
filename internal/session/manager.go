package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/pwtexture/internal/logging"
	"github.com/smazurov/pwtexture/internal/metrics"
	"github.com/smazurov/pwtexture/internal/relay"
	"github.com/smazurov/pwtexture/pkg/pipewire"
	"github.com/smazurov/pwtexture/pkg/spa"
)

// DefaultIterateTimeout bounds how long one loop iteration waits for work.
const DefaultIterateTimeout = 50 * time.Millisecond

// Config configures a Manager.
type Config struct {
	// Connector establishes the bus connection (required).
	Connector Connector
	// Frames receives every UpdateEvent (required).
	Frames *relay.FrameChannel
	// Control delivers commands to the protocol goroutine (required).
	Control *relay.ControlChannel

	IterateTimeout time.Duration
	MediaRole      string
	IncludeStreams bool
	Proposal       spa.VideoProposal

	// Logger for session operations. If nil, uses the "session" module logger.
	Logger *slog.Logger
}

// StreamStatus is a snapshot of one stream.
type StreamStatus struct {
	SourceID uint32          `json:"source_id"`
	State    State           `json:"state"`
	Format   spa.VideoFormat `json:"-"`
	Width    uint32          `json:"width,omitempty"`
	Height   uint32          `json:"height,omitempty"`
}

// Manager owns the protocol goroutine.
type Manager struct {
	cfg    Config
	id     string
	logger *slog.Logger

	mu       sync.Mutex
	started  bool
	done     chan struct{}
	stopOnce sync.Once
	status   atomic.Pointer[[]StreamStatus]
	lostErr  atomic.Pointer[error]

	// owned by the protocol goroutine
	core        Core
	watcher     *Watcher
	negotiators map[uint32]*Negotiator
	quit        bool
}

// NewManager creates a stopped manager.
func NewManager(cfg Config) *Manager {
	if cfg.IterateTimeout <= 0 {
		cfg.IterateTimeout = DefaultIterateTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger("session")
	}
	id := uuid.NewString()
	m := &Manager{
		cfg:         cfg,
		id:          id,
		logger:      cfg.Logger.With("session_id", id),
		done:        make(chan struct{}),
		negotiators: make(map[uint32]*Negotiator),
	}
	empty := []StreamStatus{}
	m.status.Store(&empty)
	return m
}

// ID returns the session instance id.
func (m *Manager) ID() string {
	return m.id
}

// Start connects to the bus on a dedicated goroutine and returns once the
// connection is established or has failed. A manager can be started once.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	ready := make(chan error, 1)
	go m.run(ctx, ready)
	if err := <-ready; err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(m.done)

	loop := pipewire.NewLoop()
	core, err := m.cfg.Connector(ctx, loop)
	if err != nil {
		loop.Close()
		ready <- err
		return
	}
	m.core = core
	m.watcher = NewWatcher(m.cfg.Frames, m.cfg.IncludeStreams, logging.GetLogger("registry"))
	if err := core.AddRegistryListener(m.watcher.Events()); err != nil {
		_ = core.Disconnect()
		loop.Close()
		ready <- fmt.Errorf("watch registry: %w", err)
		return
	}
	m.cfg.Control.Attach(loop, m.handleCommand)
	m.logger.Info("Session started")
	ready <- nil

	go func() {
		select {
		case <-core.Done():
			loop.Invoke(func() { m.connectionLost(core.Err()) })
		case <-m.done:
		}
	}()

	for !m.quit {
		loop.Iterate(m.cfg.IterateTimeout)
	}

	m.shutdown()
	loop.Close()
	m.logger.Info("Session stopped")
}

func (m *Manager) handleCommand(cmd relay.ControlCommand) {
	if m.quit {
		return
	}
	switch c := cmd.(type) {
	case relay.CreateStream:
		m.createStream(c.ID)
	case relay.DeleteStream:
		m.deleteStream(c.ID)
	case relay.Terminate:
		m.quit = true
	}
}

// connectionLost ends the loop after the daemon went away. Consumers see
// every announced source removed.
func (m *Manager) connectionLost(cause error) {
	if m.quit {
		return
	}
	err := fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	m.lostErr.Store(&err)
	m.logger.Error("Lost connection to PipeWire", "error", cause, "streams", len(m.negotiators))
	m.watcher.removeAll()
	m.quit = true
}

func (m *Manager) createStream(id uint32) {
	if _, ok := m.negotiators[id]; ok {
		m.logger.Debug("Stream already active", "source_id", id)
		return
	}
	n, err := NewNegotiator(m.core, NegotiatorConfig{
		SourceID:  id,
		MediaRole: m.cfg.MediaRole,
		Proposal:  m.cfg.Proposal,
		Frames:    m.cfg.Frames,
		Logger:    logging.GetLogger("negotiator"),
		OnChange:  m.publishStatus,
	})
	if err != nil {
		m.logger.Error("Failed to create stream", "source_id", id, "error", err)
		return
	}
	m.negotiators[id] = n
	m.logger.Info("Stream created", "source_id", id)
	m.publishStatus()
}

func (m *Manager) deleteStream(id uint32) {
	n, ok := m.negotiators[id]
	if !ok {
		m.logger.Debug("No stream to delete", "source_id", id)
		return
	}
	delete(m.negotiators, id)
	if err := n.Close(); err != nil {
		m.logger.Warn("Failed to close stream", "source_id", id, "error", err)
	}
	metrics.DeleteSourceStats(id)
	m.logger.Info("Stream deleted", "source_id", id)
	m.publishStatus()
}

func (m *Manager) shutdown() {
	m.cfg.Control.Detach()
	ids := make([]uint32, 0, len(m.negotiators))
	for id := range m.negotiators {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		m.deleteStream(id)
	}
	if err := m.core.Disconnect(); err != nil {
		m.logger.Warn("Failed to disconnect from bus", "error", err)
	}
}

// publishStatus runs on the protocol goroutine whenever the stream set or a
// stream state changes.
func (m *Manager) publishStatus() {
	status := make([]StreamStatus, 0, len(m.negotiators))
	for id, n := range m.negotiators {
		f := n.Format()
		status = append(status, StreamStatus{
			SourceID: id,
			State:    n.State(),
			Format:   f.Format,
			Width:    f.Size.Width,
			Height:   f.Size.Height,
		})
	}
	sort.Slice(status, func(i, j int) bool { return status[i].SourceID < status[j].SourceID })
	m.status.Store(&status)
	metrics.SetActiveStreams(len(status))
}

// ActiveStreams returns the source ids with a live stream, sorted.
// It is safe to call from any goroutine.
func (m *Manager) ActiveStreams() []uint32 {
	status := *m.status.Load()
	ids := make([]uint32, len(status))
	for i, s := range status {
		ids[i] = s.SourceID
	}
	return ids
}

// Streams returns a snapshot of every live stream.
// It is safe to call from any goroutine.
func (m *Manager) Streams() []StreamStatus {
	status := *m.status.Load()
	return append([]StreamStatus(nil), status...)
}

// Running reports whether the protocol goroutine is live.
func (m *Manager) Running() bool {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Err returns why the protocol goroutine ended on its own, or nil while it
// runs and after a requested Stop.
func (m *Manager) Err() error {
	if err := m.lostErr.Load(); err != nil {
		return *err
	}
	return nil
}

// Stop terminates the protocol goroutine and waits for it to exit. It is
// safe to call more than once and on a manager that never started.
func (m *Manager) Stop() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return
	}
	select {
	case <-m.done:
		return
	default:
	}
	m.stopOnce.Do(func() {
		m.cfg.Control.Send(relay.Terminate{})
	})
	<-m.done
}
