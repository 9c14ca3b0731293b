package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/pwtexture/internal/events"
	"github.com/smazurov/pwtexture/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter publishes per-source relay counters as events.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// frame counts at the previous tick, for the rate
	last     map[uint32]uint64
	lastTick time.Time
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 1 * time.Second,
		last:     make(map[uint32]uint64),
	}
}

// Start begins the SSE export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.lastTick = time.Now()
	s.wg.Add(1)
	go s.run()
}

// Stop stops the SSE exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.publishStats(now)
		}
	}
}

func (s *SSEExporter) publishStats(now time.Time) {
	elapsed := now.Sub(s.lastTick).Seconds()
	s.lastTick = now

	all := metrics.GetAllSourceStats()
	for id := range s.last {
		if _, ok := all[id]; !ok {
			delete(s.last, id)
		}
	}
	for id, st := range all {
		fps := 0.0
		if prev, ok := s.last[id]; ok && elapsed > 0 && st.Frames >= prev {
			fps = float64(st.Frames-prev) / elapsed
		}
		s.last[id] = st.Frames

		s.eventBus.Publish(events.SourceStatsEvent{
			EventType:    "source_stats",
			SourceID:     id,
			Frames:       st.Frames,
			Bytes:        st.Bytes,
			BufferMisses: st.BufferMisses,
			FPS:          strconv.FormatFloat(fps, 'f', 2, 64),
		})
	}
}

// GetEventTypes returns event types for SSE endpoint registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"source-stats": events.SourceStatsEvent{},
	}
}

// GetEventTypesForEndpoint returns event types for a specific SSE endpoint.
func GetEventTypesForEndpoint(endpoint string) map[string]any {
	if endpoint == "events" {
		return GetEventTypes()
	}
	return map[string]any{}
}

// GetEventRoutes returns the routing configuration for events.
func GetEventRoutes() map[string]string {
	return map[string]string{
		"source-stats": "events",
	}
}
