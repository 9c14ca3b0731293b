// Package metrics provides Prometheus metrics for the capture relay.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	DropQueueFull = "queue_full"
	DropUnbound   = "unbound"
)

// Negotiation results.
const (
	NegotiationAccepted = "accepted"
	NegotiationRejected = "rejected"
	NegotiationIgnored  = "ignored"
)

var (
	framesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwtexture",
		Subsystem: "relay",
		Name:      "frames_total",
		Help:      "Frames copied out of stream buffers per source",
	}, []string{"source_id"})

	bytesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwtexture",
		Subsystem: "relay",
		Name:      "bytes_total",
		Help:      "Frame bytes copied out of stream buffers per source",
	}, []string{"source_id"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwtexture",
		Subsystem: "relay",
		Name:      "frames_dropped_total",
		Help:      "Events discarded before reaching a texture",
	}, []string{"reason"})

	bufferMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwtexture",
		Subsystem: "relay",
		Name:      "buffer_misses_total",
		Help:      "Process callbacks that found no buffer to dequeue",
	}, []string{"source_id"})

	negotiations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwtexture",
		Subsystem: "session",
		Name:      "negotiations_total",
		Help:      "Format negotiations by result",
	}, []string{"result"})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pwtexture",
		Subsystem: "session",
		Name:      "active_streams",
		Help:      "Streams currently owned by the session",
	})

	knownSources = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pwtexture",
		Subsystem: "directory",
		Name:      "known_sources",
		Help:      "Capture sources currently announced by the registry",
	})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pwtexture",
		Subsystem: "directory",
		Name:      "poll_duration_seconds",
		Help:      "Time spent draining the frame channel per host frame",
		Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01},
	})

	// Local cache for SSE exporter access.
	statsCache   = make(map[uint32]*SourceStats)
	statsCacheMu sync.RWMutex
)

// SourceStats holds the running counters of one source.
type SourceStats struct {
	Frames       uint64
	Bytes        uint64
	BufferMisses uint64
	LastFrame    time.Time
}

func label(sourceID uint32) string {
	return strconv.FormatUint(uint64(sourceID), 10)
}

// RecordFrameRelayed counts one frame of n bytes for a source.
func RecordFrameRelayed(sourceID uint32, n int) {
	framesRelayed.WithLabelValues(label(sourceID)).Inc()
	bytesRelayed.WithLabelValues(label(sourceID)).Add(float64(n))
	updateCache(sourceID, func(s *SourceStats) {
		s.Frames++
		s.Bytes += uint64(n)
		s.LastFrame = time.Now()
	})
}

// RecordBufferMiss counts a process callback without a buffer.
func RecordBufferMiss(sourceID uint32) {
	bufferMisses.WithLabelValues(label(sourceID)).Inc()
	updateCache(sourceID, func(s *SourceStats) { s.BufferMisses++ })
}

// RecordFrameDropped counts one discarded event.
func RecordFrameDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

// RecordNegotiation counts one format negotiation outcome.
func RecordNegotiation(result string) {
	negotiations.WithLabelValues(result).Inc()
}

// SetActiveStreams sets the number of live streams.
func SetActiveStreams(n int) {
	activeStreams.Set(float64(n))
}

// SetKnownSources sets the number of announced sources.
func SetKnownSources(n int) {
	knownSources.Set(float64(n))
}

// ObservePoll records one frame channel drain.
func ObservePoll(d time.Duration) {
	pollDuration.Observe(d.Seconds())
}

// DeleteSourceStats removes all per-source series for a source.
func DeleteSourceStats(sourceID uint32) {
	framesRelayed.DeleteLabelValues(label(sourceID))
	bytesRelayed.DeleteLabelValues(label(sourceID))
	bufferMisses.DeleteLabelValues(label(sourceID))

	statsCacheMu.Lock()
	delete(statsCache, sourceID)
	statsCacheMu.Unlock()
}

// GetSourceStats returns the counters of a source, or nil if it has none.
func GetSourceStats(sourceID uint32) *SourceStats {
	statsCacheMu.RLock()
	defer statsCacheMu.RUnlock()
	if s, ok := statsCache[sourceID]; ok {
		dup := *s
		return &dup
	}
	return nil
}

// GetAllSourceStats returns the counters of every source.
func GetAllSourceStats() map[uint32]*SourceStats {
	statsCacheMu.RLock()
	defer statsCacheMu.RUnlock()
	result := make(map[uint32]*SourceStats, len(statsCache))
	for id, s := range statsCache {
		dup := *s
		result[id] = &dup
	}
	return result
}

func updateCache(sourceID uint32, update func(*SourceStats)) {
	statsCacheMu.Lock()
	defer statsCacheMu.Unlock()
	s, ok := statsCache[sourceID]
	if !ok {
		s = &SourceStats{}
		statsCache[sourceID] = s
	}
	update(s)
}
