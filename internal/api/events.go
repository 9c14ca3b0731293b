package api

import (
	"context"
	"maps"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/pwtexture/internal/events"
	"github.com/smazurov/pwtexture/internal/metrics/exporters"
)

// lifecycleEventTypes maps SSE event names to payloads.
func lifecycleEventTypes() map[string]any {
	eventTypes := map[string]any{
		"source-added":           events.SourceAddedEvent{},
		"source-removed":         events.SourceRemovedEvent{},
		"texture-connected":      events.TextureConnectedEvent{},
		"texture-disconnected":   events.TextureDisconnectedEvent{},
		"texture-format-changed": events.TextureFormatChangedEvent{},
	}
	maps.Copy(eventTypes, exporters.GetEventTypesForEndpoint("events"))
	return eventTypes
}

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of source discovery, texture binding and format changes",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, lifecycleEventTypes(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		feed := events.Follow[events.SourceStatsEvent](events.FollowLifecycle(events.NewFeed(s.eventBus, 32)))
		defer s.closeFeed(feed, "events")

		// Replay the current sources so a client needs no separate list call
		callCtx, cancel := s.callContext(ctx)
		sources, err := s.service.Sources(callCtx)
		cancel()
		if err == nil {
			for _, src := range sources {
				if err := send.Data(events.SourceAddedEvent{Source: src}); err != nil {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-feed.C():
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}

// closeFeed ends an SSE subscription and reports events the client was too
// slow to receive.
func (s *Server) closeFeed(feed *events.Feed, stream string) {
	feed.Close()
	if n := feed.Dropped(); n > 0 {
		s.logger.Warn("SSE client missed events", "stream", stream, "dropped", n)
	}
}
