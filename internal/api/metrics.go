package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/pwtexture/internal/events"
	"github.com/smazurov/pwtexture/internal/metrics/exporters"
)

// registerMetricsRoutes registers the metrics SSE endpoint
func (s *Server) registerMetricsRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "metrics-stream",
		Method:      http.MethodGet,
		Path:        "/api/metrics",
		Summary:     "Metrics Server-Sent Events Stream",
		Description: "Per-source frame rate and byte counters, once per second",
		Tags:        []string{"metrics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, exporters.GetEventTypes(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		feed := events.Follow[events.SourceStatsEvent](events.NewFeed(s.eventBus, 10))
		defer s.closeFeed(feed, "metrics")

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
