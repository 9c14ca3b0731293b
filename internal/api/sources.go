package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/pwtexture/internal/api/models"
)

// registerSourceRoutes registers source, stream and stats endpoints.
func (s *Server) registerSourceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sources",
		Method:      http.MethodGet,
		Path:        "/api/sources",
		Summary:     "List Sources",
		Description: "Get the video capture sources currently announced on the bus",
		Tags:        []string{"sources"},
		Errors:      []int{401, 503, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.SourceListResponse, error) {
		ctx, cancel := s.callContext(ctx)
		defer cancel()

		sources, err := s.service.Sources(ctx)
		if err != nil {
			return nil, s.mapError(err)
		}

		streaming := make(map[uint32]bool)
		for _, st := range s.service.Streams() {
			streaming[st.SourceID] = true
		}

		out := make([]models.SourceData, len(sources))
		for i, src := range sources {
			out[i] = models.SourceData{
				ID:          src.ID,
				Name:        src.Name,
				Description: src.Description,
				MediaClass:  src.MediaClass,
				Serial:      src.Serial,
				Streaming:   streaming[src.ID],
				Props:       src.Props,
			}
		}
		return &models.SourceListResponse{
			Body: models.SourceListData{Sources: out, Count: len(out)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-streams",
		Method:      http.MethodGet,
		Path:        "/api/streams",
		Summary:     "List Streams",
		Description: "Get the streams owned by the bus session and their negotiation state",
		Tags:        []string{"sources"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.StreamListResponse, error) {
		streams := s.service.Streams()
		out := make([]models.StreamData, len(streams))
		for i, st := range streams {
			out[i] = models.StreamData{
				SourceID: st.SourceID,
				State:    string(st.State),
				Width:    st.Width,
				Height:   st.Height,
			}
			if st.Width > 0 {
				out[i].Format = st.Format.String()
			}
		}
		return &models.StreamListResponse{
			Body: models.StreamListData{Streams: out, Count: len(out)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/api/stats",
		Summary:     "Relay Statistics",
		Description: "Get frame loop and relay counters",
		Tags:        []string{"sources"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.StatsResponse, error) {
		st := s.service.Stats()
		return &models.StatsResponse{
			Body: models.StatsData{
				HostFrames:    st.HostFrames,
				RelayEvents:   st.RelayEvents,
				DroppedFrames: st.DroppedFrames,
				QueueLength:   st.QueueLength,
			},
		}, nil
	})
}
