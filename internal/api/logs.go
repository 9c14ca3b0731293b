package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/pwtexture/internal/api/models"
	"github.com/smazurov/pwtexture/internal/events"
	"github.com/smazurov/pwtexture/internal/logging"
)

func toLogEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

// registerLogRoutes registers log history, level control and streaming endpoints.
func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Get buffered log entries, optionally filtered by module and level",
		Tags:        []string{"logs"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.LogListInput) (*models.LogListResponse, error) {
		var entries []events.LogEntryEvent
		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.ReadAll() {
				if input.Module != "" && entry.Module != input.Module {
					continue
				}
				if input.Level != "" && entry.Level != input.Level {
					continue
				}
				entries = append(entries, toLogEvent(entry))
			}
		}
		if input.Limit > 0 && len(entries) > input.Limit {
			entries = entries[len(entries)-input.Limit:]
		}
		if entries == nil {
			entries = []events.LogEntryEvent{}
		}
		return &models.LogListResponse{
			Body: models.LogListData{Entries: entries, Count: len(entries)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-log-levels",
		Method:      http.MethodGet,
		Path:        "/api/logs/levels",
		Summary:     "Log Levels",
		Description: "Get the global and per-module log levels",
		Tags:        []string{"logs"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.LogLevelsResponse, error) {
		return &models.LogLevelsResponse{
			Body: models.LogLevelsData{
				Level:   logging.GlobalLevel(),
				Modules: logging.ModuleLevels(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-levels",
		Method:      http.MethodPut,
		Path:        "/api/logs/levels",
		Summary:     "Set Log Levels",
		Description: "Change log levels at runtime. Modules not listed fall back to the global level.",
		Tags:        []string{"logs"},
		Errors:      []int{400, 401},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.LogLevelsRequest) (*models.LogLevelsResponse, error) {
		for module, level := range input.Body.Modules {
			if !validLevel(level) {
				return nil, huma.Error400BadRequest("Invalid level for module " + module + ": " + level)
			}
		}
		if input.Body.Level != "" && !validLevel(input.Body.Level) {
			return nil, huma.Error400BadRequest("Invalid global level: " + input.Body.Level)
		}
		logging.SetLevels(input.Body.Level, input.Body.Modules)
		s.logger.Info("Log levels changed", "level", input.Body.Level, "modules", input.Body.Modules)
		return &models.LogLevelsResponse{
			Body: models.LogLevelsData{
				Level:   logging.GlobalLevel(),
				Modules: logging.ModuleLevels(),
			},
		}, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends historical logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying so nothing falls between history and live entries
		feed := events.Follow[events.LogEntryEvent](events.NewFeed(s.eventBus, 100))
		defer s.closeFeed(feed, "logs")

		var lastSeq uint64
		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.ReadAll() {
				if err := send.Data(toLogEvent(entry)); err != nil {
					return
				}
				lastSeq = entry.Seq
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-feed.C():
				if e, ok := event.(events.LogEntryEvent); ok && e.Seq <= lastSeq {
					continue
				}
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}

func validLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
