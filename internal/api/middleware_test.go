package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/pwtexture/internal/api/models"
	"github.com/smazurov/pwtexture/internal/bridge/bridgetest"
	"github.com/smazurov/pwtexture/internal/logging"
)

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		name   string
		op     *huma.Operation
		status int
		want   slog.Level
	}{
		{"unrouted", nil, http.StatusNoContent, slog.LevelInfo},
		{"texture read", &huma.Operation{OperationID: "get-texture"}, http.StatusOK, slog.LevelInfo},
		{"sse stream", &huma.Operation{OperationID: "events-stream"}, http.StatusOK, slog.LevelDebug},
		{"snapshot", &huma.Operation{OperationID: "snapshot-texture"}, http.StatusOK, slog.LevelDebug},
		{"snapshot without frame", &huma.Operation{OperationID: "snapshot-texture"}, http.StatusConflict, slog.LevelWarn},
		{"unknown texture", &huma.Operation{OperationID: "get-texture"}, http.StatusNotFound, slog.LevelWarn},
		{"frame loop down", &huma.Operation{OperationID: "health-check"}, http.StatusServiceUnavailable, slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := requestLevel(tt.op, tt.status); got != tt.want {
				t.Errorf("requestLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestLogNamesTexture(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info"})
	e := newTestEnv(t, bridgetest.NewBus(42))

	created := decode[models.TextureData](t, e.do(t, http.MethodPost, "/api/textures", models.TextureRequestData{SourceID: 42}))
	e.do(t, http.MethodGet, fmt.Sprintf("/api/textures/%d", created.Handle), nil)

	for _, entry := range logging.GetBuffer().ReadAll() {
		if entry.Module != "http" || entry.Attributes["operation"] != "get-texture" {
			continue
		}
		if entry.Attributes["texture"] != created.Label {
			t.Errorf("texture = %v, want %q", entry.Attributes["texture"], created.Label)
		}
		if entry.Attributes["status"] == nil || entry.Level != "info" {
			t.Errorf("entry = %+v", entry)
		}
		return
	}
	t.Fatal("no request log for get-texture")
}
