package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/pwtexture/internal/api/models"
	"github.com/smazurov/pwtexture/internal/bridge"
	"github.com/smazurov/pwtexture/internal/directory"
)

// registerTextureRoutes registers texture CRUD and snapshot endpoints.
func (s *Server) registerTextureRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-textures",
		Method:      http.MethodGet,
		Path:        "/api/textures",
		Summary:     "List Textures",
		Description: "Get every registered texture with its binding and image parameters",
		Tags:        []string{"textures"},
		Errors:      []int{401, 503, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.TextureListResponse, error) {
		ctx, cancel := s.callContext(ctx)
		defer cancel()

		textures, err := s.service.Textures(ctx)
		if err != nil {
			return nil, s.mapError(err)
		}
		out := make([]models.TextureData, len(textures))
		for i, t := range textures {
			out[i] = toTextureData(t)
		}
		return &models.TextureListResponse{
			Body: models.TextureListData{Textures: out, Count: len(out)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-texture",
		Method:        http.MethodPost,
		Path:          "/api/textures",
		Summary:       "Create Texture",
		Description:   "Register a texture and bind it to a source. The first texture bound to a source opens its stream.",
		Tags:          []string{"textures"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 404, 503, 504},
		Security:      withAuth(),
	}, func(ctx context.Context, input *models.TextureRequest) (*models.TextureResponse, error) {
		ctx, cancel := s.callContext(ctx)
		defer cancel()

		name := input.Body.Name
		if name == "" {
			name = fmt.Sprintf("source-%d", input.Body.SourceID)
		}
		h, err := s.service.CreateTexture(ctx, name, input.Body.SourceID)
		if err != nil {
			return nil, s.mapError(err)
		}
		return s.textureResponse(ctx, h)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-texture",
		Method:      http.MethodGet,
		Path:        "/api/textures/{handle}",
		Summary:     "Get Texture",
		Description: "Get one texture",
		Tags:        []string{"textures"},
		Errors:      []int{401, 404, 503, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.TextureHandleInput) (*models.TextureResponse, error) {
		ctx, cancel := s.callContext(ctx)
		defer cancel()
		return s.textureResponse(ctx, directory.Handle(input.Handle))
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-texture",
		Method:        http.MethodDelete,
		Path:          "/api/textures/{handle}",
		Summary:       "Delete Texture",
		Description:   "Unbind and release a texture. The last texture bound to a source closes its stream.",
		Tags:          []string{"textures"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 503, 504},
		Security:      withAuth(),
	}, func(ctx context.Context, input *models.TextureHandleInput) (*struct{}, error) {
		ctx, cancel := s.callContext(ctx)
		defer cancel()
		if err := s.service.DeleteTexture(ctx, directory.Handle(input.Handle)); err != nil {
			return nil, s.mapError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "connect-texture",
		Method:      http.MethodPut,
		Path:        "/api/textures/{handle}/source",
		Summary:     "Bind Texture",
		Description: "Bind a texture to a source, moving it away from its current source",
		Tags:        []string{"textures"},
		Errors:      []int{400, 401, 404, 503, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.TextureSourceRequest) (*models.TextureResponse, error) {
		ctx, cancel := s.callContext(ctx)
		defer cancel()
		h := directory.Handle(input.Handle)
		if err := s.service.ConnectTexture(ctx, h, input.Body.SourceID); err != nil {
			return nil, s.mapError(err)
		}
		return s.textureResponse(ctx, h)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "disconnect-texture",
		Method:      http.MethodDelete,
		Path:        "/api/textures/{handle}/source",
		Summary:     "Unbind Texture",
		Description: "Unbind a texture from its source and keep it registered with its last frame",
		Tags:        []string{"textures"},
		Errors:      []int{401, 404, 503, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.TextureHandleInput) (*models.TextureResponse, error) {
		ctx, cancel := s.callContext(ctx)
		defer cancel()
		h := directory.Handle(input.Handle)
		t, err := s.service.Texture(ctx, h)
		if err != nil {
			return nil, s.mapError(err)
		}
		if t.Bound {
			if err := s.service.DisconnectTexture(ctx, h, t.SourceID); err != nil {
				return nil, s.mapError(err)
			}
		}
		return s.textureResponse(ctx, h)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "snapshot-texture",
		Method:      http.MethodGet,
		Path:        "/api/textures/{handle}/snapshot",
		Summary:     "Texture Snapshot",
		Description: "Render the latest frame of a texture as PNG. Only packed RGB layouts can be rendered.",
		Tags:        []string{"textures"},
		Errors:      []int{401, 404, 409, 422, 503, 504},
		Security:    withAuth(),
		Responses: map[string]*huma.Response{
			"200": {
				Description: "PNG image",
				Content: map[string]*huma.MediaType{
					"image/png": {},
				},
			},
		},
	}, func(ctx context.Context, input *models.TextureHandleInput) (*models.SnapshotResponse, error) {
		ctx, cancel := s.callContext(ctx)
		defer cancel()

		snap, err := s.service.Snapshot(ctx, directory.Handle(input.Handle))
		if err != nil {
			return nil, s.mapError(err)
		}
		var buf bytes.Buffer
		if err := snap.EncodePNG(&buf); err != nil {
			return nil, s.mapError(err)
		}
		return &models.SnapshotResponse{
			ContentType:  "image/png",
			CacheControl: "no-store",
			Frame:        snap.Frame,
			Body:         buf.Bytes(),
		}, nil
	})
}

func (s *Server) textureResponse(ctx context.Context, h directory.Handle) (*models.TextureResponse, error) {
	t, err := s.service.Texture(ctx, h)
	if err != nil {
		return nil, s.mapError(err)
	}
	return &models.TextureResponse{Body: toTextureData(t)}, nil
}

func toTextureData(t bridge.TextureInfo) models.TextureData {
	data := models.TextureData{
		Handle:   uint64(t.Handle),
		Label:    t.Handle.String(),
		Name:     t.Name,
		Bound:    t.Bound,
		SourceID: t.SourceID,
		Frames:   t.Frames,
	}
	if t.HasParams {
		data.Params = &models.ImageParametersData{
			Width:        t.Params.Width,
			Height:       t.Params.Height,
			Mipmaps:      t.Params.Mipmaps,
			PixelFormat:  string(t.Params.Format),
			SourceFormat: t.Params.Source.String(),
		}
	}
	if !t.Updated.IsZero() {
		updated := t.Updated
		data.UpdatedAt = &updated
	}
	return data
}
