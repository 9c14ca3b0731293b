package api

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/pwtexture/internal/api/models"
	"github.com/smazurov/pwtexture/internal/bridge"
	"github.com/smazurov/pwtexture/internal/directory"
	"github.com/smazurov/pwtexture/internal/events"
	"github.com/smazurov/pwtexture/internal/host"
	"github.com/smazurov/pwtexture/internal/logging"
	"github.com/smazurov/pwtexture/internal/relay"
	"github.com/smazurov/pwtexture/internal/session"
	"github.com/smazurov/pwtexture/internal/texture"
	"github.com/smazurov/pwtexture/internal/version"
)

// Service is the bridge as seen by the API. *bridge.Bridge implements it.
type Service interface {
	SessionID() string
	Running() bool
	Err() error
	Streams() []session.StreamStatus
	Stats() bridge.Stats
	Sources(ctx context.Context) ([]relay.SourceInfo, error)
	Textures(ctx context.Context) ([]bridge.TextureInfo, error)
	Texture(ctx context.Context, h directory.Handle) (bridge.TextureInfo, error)
	CreateTexture(ctx context.Context, name string, sourceID uint32) (directory.Handle, error)
	ConnectTexture(ctx context.Context, h directory.Handle, sourceID uint32) error
	DisconnectTexture(ctx context.Context, h directory.Handle, sourceID uint32) error
	DeleteTexture(ctx context.Context, h directory.Handle) error
	Snapshot(ctx context.Context, h directory.Handle) (texture.Snapshot, error)
}

// Server is the Huma v2 API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	service    Service
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger
}

// Options configures the API server.
type Options struct {
	AuthUsername      string
	AuthPassword      string
	Service           Service
	EventBus          *events.Bus
	PrometheusHandler http.Handler // Optional Prometheus metrics handler
	// RequestTimeout bounds how long a request waits for the frame loop.
	RequestTimeout time.Duration
}

// basicAuthMiddleware creates middleware for HTTP basic authentication
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	unauthorized := func(ctx huma.Context, msg string, errs ...error) {
		ctx.SetHeader("WWW-Authenticate", `Basic realm="pwtexture API"`)
		huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		// Skip auth for operations without security requirements
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		var credentials string
		if authHeader := ctx.Header("Authorization"); authHeader != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(authHeader, prefix) {
				unauthorized(ctx, "Invalid authentication type")
				return
			}
			decoded, err := base64.StdEncoding.DecodeString(authHeader[len(prefix):])
			if err != nil {
				unauthorized(ctx, "Invalid credentials format", err)
				return
			}
			credentials = string(decoded)
		} else if queryAuth := ctx.Query("auth"); queryAuth != "" {
			// EventSource cannot set headers
			decoded, err := base64.StdEncoding.DecodeString(queryAuth)
			if err != nil {
				unauthorized(ctx, "Invalid credentials format", err)
				return
			}
			credentials = string(decoded)
		}

		if credentials == "" {
			unauthorized(ctx, "Authentication required")
			return
		}
		user, pass, ok := strings.Cut(credentials, ":")
		if !ok {
			unauthorized(ctx, "Invalid credentials format")
			return
		}
		if user != username || pass != password {
			unauthorized(ctx, "Invalid credentials")
			return
		}

		next(ctx)
	}
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Second
	}

	mux := http.NewServeMux()

	cors := defaultCORSPolicy()
	mux.HandleFunc("OPTIONS /", cors.preflight)

	config := huma.DefaultConfig("pwtexture API", "1.0.0")
	config.Info.Description = "Status and control of PipeWire capture sources relayed into textures"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	server := &Server{
		api:      api,
		mux:      mux,
		service:  opts.Service,
		eventBus: opts.EventBus,
		options:  opts,
		logger:   logging.GetLogger("api"),
	}

	api.UseMiddleware(cors.middleware)
	api.UseMiddleware(logRequests)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	// no auth, scraped by Prometheus
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and every open connection, SSE streams included.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Report whether the bus session is running",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		data := models.HealthData{
			Status:    "ok",
			Message:   "Session running",
			SessionID: s.service.SessionID(),
			Streams:   len(s.service.Streams()),
		}
		if !s.service.Running() {
			data.Status = "degraded"
			data.Message = "Session not running"
			if err := s.service.Err(); err != nil {
				data.Error = err.Error()
			}
		}
		return &models.HealthResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		v := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   v.Version,
				GitCommit: v.GitCommit,
				BuildDate: v.BuildDate,
				BuildID:   v.BuildID,
				GoVersion: v.GoVersion,
				Compiler:  v.Compiler,
				Platform:  v.Platform,
				Protocol:  v.Protocol,
			},
		}, nil
	})

	s.registerSourceRoutes()
	s.registerTextureRoutes()
	s.registerLogRoutes()
	s.registerSSERoutes()
	s.registerMetricsRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}

// callContext bounds a call into the frame loop.
func (s *Server) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.options.RequestTimeout)
}

// mapError converts service errors to HTTP errors.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, directory.ErrUnknownTexture), errors.Is(err, bridge.ErrNotTexture):
		return huma.Error404NotFound("Texture not found", err)
	case errors.Is(err, bridge.ErrUnknownSource):
		return huma.Error404NotFound("Source not found", err)
	case errors.Is(err, texture.ErrNoFrame):
		return huma.Error409Conflict("No frame received yet", err)
	case errors.Is(err, texture.ErrUnsupportedFormat), errors.Is(err, texture.ErrShortFrame):
		return huma.Error422UnprocessableEntity("Frame cannot be rendered", err)
	case errors.Is(err, host.ErrStopped), errors.Is(err, host.ErrQueueFull):
		return huma.Error503ServiceUnavailable("Frame loop unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout("Frame loop did not respond", err)
	default:
		s.logger.Error("Unhandled service error", "error", err)
		return huma.Error500InternalServerError("Internal error", err)
	}
}
