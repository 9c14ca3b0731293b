package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/pwtexture/internal/directory"
	"github.com/smazurov/pwtexture/internal/logging"
)

// quietOperations are long-lived or polled; they log at debug on success.
var quietOperations = map[string]bool{
	"events-stream":    true,
	"logs-stream":      true,
	"metrics-stream":   true,
	"health-check":     true,
	"snapshot-texture": true,
}

// logRequests logs each request on the http module logger once it completes.
func logRequests(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)

	status := ctx.Status()
	attrs := append(requestAttrs(ctx),
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	)
	logging.GetLogger("http").LogAttrs(ctx.Context(), requestLevel(ctx.Operation(), status), "HTTP request completed", attrs...)
}

// requestAttrs describes the request, naming the texture for handle routes.
func requestAttrs(ctx huma.Context) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("method", ctx.Method()),
		slog.String("path", ctx.URL().Path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if op := ctx.Operation(); op != nil {
		attrs = append(attrs, slog.String("operation", op.OperationID))
	}
	if raw := ctx.Param("handle"); raw != "" {
		if h, err := strconv.ParseUint(raw, 10, 64); err == nil {
			attrs = append(attrs, slog.String("texture", directory.Handle(h).String()))
		}
	}
	if q := ctx.URL().RawQuery; q != "" {
		attrs = append(attrs, slog.String("query", q))
	}
	if ua := ctx.Header("User-Agent"); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}
	return attrs
}

func requestLevel(op *huma.Operation, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case op != nil && quietOperations[op.OperationID]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
