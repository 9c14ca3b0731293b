package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// corsPolicy holds the precomputed cross-origin headers of the API.
// Dashboards read the frame number of snapshots and resume SSE streams with
// Last-Event-ID, so both headers cross the origin boundary.
type corsPolicy struct {
	origin  string
	methods string
	headers string
	expose  string
	maxAge  string
}

func newCORSPolicy(origin string, methods, headers, expose []string, maxAge int) corsPolicy {
	return corsPolicy{
		origin:  origin,
		methods: strings.Join(methods, ", "),
		headers: strings.Join(headers, ", "),
		expose:  strings.Join(expose, ", "),
		maxAge:  strconv.Itoa(maxAge),
	}
}

func defaultCORSPolicy() corsPolicy {
	return newCORSPolicy("*",
		[]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		[]string{"Authorization", "Content-Type", "Last-Event-ID"},
		[]string{"X-Frame-Number"},
		86400,
	)
}

func (p corsPolicy) apply(set func(name, value string)) {
	set("Access-Control-Allow-Origin", p.origin)
	set("Access-Control-Allow-Methods", p.methods)
	set("Access-Control-Allow-Headers", p.headers)
	set("Access-Control-Expose-Headers", p.expose)
	set("Access-Control-Max-Age", p.maxAge)
}

// middleware adds the policy to every routed response.
func (p corsPolicy) middleware(ctx huma.Context, next func(huma.Context)) {
	p.apply(ctx.SetHeader)
	next(ctx)
}

// preflight answers OPTIONS requests, which never reach huma's router.
func (p corsPolicy) preflight(w http.ResponseWriter, _ *http.Request) {
	p.apply(w.Header().Set)
	w.WriteHeader(http.StatusNoContent)
}
