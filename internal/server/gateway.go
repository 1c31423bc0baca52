// Package server holds the gateway's public HTTP handler and its admin router.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/moonkev/flexgw/internal/common/telemetry"
	"github.com/moonkev/flexgw/internal/forward"
	"github.com/moonkev/flexgw/internal/route"
)

// Forwarder executes a resolved route
type Forwarder interface {
	Forward(ctx context.Context, m route.Match, req *http.Request) (*forward.Result, error)
}

// RouteResolver picks the route for a request
type RouteResolver interface {
	Resolve(method, path string) (route.Match, error)
}

// Gateway resolves, forwards and writes the response. It keeps no state
// between requests.
type Gateway struct {
	resolver RouteResolver
	engine   Forwarder
	logger   *slog.Logger
}

func NewGateway(resolver RouteResolver, engine Forwarder, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{resolver: resolver, engine: engine, logger: logger}
}

// Handler returns the gateway wrapped in its middleware chain
func (g *Gateway) Handler() http.Handler {
	return RequestID(AccessLog(g.logger, Recoverer(g.logger, g)))
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Match on the escaped path so the capture is relayed with its original
	// escaping (%2F, %23, %3F, %25 stay encoded downstream).
	m, err := g.resolver.Resolve(r.Method, r.URL.EscapedPath())
	if err != nil {
		telemetry.MetricRouteMisses.Inc()
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	annotate(r.Context(), m.Definition.Name, m.Definition.Service)

	res, err := g.engine.Forward(r.Context(), m, r)
	if err != nil {
		var ferr *forward.Error
		if errors.As(err, &ferr) {
			writeError(w, ferr.StatusCode(), ferr.Message())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeRaw(w, res.StatusCode, res.Body)
}

type errorBody struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"detail":"failed to encode response"}`)
	}
	writeRaw(w, status, body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
