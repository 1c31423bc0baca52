// Package forward issues the downstream call for a resolved route and turns
// the outcome into something the gateway can answer with.
//
// Compatibility note: unless PropagateStatus is set, the downstream status
// code is not relayed. Any downstream JSON body, including a collaborator's own
// 4xx/5xx error document, is answered with 200. The dashboard pages are
// written against that contract. The gateway's own status only reflects
// gateway-local failures (see Kind).
//
// No retries are attempted.
package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/moonkev/flexgw/internal/common/telemetry"
	"github.com/moonkev/flexgw/internal/route"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxConnsPerHost  = 64
	DefaultMaxResponseBytes = 10 << 20
)

// Headers owned by the connection or by the transport, never copied downstream
var skipHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Accept-Encoding":     true,
	"Content-Length":      true,
}

// ServiceResolver looks up a service's base address
type ServiceResolver interface {
	Resolve(name string) (*url.URL, bool)
}

// Options tunes an Engine. Zero values fall back to the defaults.
type Options struct {
	Timeout          time.Duration
	PropagateStatus  bool
	MaxResponseBytes int64
	Logger           *slog.Logger
}

// Result is a successful forward
type Result struct {
	Service          string
	URL              string
	StatusCode       int
	DownstreamStatus int
	Body             json.RawMessage
}

// Engine forwards requests through one shared client
type Engine struct {
	services         ServiceResolver
	client           *http.Client
	timeout          time.Duration
	propagateStatus  bool
	maxResponseBytes int64
	logger           *slog.Logger
}

// NewClient returns the pooled client shared by every forward. Connections per
// downstream host are capped at maxConnsPerHost; redirects are returned to the
// caller rather than followed.
func NewClient(maxConnsPerHost int) *http.Client {
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = DefaultMaxConnsPerHost
	}
	transport := cleanhttp.DefaultPooledTransport()
	transport.MaxConnsPerHost = maxConnsPerHost
	transport.MaxIdleConnsPerHost = maxConnsPerHost

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NewEngine builds an engine around an already constructed client
func NewEngine(services ServiceResolver, client *http.Client, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		services:         services,
		client:           client,
		timeout:          opts.Timeout,
		propagateStatus:  opts.PropagateStatus,
		maxResponseBytes: opts.MaxResponseBytes,
		logger:           opts.Logger,
	}
}

// Timeout returns the per-forward timeout
func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// DownstreamURL joins the base address, the already escaped target path and
// the raw query. The query is carried verbatim in RawQuery and never parsed
// out of the path.
func DownstreamURL(base *url.URL, targetPath, rawQuery string) (*url.URL, error) {
	escaped := base.EscapedPath() + "/" + strings.TrimPrefix(targetPath, "/")
	path, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, fmt.Errorf("invalid target path %q: %w", targetPath, err)
	}
	u := *base
	u.Path = path
	u.RawPath = escaped
	u.RawQuery = rawQuery
	u.Fragment = ""
	u.RawFragment = ""
	return &u, nil
}

// Forward executes m against its service using the method, headers, body and
// query of req. The returned error is always a *Error.
func (e *Engine) Forward(ctx context.Context, m route.Match, req *http.Request) (*Result, error) {
	service := m.Definition.Service
	start := time.Now()

	res, ferr := e.forward(ctx, service, m, req)

	outcome := telemetry.OutcomeSuccess
	if ferr != nil {
		outcome = ferr.Kind.String()
	}
	telemetry.MetricForwardRequests.WithLabelValues(service, outcome).Inc()
	telemetry.MetricForwardDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())

	if ferr != nil {
		e.logger.Warn("forward failed",
			"service", service,
			"kind", ferr.Kind.String(),
			"error", ferr.Err,
			"duration", time.Since(start))
		return nil, ferr
	}
	e.logger.Debug("forwarded",
		"service", service,
		"url", res.URL,
		"downstreamStatus", res.DownstreamStatus,
		"bytes", len(res.Body),
		"duration", time.Since(start))
	return res, nil
}

func (e *Engine) forward(ctx context.Context, service string, m route.Match, req *http.Request) (*Result, *Error) {
	base, ok := e.services.Resolve(service)
	if !ok {
		return nil, notFound(service)
	}
	targetURL, err := DownstreamURL(base, m.TargetPath(), req.URL.RawQuery)
	if err != nil {
		return nil, internal(service, err)
	}
	target := targetURL.String()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil && req.Body != http.NoBody && req.ContentLength != 0 {
		body = req.Body
	}
	outReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, internal(service, err)
	}
	if body != nil {
		outReq.ContentLength = req.ContentLength
	}
	copyHeaders(outReq.Header, req.Header)

	resp, err := e.client.Do(outReq)
	if err != nil {
		return nil, classifyTransport(service, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, e.maxResponseBytes+1))
	if err != nil {
		return nil, internal(service, fmt.Errorf("reading response: %w", err))
	}
	if int64(len(payload)) > e.maxResponseBytes {
		return nil, internal(service, fmt.Errorf("response exceeds %d bytes", e.maxResponseBytes))
	}
	if !json.Valid(payload) {
		return nil, internal(service, errors.New("downstream response is not valid JSON (status "+resp.Status+")"))
	}

	status := http.StatusOK
	if e.propagateStatus {
		status = resp.StatusCode
	}
	return &Result{
		Service:          service,
		URL:              target,
		StatusCode:       status,
		DownstreamStatus: resp.StatusCode,
		Body:             json.RawMessage(payload),
	}, nil
}

func copyHeaders(dst, src http.Header) {
	// Headers named in Connection are hop-by-hop too
	connHeaders := make(map[string]bool)
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				connHeaders[http.CanonicalHeaderKey(name)] = true
			}
		}
	}
	for name, values := range src {
		if skipHeaders[name] || connHeaders[name] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
