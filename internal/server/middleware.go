package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/moonkev/flexgw/internal/common/telemetry"
)

const RequestIDHeader = "X-Request-ID"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	routeInfoKey
)

// routeInfo is filled in by the gateway once a route is resolved so the
// access log can report it
type routeInfo struct {
	route   string
	service string
}

// RequestIDFromContext returns the request ID assigned by RequestID
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func annotate(ctx context.Context, routeName, service string) {
	if info, ok := ctx.Value(routeInfoKey).(*routeInfo); ok {
		info.route = routeName
		info.service = service
	}
}

// RequestID keeps an incoming X-Request-ID or assigns a new one. The ID is
// echoed on the response and forwarded downstream with the other headers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// ResponseWriter wrapper to capture status code
type statusCapture struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (sc *statusCapture) WriteHeader(code int) {
	if !sc.wroteHeader {
		sc.statusCode = code
		sc.wroteHeader = true
	}
	sc.ResponseWriter.WriteHeader(code)
}

func (sc *statusCapture) Write(b []byte) (int, error) {
	sc.wroteHeader = true
	return sc.ResponseWriter.Write(b)
}

// AccessLog records one log line and the status counter per request
func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sc := &statusCapture{ResponseWriter: w, statusCode: http.StatusOK}
		info := &routeInfo{}

		next.ServeHTTP(sc, r.WithContext(context.WithValue(r.Context(), routeInfoKey, info)))

		telemetry.MetricHTTPRequests.WithLabelValues(strconv.Itoa(sc.statusCode)).Inc()
		logger.Info("request",
			"requestID", RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"route", info.route,
			"service", info.service,
			"status", sc.statusCode,
			"duration", time.Since(start))
	})
}

// Recoverer turns a panic in next into a 500 with the usual error body
func Recoverer(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("panic serving request",
				"requestID", RequestIDFromContext(r.Context()),
				"path", r.URL.Path,
				"panic", fmt.Sprint(rec))
			writeError(w, http.StatusInternalServerError, "internal gateway error")
		}()
		next.ServeHTTP(w, r)
	})
}
