package forward

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/moonkev/flexgw/internal/common/telemetry"
)

// Kind classifies a forwarding failure
type Kind int

const (
	// KindNotFound means the route names a service the registry does not know
	KindNotFound Kind = iota + 1
	// KindUnreachable means the downstream connection could not be established
	KindUnreachable
	// KindInternal covers timeouts, malformed JSON and every other transport error
	KindInternal
)

// String is also the "outcome" metric label
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return telemetry.OutcomeNotFound
	case KindUnreachable:
		return telemetry.OutcomeUnreachable
	case KindInternal:
		return telemetry.OutcomeInternal
	default:
		return "unknown"
	}
}

// Error is the classified failure of a single forward
type Error struct {
	Kind    Kind
	Service string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("forward to %s: %s: %v", e.Service, e.Kind, e.Err)
	}
	return fmt.Sprintf("forward to %s: %s", e.Service, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode maps the failure kind to the status returned to the caller
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnreachable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message is the caller-visible detail string
func (e *Error) Message() string {
	return e.Detail
}

func notFound(service string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Service: service,
		Detail:  "Service not found",
	}
}

func internal(service string, err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Service: service,
		Detail:  "internal gateway error: " + err.Error(),
		Err:     err,
	}
}

// classifyTransport maps a client.Do error. Connection establishment failures
// are Unreachable unless they timed out; everything else is Internal.
func classifyTransport(service string, err error) *Error {
	if isConnectFailure(err) {
		return &Error{
			Kind:    KindUnreachable,
			Service: service,
			Detail:  "could not connect to service " + service,
			Err:     err,
		}
	}
	return internal(service, err)
}

func isConnectFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return !opErr.Timeout()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return !dnsErr.IsTimeout
	}
	return false
}
