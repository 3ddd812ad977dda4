package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrServiceUnavailable matches every *ServiceUnavailableError.
var ErrServiceUnavailable = errors.New("service unavailable")

// Reasons carried by ServiceUnavailableError.
const (
	ReasonNoInstances        = "no instances"
	ReasonCircuitOpen        = "circuit open"
	ReasonNoHealthyInstances = "no healthy instances"
	ReasonUnreachable        = "unreachable"
)

type ServiceUnavailableError struct {
	Service string
	Reason  string
	// Addr is host:port of the instance that could not be reached, if any.
	Addr  string
	Cause error
}

func (e *ServiceUnavailableError) Error() string {
	msg := fmt.Sprintf("service %s unavailable: %s", e.Service, e.Reason)
	if e.Addr != "" {
		msg += " at " + e.Addr
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ServiceUnavailableError) Unwrap() error {
	return e.Cause
}

func (e *ServiceUnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// UpstreamError is a response with status >= 400. It is never retried.
type UpstreamError struct {
	Status int
	Header http.Header
	Body   []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.Status)
}

// ConnectionError covers dial failures, resets, and call timeouts.
type ConnectionError struct {
	Addr  string
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Addr, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether err may succeed on another attempt.
func Retryable(err error) bool {
	var upstream *UpstreamError
	return !errors.As(err, &upstream)
}
