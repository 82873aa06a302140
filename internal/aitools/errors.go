package aitools

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/capitalize-ai/prompt-engine/pkg/metrics"
)

// Kind classifies a collaborator failure.
type Kind string

const (
	// KindUnavailable means the collaborator could not be reached.
	KindUnavailable Kind = "unavailable"
	// KindTimeout means the call exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindStatus means the collaborator answered with a non-2xx status.
	KindStatus Kind = "status"
	// KindMalformed means the response body did not carry the expected fields.
	KindMalformed Kind = "malformed"
)

// Error is the result type of every failed collaborator call.
type Error struct {
	Op     string
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" when err is not a collaborator error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(op string, kind Kind, status int, err error) *Error {
	metrics.RecordProviderError(op, string(kind))
	return &Error{Op: op, Kind: kind, Status: status, Err: err}
}

func transportKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnavailable
}
