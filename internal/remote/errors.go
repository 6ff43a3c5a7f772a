package remote

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failed remote operation.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport covers network errors and timeouts.
	KindTransport
	// KindProtocol covers unparseable or unexpected responses.
	KindProtocol
	// KindDeviceUnavailable is an explicit disconnect signal or a 5xx from the relay.
	KindDeviceUnavailable
	// KindApplication is a well-formed success:false response.
	KindApplication
	// KindInvariant means local and remote state disagree in a way that needs a resync.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindDeviceUnavailable:
		return "device unavailable"
	case KindApplication:
		return "application"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is returned by every Client call. Message is short and safe to show
// to a user; Err keeps the underlying cause for logs.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	return KindUnknown
}

// UserMessage renders err as a short line for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) {
		if re.Message != "" {
			return re.Message
		}
		switch re.Kind {
		case KindTransport:
			return "Control service unreachable"
		case KindProtocol:
			return "Unexpected response from control service"
		case KindDeviceUnavailable:
			return "Device disconnected"
		case KindInvariant:
			return "Collection was out of sync and has been refreshed"
		}
	}
	return "Request failed"
}

// Errorf builds an *Error without an underlying cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}
