package fetch

import (
	"errors"
	"fmt"

	"github.com/vietddude/fetcher/internal/core/domain"
)

var (
	// ErrExhausted matches any FetchError of kind KindExhausted.
	ErrExhausted = errors.New("fetch exhausted")

	// ErrDecodeFailed matches any FetchError of kind KindDecodeFailed.
	ErrDecodeFailed = errors.New("decode failed")

	// ErrCanceled is returned when the caller's context ends the fetch.
	ErrCanceled = errors.New("fetch canceled")
)

// TransportError is a failure below the application layer: connection
// refused, reset, timeout, DNS and the like.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ApplicationError is a response that arrived but carries a failure marker,
// such as a non-2xx status or a JSON-RPC error object.
type ApplicationError struct {
	Protocol   domain.Protocol
	StatusCode int
	// Code is a protocol specific code (JSON-RPC error code, gRPC code).
	Code    int
	Message string

	// Class, when set, overrides the default classification.
	Class ErrorClass

	// Err is the underlying cause, if any (e.g. a gRPC status error).
	Err error
}

func (e *ApplicationError) Error() string {
	switch {
	case e.Code != 0 && e.Message != "":
		return fmt.Sprintf("%s error %d: %s", e.Protocol, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s %d: %s", e.Protocol, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s %d", e.Protocol, e.StatusCode)
	}
}

func (e *ApplicationError) Unwrap() error { return e.Err }

// DecodeError wraps a payload parse failure.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// Kind is the terminal failure kind of a fetch.
type Kind int

const (
	KindExhausted Kind = iota + 1
	KindDecodeFailed
)

func (k Kind) String() string {
	switch k {
	case KindExhausted:
		return "exhausted"
	case KindDecodeFailed:
		return "decode_failed"
	default:
		return "unknown"
	}
}

// FetchError is the only failure a caller sees besides cancellation. Err is
// the last underlying error.
type FetchError struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindExhausted:
		return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
	case KindDecodeFailed:
		return fmt.Sprintf("decode failed on attempt %d: %v", e.Attempts, e.Err)
	default:
		return fmt.Sprintf("fetch failed: %v", e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrExhausted:
		return e.Kind == KindExhausted
	case ErrDecodeFailed:
		return e.Kind == KindDecodeFailed
	}
	return false
}

// StatusCode digs the HTTP/gRPC status out of err, or 0.
func StatusCode(err error) int {
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}
