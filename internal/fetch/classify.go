package fetch

import (
	"errors"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/fetcher/internal/core/domain"
)

// ErrorClass determines whether a failed attempt may be retried.
type ErrorClass int

const (
	ClassUnset ErrorClass = iota
	ClassRetryable
	ClassTerminal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassTerminal:
		return "terminal"
	default:
		return "unset"
	}
}

// Classifier maps a failed attempt to an ErrorClass. Its output is
// authoritative: the fetcher never second-guesses it.
type Classifier func(err error) ErrorClass

// JSON-RPC codes that indicate a broken request rather than a sick server.
var terminalRPCCodes = map[int]bool{
	-32700: true, // parse error
	-32600: true, // invalid request
	-32601: true, // method not found
	-32602: true, // invalid params
}

// DefaultClassifier is used when a Fetcher has no classifier configured.
func DefaultClassifier(err error) ErrorClass {
	if err == nil {
		return ClassRetryable // Should not happen
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return ClassRetryable
	}

	var appErr *ApplicationError
	if !errors.As(err, &appErr) {
		// Unknown failures are treated like network trouble.
		return ClassRetryable
	}

	if appErr.Class != ClassUnset {
		return appErr.Class
	}

	switch appErr.Protocol {
	case domain.ProtocolGRPC:
		return ClassifyGRPC(appErr)
	default:
		return classifyHTTP(appErr)
	}
}

func classifyHTTP(appErr *ApplicationError) ErrorClass {
	// JSON-RPC errors travel inside 200 responses.
	if appErr.Code != 0 {
		if terminalRPCCodes[appErr.Code] {
			return ClassTerminal
		}
		return ClassRetryable
	}

	switch code := appErr.StatusCode; {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests:
		return ClassRetryable
	case code >= 500:
		return ClassRetryable
	case code >= 400:
		return ClassTerminal
	default:
		// 1xx/3xx that reached the validator are unexpected but not fatal.
		return ClassRetryable
	}
}

// ClassifyGRPC classifies an error carrying a gRPC status.
func ClassifyGRPC(err error) ErrorClass {
	st, ok := status.FromError(err)
	if !ok {
		var appErr *ApplicationError
		if errors.As(err, &appErr) && appErr.Err != nil {
			st, ok = status.FromError(appErr.Err)
		}
		if !ok {
			return ClassRetryable
		}
	}

	// Servers that attach RetryInfo explicitly ask to be retried.
	for _, d := range st.Details() {
		if _, ok := d.(*errdetails.RetryInfo); ok {
			return ClassRetryable
		}
	}

	switch st.Code() {
	case codes.Unavailable,
		codes.ResourceExhausted,
		codes.Aborted,
		codes.DeadlineExceeded,
		codes.Internal,
		codes.Unknown:
		return ClassRetryable
	default:
		return ClassTerminal
	}
}
