package fetch

import (
	"encoding/json"
	"strings"

	"github.com/vietddude/fetcher/internal/core/domain"
)

// Validator inspects a response that arrived and reports an application
// error marker, or nil for a clean response.
type Validator func(resp *domain.RawResponse) error

const maxErrorBody = 512

// DefaultValidator flags every non-2xx response.
func DefaultValidator(resp *domain.RawResponse) error {
	if resp.OK() {
		return nil
	}
	protocol := resp.Protocol
	if protocol == "" {
		protocol = domain.ProtocolHTTP
	}
	return &ApplicationError{
		Protocol:   protocol,
		StatusCode: resp.StatusCode,
		Message:    snippet(resp.Body),
	}
}

var throttlePatterns = []string{
	"rate limit exceeded",
	"too many requests",
	"daily request count exceeded",
	"project rate limit",
	"monthly quota exceeded",
}

// IsThrottleMessage reports whether msg looks like a provider throttle reply.
func IsThrottleMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, pattern := range throttlePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// JSONRPCValidator extends DefaultValidator with JSON-RPC error envelopes,
// which arrive with a 200 status.
func JSONRPCValidator(resp *domain.RawResponse) error {
	if err := DefaultValidator(resp); err != nil {
		return err
	}

	var envelope struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	// Bodies that are not JSON-RPC objects are left for the decoder.
	if err := json.Unmarshal(resp.Body, &envelope); err != nil || envelope.Error == nil {
		return nil
	}

	appErr := &ApplicationError{
		Protocol:   domain.ProtocolHTTP,
		StatusCode: resp.StatusCode,
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
	}
	if appErr.Message == "" {
		appErr.Message = "unknown error"
	}
	if IsThrottleMessage(appErr.Message) {
		appErr.Class = ClassRetryable
	}
	return appErr
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
