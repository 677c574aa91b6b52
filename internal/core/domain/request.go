package domain

import (
	"bytes"
	"io"
	"maps"
	"net/http"
	"strings"
)

// Protocol identifies the transport a request is meant for.
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
	ProtocolGRPC Protocol = "grpc"
)

// Request describes one outbound call. It is immutable once built and can be
// replayed any number of times.
type Request struct {
	// Name is an optional logical name (e.g. the job name).
	Name string `json:"name,omitempty"`

	// Target is the URL for HTTP or the full method name for gRPC
	// (e.g. "/pkg.Service/Method").
	Target string `json:"target"`

	// Method is the HTTP verb. Ignored for gRPC.
	Method string `json:"method"`

	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// NewRequest builds a Request, copying headers and body.
func NewRequest(method, target string, headers map[string]string, body []byte) *Request {
	if method == "" {
		method = http.MethodGet
	}
	r := &Request{
		Target: target,
		Method: strings.ToUpper(method),
	}
	if len(headers) > 0 {
		r.Headers = maps.Clone(headers)
	}
	if len(body) > 0 {
		r.Body = bytes.Clone(body)
	}
	return r
}

// WithName returns a copy of r carrying the given logical name.
func (r *Request) WithName(name string) *Request {
	c := *r
	c.Name = name
	return &c
}

// BodyReader returns a fresh reader over the body, or nil if there is none.
func (r *Request) BodyReader() io.Reader {
	if len(r.Body) == 0 {
		return nil
	}
	return bytes.NewReader(r.Body)
}

// Label returns the name if set, the target otherwise.
func (r *Request) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Target
}

// RawResponse is what a transport returns for one attempt.
type RawResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Protocol   Protocol
}

// OK reports whether the status code is in the 2xx range.
func (r *RawResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
