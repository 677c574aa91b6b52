package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vietddude/fetcher/internal/core/domain"
	"github.com/vietddude/fetcher/internal/fetch"
)

// GRPCConfig holds gRPC transport settings.
type GRPCConfig struct {
	Name     string        `yaml:"name"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`

	// DialOptions are appended after the defaults.
	DialOptions []grpc.DialOption `yaml:"-"`
}

// conn is the part of *grpc.ClientConn a session needs.
type conn interface {
	grpc.ClientConnInterface
	Close() error
}

// GRPCTransport implements fetch.Transport for unary gRPC calls. Requests
// carry the full method name in Target and serialized protobuf in Body, so
// no generated client is needed. Every session dials its own connection.
type GRPCTransport struct {
	*BaseTransport

	target  string
	timeout time.Duration
	opts    []grpc.DialOption
	dial    func(target string, opts ...grpc.DialOption) (conn, error)
}

// NewGRPCTransport creates a new gRPC transport.
func NewGRPCTransport(cfg GRPCConfig) *GRPCTransport {
	if cfg.Name == "" {
		cfg.Name = "grpc"
	}

	target := cfg.Endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(target, "https://") || strings.HasSuffix(target, ":443") {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}
	opts = append(opts, cfg.DialOptions...)

	return &GRPCTransport{
		BaseTransport: NewBaseTransport(cfg.Name),
		target:        target,
		timeout:       cfg.Timeout,
		opts:          opts,
		dial: func(target string, opts ...grpc.DialOption) (conn, error) {
			return grpc.NewClient(target, opts...)
		},
	}
}

// NewSession creates a client connection owned by the session. Connecting
// is lazy; failures surface on the first call.
func (t *GRPCTransport) NewSession(ctx context.Context) (fetch.Session, error) {
	cc, err := t.dial(t.target, t.opts...)
	if err != nil {
		return nil, &fetch.TransportError{Op: "dial " + t.target, Err: err}
	}
	return &grpcSession{t: t, conn: cc}, nil
}

type grpcSession struct {
	t    *GRPCTransport
	conn conn

	once     sync.Once
	closeErr error
}

// Do invokes req.Target with req.Body as the request message.
func (s *grpcSession) Do(ctx context.Context, req *domain.Request) (*domain.RawResponse, error) {
	if s.t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.t.timeout)
		defer cancel()
	}
	if len(req.Headers) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, metadata.New(req.Headers))
	}

	start := time.Now()
	in := bytes.Clone(req.Body)
	var (
		out    []byte
		header metadata.MD
	)
	err := s.conn.Invoke(ctx, req.Target, &in, &out, grpc.ForceCodec(rawCodec{}), grpc.Header(&header))
	if err != nil {
		s.t.RecordFailure()
		return nil, grpcError(err)
	}
	s.t.RecordSuccess(time.Since(start))

	headers := make(http.Header, len(header))
	for k, v := range header {
		headers[http.CanonicalHeaderKey(k)] = v
	}
	return &domain.RawResponse{
		StatusCode: http.StatusOK,
		Headers:    headers,
		Body:       out,
		Protocol:   domain.ProtocolGRPC,
	}, nil
}

// Close closes the session's connection exactly once.
func (s *grpcSession) Close() error {
	s.once.Do(func() { s.closeErr = s.conn.Close() })
	return s.closeErr
}

// grpcError maps a call error into the fetch error taxonomy. Unavailable
// means the connection itself failed.
func grpcError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &fetch.TransportError{Op: "invoke", Err: err}
	}
	if st.Code() == codes.Unavailable {
		return &fetch.TransportError{Op: "invoke", Err: err}
	}
	return &fetch.ApplicationError{
		Protocol:   domain.ProtocolGRPC,
		StatusCode: int(st.Code()),
		Code:       int(st.Code()),
		Message:    st.Message(),
		Err:        err,
	}
}

// rawCodec passes pre-serialized protobuf bytes through untouched. It
// reports the "proto" name so servers keep their default codec.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("raw codec: unexpected message type %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: unexpected message type %T", v)
	}
	*b = bytes.Clone(data)
	return nil
}

func (rawCodec) Name() string { return "proto" }
