package fetch

import (
	"context"

	"github.com/vietddude/fetcher/internal/core/domain"
)

// Transport opens sessions. A session belongs to exactly one fetch
// invocation and is closed by it exactly once.
type Transport interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session performs the outbound calls of one fetch invocation.
type Session interface {
	Do(ctx context.Context, req *domain.Request) (*domain.RawResponse, error)
	Close() error
}

// SessionFunc adapts a plain function to a Session with a no-op Close.
type SessionFunc func(ctx context.Context, req *domain.Request) (*domain.RawResponse, error)

func (f SessionFunc) Do(ctx context.Context, req *domain.Request) (*domain.RawResponse, error) {
	return f(ctx, req)
}

func (f SessionFunc) Close() error { return nil }

// TransportFunc adapts a session constructor to a Transport.
type TransportFunc func(ctx context.Context) (Session, error)

func (f TransportFunc) NewSession(ctx context.Context) (Session, error) { return f(ctx) }
