package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/vietddude/fetcher/internal/core/domain"
	"github.com/vietddude/fetcher/internal/fetch"
)

// RateLimit allows Requests per Interval. A zero value disables limiting.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Interval time.Duration `yaml:"interval"`
}

// BreakerConfig configures the optional circuit breaker.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	MaxRequests         uint32        `yaml:"max_requests"` // half-open probes
	Interval            time.Duration `yaml:"interval"`     // closed-state count reset
	Timeout             time.Duration `yaml:"timeout"`      // open -> half-open
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// HTTPConfig holds HTTP transport settings.
type HTTPConfig struct {
	Name         string            `yaml:"name"`
	Timeout      time.Duration     `yaml:"timeout"`
	MaxBodyBytes int64             `yaml:"max_body_bytes"`
	Headers      map[string]string `yaml:"headers"`
	RateLimit    RateLimit         `yaml:"rate_limit"`
	Breaker      BreakerConfig     `yaml:"breaker"`
}

const (
	defaultHTTPTimeout  = 30 * time.Second
	defaultMaxBodyBytes = 10 << 20
)

var errServerStatus = errors.New("server error status")

// HTTPTransport implements fetch.Transport over net/http. Each session gets
// its own connection pool, closed when the session closes.
type HTTPTransport struct {
	*BaseTransport

	cfg     HTTPConfig
	base    *http.Transport
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPTransport creates a new HTTP transport.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	t := &HTTPTransport{
		BaseTransport: NewBaseTransport(cfg.Name),
		cfg:           cfg,
		base: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	if cfg.RateLimit.Requests > 0 && cfg.RateLimit.Interval > 0 {
		every := cfg.RateLimit.Interval / time.Duration(cfg.RateLimit.Requests)
		t.limiter = rate.NewLimiter(rate.Every(every), cfg.RateLimit.Requests)
	}

	if cfg.Breaker.Enabled {
		t.breaker = newBreaker(cfg.Name, cfg.Breaker)
	}

	return t
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
	})
}

// BreakerState reports the breaker state, or "disabled".
func (t *HTTPTransport) BreakerState() string {
	if t.breaker == nil {
		return "disabled"
	}
	return t.breaker.State().String()
}

// NewSession opens a session with a private connection pool.
func (t *HTTPTransport) NewSession(ctx context.Context) (fetch.Session, error) {
	return &httpSession{
		t: t,
		client: &http.Client{
			Timeout:   t.cfg.Timeout,
			Transport: t.base.Clone(),
		},
	}, nil
}

type httpSession struct {
	t      *HTTPTransport
	client *http.Client
	once   sync.Once
}

// Do makes a single HTTP call.
func (s *httpSession) Do(ctx context.Context, req *domain.Request) (*domain.RawResponse, error) {
	if s.t.limiter != nil {
		if err := s.t.limiter.Wait(ctx); err != nil {
			return nil, &fetch.TransportError{Op: "rate limit", Err: err}
		}
	}

	if s.t.breaker == nil {
		return s.roundTrip(ctx, req)
	}

	var resp *domain.RawResponse
	_, err := s.t.breaker.Execute(func() (any, error) {
		var err error
		resp, err = s.roundTrip(ctx, req)
		if err != nil {
			return nil, err
		}
		// Server errors count against the breaker too.
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, errServerStatus
		}
		return nil, nil
	})
	switch {
	case err == nil, errors.Is(err, errServerStatus):
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, &fetch.TransportError{Op: "circuit breaker", Err: err}
	default:
		return nil, err
	}
}

func (s *httpSession) roundTrip(ctx context.Context, req *domain.Request) (*domain.RawResponse, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.Target, req.BodyReader())
	if err != nil {
		// A request that cannot be built will never succeed.
		return nil, &fetch.ApplicationError{
			Protocol: domain.ProtocolHTTP,
			Message:  fmt.Sprintf("create request: %v", err),
			Class:    fetch.ClassTerminal,
			Err:      err,
		}
	}
	for k, v := range s.t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.t.RecordFailure()
		return nil, &fetch.TransportError{Op: req.Method, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.t.cfg.MaxBodyBytes+1))
	if err != nil {
		s.t.RecordFailure()
		return nil, &fetch.TransportError{Op: "read response", Err: err}
	}
	if int64(len(body)) > s.t.cfg.MaxBodyBytes {
		s.t.RecordFailure()
		return nil, &fetch.ApplicationError{
			Protocol:   domain.ProtocolHTTP,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("response body exceeds %d bytes", s.t.cfg.MaxBodyBytes),
			Class:      fetch.ClassTerminal,
		}
	}

	latency := time.Since(start)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		s.t.Monitor.RecordThrottle(resp.StatusCode, resp.Header.Get("Retry-After"))
		s.t.RecordFailure()
	case resp.StatusCode == http.StatusForbidden:
		s.t.Monitor.RecordThrottle(resp.StatusCode, "")
		s.t.RecordFailure()
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.t.RecordSuccess(latency)
	default:
		s.t.RecordFailure()
	}

	return &domain.RawResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Protocol:   domain.ProtocolHTTP,
	}, nil
}

// Close releases the session's connections. Safe to call more than once.
func (s *httpSession) Close() error {
	s.once.Do(s.client.CloseIdleConnections)
	return nil
}
