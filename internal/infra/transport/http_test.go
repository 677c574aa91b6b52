package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vietddude/fetcher/internal/core/domain"
	"github.com/vietddude/fetcher/internal/fetch"
)

func TestHTTPSession_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wallet/getnowblock" {
			t.Errorf("expected path /wallet/getnowblock, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected method POST, got %s", r.Method)
		}
		if got := r.Header.Get("X-Api-Key"); got != "secret" {
			t.Errorf("expected default header, got %q", got)
		}
		if got := r.Header.Get("X-Trace"); got != "abc" {
			t.Errorf("expected request header, got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected json content type, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"num":12345}` {
			t.Errorf("unexpected body %s", body)
		}
		w.Header().Set("X-Block", "62345555")
		_, _ = w.Write([]byte(`{"blockID":"0000000003abc123"}`))
	}))
	defer server.Close()

	tr := NewHTTPTransport(HTTPConfig{
		Name:    "tron-mock",
		Timeout: 5 * time.Second,
		Headers: map[string]string{"X-Api-Key": "secret"},
	})
	sess, err := tr.NewSession(context.Background())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	req := domain.NewRequest(http.MethodPost, server.URL+"/wallet/getnowblock",
		map[string]string{"X-Trace": "abc"}, []byte(`{"num":12345}`))

	resp, err := sess.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Protocol != domain.ProtocolHTTP {
		t.Errorf("unexpected response %+v", resp)
	}
	if string(resp.Body) != `{"blockID":"0000000003abc123"}` {
		t.Errorf("unexpected body %s", resp.Body)
	}
	if resp.Headers.Get("X-Block") != "62345555" {
		t.Errorf("expected response headers to be kept")
	}

	h := tr.GetHealth()
	if !h.Available || h.ErrorRate != 0 {
		t.Errorf("expected healthy transport, got %+v", h)
	}
}

func TestHTTPSession_ThrottleIsRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	tr := NewHTTPTransport(HTTPConfig{})
	sess, _ := tr.NewSession(context.Background())
	defer sess.Close()

	resp, err := sess.Do(context.Background(), domain.NewRequest("", server.URL, nil, nil))
	if err != nil {
		t.Fatalf("a 429 is a response, not a transport error: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp.StatusCode)
	}
	if tr.Monitor.CheckStatus() != StatusThrottled {
		t.Errorf("expected monitor to report throttled")
	}
	if h := tr.GetHealth(); h.ErrorRate != 1 {
		t.Errorf("expected error rate 1, got %v", h.ErrorRate)
	}
}

func TestHTTPSession_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	tr := NewHTTPTransport(HTTPConfig{Timeout: time.Second})
	sess, _ := tr.NewSession(context.Background())
	defer sess.Close()

	_, err := sess.Do(context.Background(), domain.NewRequest("", url, nil, nil))
	var te *fetch.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestHTTPSession_BodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	tr := NewHTTPTransport(HTTPConfig{MaxBodyBytes: 4})
	sess, _ := tr.NewSession(context.Background())
	defer sess.Close()

	_, err := sess.Do(context.Background(), domain.NewRequest("", server.URL, nil, nil))
	var appErr *fetch.ApplicationError
	if !errors.As(err, &appErr) || appErr.Class != fetch.ClassTerminal {
		t.Fatalf("expected terminal ApplicationError, got %v", err)
	}
}

func TestHTTPSession_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	tr := NewHTTPTransport(HTTPConfig{RateLimit: RateLimit{Requests: 1, Interval: time.Hour}})
	sess, _ := tr.NewSession(context.Background())
	defer sess.Close()

	req := domain.NewRequest("", server.URL, nil, nil)
	if _, err := sess.Do(context.Background(), req); err != nil {
		t.Fatalf("first call should pass the limiter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sess.Do(ctx, req)
	var te *fetch.TransportError
	if !errors.As(err, &te) || te.Op != "rate limit" {
		t.Fatalf("expected rate limit transport error, got %v", err)
	}
}

func TestHTTPSession_CircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	tr := NewHTTPTransport(HTTPConfig{Breaker: BreakerConfig{
		Enabled:             true,
		ConsecutiveFailures: 2,
		Timeout:             time.Hour,
	}})
	sess, _ := tr.NewSession(context.Background())
	defer sess.Close()

	req := domain.NewRequest("", server.URL, nil, nil)
	for i := 0; i < 2; i++ {
		resp, err := sess.Do(context.Background(), req)
		if err != nil {
			t.Fatalf("call %d: a 500 is returned as a response, got %v", i+1, err)
		}
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("call %d: expected 500, got %d", i+1, resp.StatusCode)
		}
	}

	_, err := sess.Do(context.Background(), req)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("expected the open breaker to short-circuit, server saw %d calls", hits.Load())
	}
	if tr.BreakerState() != "open" {
		t.Errorf("expected breaker state open, got %s", tr.BreakerState())
	}
}

func TestHTTPSession_CloseIsIdempotent(t *testing.T) {
	tr := NewHTTPTransport(HTTPConfig{})
	sess, _ := tr.NewSession(context.Background())
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
}

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestFetchOverHTTP_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":7,"name":"ada"}`))
	}))
	defer server.Close()

	f, err := fetch.New(NewHTTPTransport(HTTPConfig{}),
		fetch.WithRetryConfig(fetch.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}),
		fetch.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}

	got, err := fetch.Fetch(context.Background(), f, domain.NewRequest("", server.URL+"/users/7", nil, nil), fetch.JSON[user]())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != 7 || got.Name != "ada" {
		t.Errorf("unexpected payload %+v", got)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestFetchOverHTTP_TerminalStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	f, _ := fetch.New(NewHTTPTransport(HTTPConfig{}),
		fetch.WithRetryConfig(fetch.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}),
		fetch.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	_, err := fetch.Fetch(context.Background(), f, domain.NewRequest("", server.URL, nil, nil), fetch.Raw)
	if !errors.Is(err, fetch.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if fetch.StatusCode(err) != http.StatusUnauthorized {
		t.Errorf("expected 401 in error chain, got %d", fetch.StatusCode(err))
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}
