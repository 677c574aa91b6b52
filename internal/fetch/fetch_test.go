package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vietddude/fetcher/internal/core/domain"
)

type payload struct {
	Name string `json:"name"`
}

type step struct {
	resp *domain.RawResponse
	err  error
}

// scriptedTransport replays a fixed sequence of attempt results. Once the
// script runs out the last step repeats.
type scriptedTransport struct {
	mu      sync.Mutex
	steps   []step
	calls   int
	opened  int
	closed  int
	openErr error
}

func (s *scriptedTransport) NewSession(ctx context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opened++
	return &scriptedSession{t: s}, nil
}

type scriptedSession struct {
	t *scriptedTransport
}

func (s *scriptedSession) Do(ctx context.Context, req *domain.Request) (*domain.RawResponse, error) {
	s.t.mu.Lock()
	s.t.calls++
	n := s.t.calls
	st := s.t.steps[min(n-1, len(s.t.steps)-1)]
	s.t.mu.Unlock()

	return st.resp, st.err
}

func (s *scriptedSession) Close() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.t.closed++
	return nil
}

func ok(body string) step {
	return step{resp: &domain.RawResponse{StatusCode: http.StatusOK, Body: []byte(body)}}
}

func respond(code int) step {
	return step{resp: &domain.RawResponse{StatusCode: code, Body: []byte(http.StatusText(code))}}
}

func netErr() step {
	return step{err: &TransportError{Op: "do", Err: errors.New("connection reset by peer")}}
}

// newTestFetcher returns a fetcher whose waits are recorded instead of slept.
func newTestFetcher(t *testing.T, tr Transport, cfg RetryConfig) (*Fetcher, *[]time.Duration) {
	t.Helper()
	f, err := New(tr,
		WithRetryConfig(cfg),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var delays []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return f, &delays
}

func testRequest() *domain.Request {
	return domain.NewRequest(http.MethodGet, "http://example.test/users/1", nil, nil)
}

func TestFetch_PermanentFailureExhausts(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		tr := &scriptedTransport{steps: []step{netErr()}}
		f, delays := newTestFetcher(t, tr, RetryConfig{MaxAttempts: n, BaseDelay: 10 * time.Millisecond})

		_, err := Fetch(context.Background(), f, testRequest(), JSON[payload]())
		if !errors.Is(err, ErrExhausted) {
			t.Fatalf("n=%d: expected ErrExhausted, got %v", n, err)
		}
		if tr.calls != n {
			t.Errorf("n=%d: expected %d calls, got %d", n, n, tr.calls)
		}
		if len(*delays) != n-1 {
			t.Errorf("n=%d: expected %d waits, got %d", n, n-1, len(*delays))
		}
		if tr.opened != 1 || tr.closed != 1 {
			t.Errorf("n=%d: expected session opened/closed once, got %d/%d", n, tr.opened, tr.closed)
		}

		var fe *FetchError
		if !errors.As(err, &fe) || fe.Attempts != n {
			t.Errorf("n=%d: expected FetchError with %d attempts, got %#v", n, n, fe)
		}
		var te *TransportError
		if !errors.As(err, &te) {
			t.Errorf("n=%d: expected last transport error to be reachable", n)
		}
	}
}

func TestFetch_TerminalStopsImmediately(t *testing.T) {
	for _, limit := range []int{1, 3, 10} {
		tr := &scriptedTransport{steps: []step{respond(http.StatusNotFound), ok(`{"name":"never"}`)}}
		f, delays := newTestFetcher(t, tr, RetryConfig{MaxAttempts: limit, BaseDelay: time.Second})

		_, err := Fetch(context.Background(), f, testRequest(), JSON[payload]())
		if !errors.Is(err, ErrExhausted) {
			t.Fatalf("max=%d: expected ErrExhausted, got %v", limit, err)
		}
		if tr.calls != 1 {
			t.Errorf("max=%d: expected 1 call, got %d", limit, tr.calls)
		}
		if len(*delays) != 0 {
			t.Errorf("max=%d: expected no wait, got %v", limit, *delays)
		}
		if code := StatusCode(err); code != http.StatusNotFound {
			t.Errorf("max=%d: expected status 404, got %d", limit, code)
		}
	}
}

func TestFetch_DecodeFailureNotRetried(t *testing.T) {
	tr := &scriptedTransport{steps: []step{ok(`{not json`)}}
	f, delays := newTestFetcher(t, tr, RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond})

	_, err := Fetch(context.Background(), f, testRequest(), JSON[payload]())
	if !errors.Is(err, ErrDecodeFailed) {
		t.Fatalf("expected ErrDecodeFailed, got %v", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Error("decode failure must not match ErrExhausted")
	}
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Errorf("expected DecodeError in chain, got %v", err)
	}
	if tr.calls != 1 {
		t.Errorf("expected 1 call, got %d", tr.calls)
	}
	if len(*delays) != 0 {
		t.Errorf("expected no waits, got %v", *delays)
	}
	if tr.closed != 1 {
		t.Errorf("expected session closed once, got %d", tr.closed)
	}
}

func TestFetch_CancelDuringBackoff(t *testing.T) {
	tr := &scriptedTransport{steps: []step{respond(http.StatusServiceUnavailable)}}
	f, _ := newTestFetcher(t, tr, RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := Fetch(ctx, f, testRequest(), JSON[payload]())
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if tr.calls != 1 {
		t.Errorf("expected no calls after cancel, got %d total", tr.calls)
	}
	if tr.closed != 1 {
		t.Errorf("expected session closed once, got %d", tr.closed)
	}
}

func TestFetch_CancelBeforeFirstAttempt(t *testing.T) {
	tr := &scriptedTransport{steps: []step{ok(`{"name":"x"}`)}}
	f, _ := newTestFetcher(t, tr, DefaultRetryConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Fetch(ctx, f, testRequest(), JSON[payload]())
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if tr.calls != 0 || tr.opened != 0 {
		t.Errorf("expected no session and no calls, got opened=%d calls=%d", tr.opened, tr.calls)
	}
}

func TestFetch_RealTimerCancellation(t *testing.T) {
	tr := &scriptedTransport{steps: []step{netErr()}}
	f, err := New(tr,
		WithRetryConfig(RetryConfig{MaxAttempts: 3, BaseDelay: 10 * time.Second}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = Fetch(ctx, f, testRequest(), Raw)
	if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected canceled by deadline, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("backoff wait ignored cancellation, took %v", elapsed)
	}
	if tr.calls != 1 {
		t.Errorf("expected 1 call, got %d", tr.calls)
	}
}

func TestFetch_RetryThenSuccess(t *testing.T) {
	tr := &scriptedTransport{steps: []step{
		respond(http.StatusServiceUnavailable),
		netErr(),
		ok(`{"name":"P"}`),
	}}
	f, delays := newTestFetcher(t, tr, RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond})

	got, err := Fetch(context.Background(), f, testRequest(), JSON[payload]())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "P" {
		t.Errorf("expected payload P, got %+v", got)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, *delays)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("wait %d: expected %v, got %v", i, want[i], (*delays)[i])
		}
	}
	if tr.closed != 1 {
		t.Errorf("expected session closed once, got %d", tr.closed)
	}
}

func TestFetch_AllRetryableExhausts(t *testing.T) {
	tr := &scriptedTransport{steps: []step{respond(http.StatusBadGateway)}}
	f, delays := newTestFetcher(t, tr, RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond})

	_, err := Fetch(context.Background(), f, testRequest(), JSON[payload]())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if tr.calls != 3 {
		t.Errorf("expected 3 calls, got %d", tr.calls)
	}
	if len(*delays) != 2 {
		t.Errorf("expected 2 waits, got %v", *delays)
	}

	var appErr *ApplicationError
	if !errors.As(err, &appErr) || appErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected last error to be the 502, got %v", err)
	}
}

func TestFetch_SessionOpenFailureCountsAsAttempt(t *testing.T) {
	tr := &scriptedTransport{openErr: errors.New("dial tcp: connection refused")}
	f, delays := newTestFetcher(t, tr, RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond})

	_, err := Fetch(context.Background(), f, testRequest(), Raw)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "open session" {
		t.Errorf("expected open session transport error, got %v", err)
	}
	if len(*delays) != 1 {
		t.Errorf("expected 1 wait, got %v", *delays)
	}
}

func TestFetch_CustomClassifierIsAuthoritative(t *testing.T) {
	// 500 would normally be retried.
	tr := &scriptedTransport{steps: []step{respond(http.StatusInternalServerError)}}
	f, delays := newTestFetcher(t, tr, RetryConfig{MaxAttempts: 4, BaseDelay: time.Millisecond})
	f.classify = func(error) ErrorClass { return ClassTerminal }

	_, err := Fetch(context.Background(), f, testRequest(), Raw)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if tr.calls != 1 || len(*delays) != 0 {
		t.Errorf("expected 1 call and no wait, got %d calls, waits %v", tr.calls, *delays)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	attempts []int
	retries  []time.Duration
	outcomes []Outcome
}

func (o *recordingObserver) OnAttempt(_ context.Context, _ *domain.Request, attempt int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, attempt)
}

func (o *recordingObserver) OnRetry(_ context.Context, _ *domain.Request, _ int, _ error, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, delay)
}

func (o *recordingObserver) OnOutcome(_ context.Context, _ *domain.Request, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func TestFetch_ObserverSeesExactlyOneOutcome(t *testing.T) {
	tr := &scriptedTransport{steps: []step{netErr(), ok(`{"name":"x"}`)}}
	obs := &recordingObserver{}
	f, err := New(tr,
		WithRetryConfig(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}),
		WithObserver(obs),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.sleep = func(context.Context, time.Duration) error { return nil }

	if _, err := Fetch(context.Background(), f, testRequest(), JSON[payload]()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(obs.attempts) != 2 || obs.attempts[0] != 1 || obs.attempts[1] != 2 {
		t.Errorf("expected attempts [1 2], got %v", obs.attempts)
	}
	if len(obs.retries) != 1 || obs.retries[0] != time.Millisecond {
		t.Errorf("expected one 1ms retry, got %v", obs.retries)
	}
	if len(obs.outcomes) != 1 {
		t.Fatalf("expected exactly one outcome, got %d", len(obs.outcomes))
	}
	out := obs.outcomes[0]
	if out.Result != domain.OutcomeSucceeded || out.Attempts != 2 || out.StatusCode != http.StatusOK {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if out.RequestID == "" {
		t.Error("expected a request id")
	}
}

func TestFetch_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tr := &scriptedTransport{steps: []step{respond(http.StatusTooManyRequests), ok(`{"name":"x"}`)}}
	f, err := New(tr,
		WithRetryConfig(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}),
		WithTracerProvider(tp),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.sleep = func(context.Context, time.Duration) error { return nil }

	req := testRequest().WithName("user")
	if _, err := Fetch(context.Background(), f, req, JSON[payload]()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "fetch user" {
		t.Errorf("unexpected span name %q", span.Name())
	}
	if len(span.Events()) != 2 {
		t.Errorf("expected 2 attempt events, got %d", len(span.Events()))
	}
	var attempts int64
	for _, kv := range span.Attributes() {
		if kv.Key == "fetch.attempts" {
			attempts = kv.Value.AsInt64()
		}
	}
	if attempts != 2 {
		t.Errorf("expected fetch.attempts=2, got %d", attempts)
	}
}

func TestFetchWithConfig_InvalidConfig(t *testing.T) {
	tr := &scriptedTransport{steps: []step{ok(`{}`)}}
	f, _ := newTestFetcher(t, tr, DefaultRetryConfig)

	_, err := FetchWithConfig(context.Background(), f, testRequest(), RetryConfig{MaxAttempts: -1}, Raw)
	if err == nil {
		t.Fatal("expected error for negative max attempts")
	}
	if tr.calls != 0 {
		t.Errorf("expected no calls, got %d", tr.calls)
	}
}

func TestNew_NilTransport(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil transport")
	}
}
