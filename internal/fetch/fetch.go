// Package fetch implements a retrying fetcher.
//
// A fetch sends a replayable request over a transport session, validates the
// response, decodes a typed payload and retries failed attempts with
// exponential backoff:
//
//	f, err := fetch.New(transport.NewHTTPTransport(transport.HTTPConfig{}))
//	user, err := fetch.Fetch(ctx, f, req, fetch.JSON[User]())
//
// Exactly one outcome is produced per call: the payload, a FetchError of
// kind KindExhausted or KindDecodeFailed, or ErrCanceled.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/fetcher/internal/core/domain"
)

const tracerName = "github.com/vietddude/fetcher/internal/fetch"

// Fetcher holds everything a fetch needs except the request and decoder.
// It is safe for concurrent use; each call owns its own session.
type Fetcher struct {
	transport Transport
	cfg       RetryConfig
	classify  Classifier
	validate  Validator
	observer  Observer
	log       *slog.Logger
	tracer    trace.Tracer

	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRetryConfig sets the default retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(f *Fetcher) { f.cfg = cfg }
}

// WithClassifier replaces DefaultClassifier.
func WithClassifier(c Classifier) Option {
	return func(f *Fetcher) { f.classify = c }
}

// WithValidator replaces DefaultValidator.
func WithValidator(v Validator) Option {
	return func(f *Fetcher) { f.validate = v }
}

// WithObserver adds an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) {
		if o == nil {
			return
		}
		if m, ok := f.observer.(multiObserver); ok {
			f.observer = append(m, o)
			return
		}
		f.observer = multiObserver{o}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(f *Fetcher) { f.log = log }
}

// WithTracerProvider sets the provider spans are created from. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *Fetcher) { f.tracer = tp.Tracer(tracerName) }
}

// New creates a Fetcher over t.
func New(t Transport, opts ...Option) (*Fetcher, error) {
	if t == nil {
		return nil, errors.New("fetch: nil transport")
	}
	f := &Fetcher{
		transport: t,
		cfg:       DefaultRetryConfig,
		classify:  DefaultClassifier,
		validate:  DefaultValidator,
		observer:  multiObserver{},
		log:       slog.Default(),
		tracer:    otel.Tracer(tracerName),
		sleep:     sleepContext,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.cfg = f.cfg.WithDefaults()
	if err := f.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fetch: invalid retry config: %w", err)
	}
	return f, nil
}

// Config returns the default retry configuration of f.
func (f *Fetcher) Config() RetryConfig {
	return f.cfg
}

// Fetch runs req with the fetcher's retry configuration.
func Fetch[T any](ctx context.Context, f *Fetcher, req *domain.Request, decode DecodeFunc[T]) (T, error) {
	return FetchWithConfig(ctx, f, req, f.cfg, decode)
}

// FetchWithConfig runs req with an explicit retry configuration. Zero fields
// of cfg take the package defaults.
func FetchWithConfig[T any](
	ctx context.Context,
	f *Fetcher,
	req *domain.Request,
	cfg RetryConfig,
	decode DecodeFunc[T],
) (T, error) {
	result, _, err := run(ctx, f, req, cfg, decode)
	return result, err
}

// run is the retry loop. The returned Outcome is zero when the arguments
// are rejected before any attempt.
func run[T any](
	ctx context.Context,
	f *Fetcher,
	req *domain.Request,
	cfg RetryConfig,
	decode DecodeFunc[T],
) (result T, outcome Outcome, err error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return result, outcome, fmt.Errorf("fetch: invalid retry config: %w", err)
	}
	if req == nil {
		return result, outcome, errors.New("fetch: nil request")
	}
	if decode == nil {
		return result, outcome, errors.New("fetch: nil decoder")
	}

	start := time.Now()
	id := f.newID()
	log := f.log.With("request_id", id, "target", req.Target)

	ctx, span := f.tracer.Start(ctx, "fetch "+req.Label(), trace.WithAttributes(
		attribute.String("fetch.request_id", id),
		attribute.String("fetch.target", req.Target),
		attribute.String("fetch.method", req.Method),
		attribute.Int("fetch.max_attempts", cfg.MaxAttempts),
	))

	var (
		sess       Session
		m          machine
		state      RetryState
		statusCode int
	)

	defer func() {
		if sess != nil {
			if cerr := sess.Close(); cerr != nil {
				log.Warn("Failed to close fetch session", "error", cerr)
			}
		}

		outcome = Outcome{
			RequestID:  id,
			Result:     outcomeOf(err),
			Attempts:   state.Attempt,
			StatusCode: statusCode,
			Err:        err,
			Duration:   time.Since(start),
		}
		f.observer.OnOutcome(ctx, req, outcome)

		span.SetAttributes(
			attribute.Int("fetch.attempts", state.Attempt),
			attribute.String("fetch.outcome", string(outcome.Result)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(outcome.Result))
		}
		span.End()
	}()

	canceled := func(cause error) error {
		m.to(StateFailed)
		return fmt.Errorf("%w after %d attempts: %w", ErrCanceled, state.Attempt, cause)
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, outcome, canceled(ctxErr)
		}

		state.Attempt++
		f.observer.OnAttempt(ctx, req, state.Attempt)
		span.AddEvent("attempt", trace.WithAttributes(attribute.Int("attempt", state.Attempt)))

		resp, attemptErr := f.attempt(ctx, &sess, req)
		if resp != nil {
			statusCode = resp.StatusCode
		}
		if attemptErr == nil {
			attemptErr = f.validate(resp)
		}

		if attemptErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, outcome, canceled(ctxErr)
			}
			if statusCode == 0 {
				statusCode = StatusCode(attemptErr)
			}

			class := f.classify(attemptErr)
			if !state.fail(attemptErr, class, cfg) {
				m.to(StateFailed)
				log.Warn("Fetch failed",
					"attempt", state.Attempt,
					"class", class.String(),
					"error", attemptErr,
				)
				return result, outcome, &FetchError{Kind: KindExhausted, Attempts: state.Attempt, Err: attemptErr}
			}

			m.to(StateBackoff)
			f.observer.OnRetry(ctx, req, state.Attempt, attemptErr, state.NextDelay)
			log.Debug("Retrying fetch",
				"attempt", state.Attempt,
				"delay", state.NextDelay,
				"error", attemptErr,
			)
			if err := f.sleep(ctx, state.NextDelay); err != nil {
				return result, outcome, canceled(err)
			}
			m.to(StateAttempting)
			continue
		}

		m.to(StateDecoding)
		payload, decodeErr := decode(resp)
		if decodeErr != nil {
			m.to(StateFailed)
			var de *DecodeError
			if !errors.As(decodeErr, &de) {
				de = &DecodeError{Err: decodeErr}
			}
			log.Warn("Fetch payload could not be decoded", "attempt", state.Attempt, "error", decodeErr)
			return result, outcome, &FetchError{Kind: KindDecodeFailed, Attempts: state.Attempt, Err: de}
		}

		m.to(StateSucceeded)
		return payload, outcome, nil
	}
}

// attempt performs one outbound call, opening the session on first use.
func (f *Fetcher) attempt(ctx context.Context, sess *Session, req *domain.Request) (*domain.RawResponse, error) {
	if *sess == nil {
		s, err := f.transport.NewSession(ctx)
		if err != nil {
			var te *TransportError
			if errors.As(err, &te) {
				return nil, err
			}
			return nil, &TransportError{Op: "open session", Err: err}
		}
		*sess = s
	}
	resp, err := (*sess).Do(ctx, req)
	if err == nil && resp == nil {
		return nil, &TransportError{Op: "do", Err: errors.New("no response")}
	}
	return resp, err
}

func outcomeOf(err error) domain.FetchOutcome {
	switch {
	case err == nil:
		return domain.OutcomeSucceeded
	case errors.Is(err, ErrCanceled):
		return domain.OutcomeCanceled
	case errors.Is(err, ErrDecodeFailed):
		return domain.OutcomeDecodeFailed
	default:
		return domain.OutcomeExhausted
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
