package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/fetcher/internal/core/config"
	"github.com/vietddude/fetcher/internal/core/domain"
	"github.com/vietddude/fetcher/internal/core/worker"
	"github.com/vietddude/fetcher/internal/fetch"
	"github.com/vietddude/fetcher/internal/health"
	redisclient "github.com/vietddude/fetcher/internal/infra/redis"
	"github.com/vietddude/fetcher/internal/infra/storage"
	"github.com/vietddude/fetcher/internal/infra/storage/memory"
	"github.com/vietddude/fetcher/internal/infra/storage/postgres"
	"github.com/vietddude/fetcher/internal/infra/transport"
	"github.com/vietddude/fetcher/internal/metrics"
)

// App wires storage, transports, the poller and the health server from
// configuration.
type App struct {
	cfg *config.AppConfig

	httpTransport *transport.HTTPTransport
	grpcTransport *transport.GRPCTransport // nil without grpc.endpoint

	logRepo    storage.FetchLogRepository
	failedRepo storage.FailedFetchRepository
	recorder   *Recorder

	poller       *Poller
	replayer     *Replayer
	pruner       *worker.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server

	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
	opts        []fetch.Option
}

// NewApp creates an App with all dependencies initialized. Nothing runs
// until Start. Extra options are applied to every fetcher.
func NewApp(ctx context.Context, cfg *config.AppConfig, opts ...fetch.Option) (*App, error) {
	a := &App{
		cfg:  cfg,
		log:  slog.Default(),
		opts: opts,
	}

	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}

	// Transports
	a.httpTransport = transport.NewHTTPTransport(cfg.Transport)
	healthTransports := []health.Transport{a.httpTransport}
	if cfg.GRPC.Endpoint != "" {
		a.grpcTransport = transport.NewGRPCTransport(cfg.GRPC)
		healthTransports = append(healthTransports, a.grpcTransport)
	}

	// Jobs: polled fetchers dead-letter, replay fetchers only log.
	a.recorder = NewRecorder(a.logRepo, a.failedRepo)
	if w, ok := a.logRepo.(storage.OutcomeWriter); ok && a.redisClient == nil && a.db != nil {
		a.recorder.WithAtomicWriter(w)
	}
	replayRecorder := NewRecorder(a.logRepo, nil)

	jobs := make([]Job, 0, len(cfg.Jobs))
	replayFetchers := make(map[string]*fetch.Fetcher, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		f, err := a.NewFetcher(jc, a.recorder)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("job %s: %w", jc.Name, err)
		}
		rf, err := a.NewFetcher(jc, replayRecorder)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("job %s: %w", jc.Name, err)
		}
		jobs = append(jobs, Job{
			Name:     jc.Name,
			Request:  jc.Request(),
			Interval: jc.Interval,
			Fetcher:  f,
		})
		replayFetchers[jc.Name] = rf
	}

	adhoc, err := a.NewFetcher(config.JobConfig{Protocol: domain.ProtocolHTTP, Validator: "default"}, replayRecorder)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.poller = NewPoller(jobs, cfg.Server.Concurrency, a.failedRepo)
	a.replayer = NewReplayer(a.failedRepo, func(ff *domain.FailedFetch) *fetch.Fetcher {
		if f, ok := replayFetchers[ff.Name]; ok {
			return f
		}
		return adhoc
	}, cfg.Storage.MaxReplays)
	a.pruner = worker.NewPruner(cfg.Storage.Retention, a.logRepo)

	a.healthMon = health.NewMonitor(a.poller, a.failedRepo, healthTransports...)
	if a.db != nil {
		a.healthMon.AddCheck("postgres", a.db.Health)
	}
	if a.redisClient != nil {
		a.healthMon.AddCheck("redis", a.redisClient.Ping)
	}
	a.healthServer = health.NewServer(a.healthMon, cfg.Server.Port)

	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	if a.cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, a.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to migrate db: %w", err)
		}
		a.db = db
		a.logRepo = postgres.NewFetchLogRepo(db)
		a.failedRepo = postgres.NewFailedFetchRepo(db)
		a.log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		a.logRepo = memory.NewFetchLogRepo(store)
		a.failedRepo = memory.NewFailedFetchRepo(store)
		a.log.Info("Using Memory storage")
	}

	if a.cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(a.cfg.Redis)
		if err != nil {
			a.log.Warn("Failed to connect to Redis, keeping default dead-letter store", "error", err)
			return nil
		}
		a.redisClient = client
		a.failedRepo = redisclient.NewFailedFetchRepo(client, a.cfg.Redis)
		a.log.Info("Using Redis dead-letter queue")
	}
	return nil
}

// NewFetcher builds a fetcher for a job with the configured transport,
// validator and retry settings.
func (a *App) NewFetcher(jc config.JobConfig, observers ...fetch.Observer) (*fetch.Fetcher, error) {
	var t fetch.Transport = a.httpTransport
	if jc.Protocol == domain.ProtocolGRPC {
		if a.grpcTransport == nil {
			return nil, errors.New("grpc job without grpc.endpoint")
		}
		t = a.grpcTransport
	}

	validator := fetch.DefaultValidator
	if jc.Validator == "jsonrpc" {
		validator = fetch.JSONRPCValidator
	}

	opts := []fetch.Option{
		fetch.WithRetryConfig(jc.RetryFor(a.cfg.Retry)),
		fetch.WithValidator(validator),
		fetch.WithLogger(a.log),
		fetch.WithObserver(metrics.Observer{}),
	}
	for _, o := range observers {
		opts = append(opts, fetch.WithObserver(o))
	}
	opts = append(opts, a.opts...)
	return fetch.New(t, opts...)
}

// Poller returns the job poller.
func (a *App) Poller() *Poller { return a.poller }

// FetchLog returns the fetch record store.
func (a *App) FetchLog() storage.FetchLogRepository { return a.logRepo }

// FailedFetches returns the dead-letter store.
func (a *App) FailedFetches() storage.FailedFetchRepository { return a.failedRepo }

// Replay re-runs dead-lettered fetches.
func (a *App) Replay(ctx context.Context, name string, limit int) (ReplayReport, error) {
	return a.replayer.Replay(ctx, name, limit)
}

// Start starts the poller, the health server and background workers.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}
	go a.pruner.Start(ctx)

	return a.poller.Start(ctx)
}

// Stop stops the poller and the health server, then releases connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping fetcher...")

	a.poller.Stop()
	err := a.healthServer.Stop(ctx)
	a.Close()
	return err
}

// Close releases storage connections.
func (a *App) Close() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
		a.redisClient = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
		a.db = nil
	}
}
