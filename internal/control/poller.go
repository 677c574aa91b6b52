package control

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/vietddude/fetcher/internal/core/domain"
	"github.com/vietddude/fetcher/internal/fetch"
	"github.com/vietddude/fetcher/internal/infra/storage"
	"github.com/vietddude/fetcher/internal/metrics"
)

// ErrRunning is returned by RunOnce while the poller loop is active.
var ErrRunning = errors.New("poller is running")

// Job is a request the poller fetches every Interval.
type Job struct {
	Name     string
	Request  *domain.Request
	Interval time.Duration
	Fetcher  *fetch.Fetcher
}

// Poller runs jobs on their intervals. Jobs that fall due on the same tick
// are fetched together through fetch.FetchEach. The latest status of each
// job is written only by the goroutine running the tick.
type Poller struct {
	jobs        []Job
	concurrency int
	failedRepo  storage.FailedFetchRepository // optional, feeds the backlog gauge
	resolution  time.Duration
	log         *slog.Logger
	now         func() time.Time

	mu       sync.RWMutex
	snapshot map[string]domain.JobStatus

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPoller creates a poller. concurrency <= 0 means unbounded.
func NewPoller(jobs []Job, concurrency int, failedRepo storage.FailedFetchRepository) *Poller {
	resolution := time.Second
	for _, j := range jobs {
		if j.Interval > 0 && j.Interval < resolution {
			resolution = j.Interval
		}
	}
	return &Poller{
		jobs:        jobs,
		concurrency: concurrency,
		failedRepo:  failedRepo,
		resolution:  resolution,
		log:         slog.Default(),
		now:         time.Now,
		snapshot:    make(map[string]domain.JobStatus, len(jobs)),
	}
}

// Start runs the polling loop in the background until Stop is called or
// ctx ends. Every job runs once immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(ctx)
	p.log.Info("Poller started", "jobs", len(p.jobs), "resolution", p.resolution)
	return nil
}

// Stop cancels in-flight fetches and waits for the loop to exit.
func (p *Poller) Stop() {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.runMu.Unlock()

	cancel()
	<-done

	p.runMu.Lock()
	p.running = false
	p.runMu.Unlock()
	p.log.Info("Poller stopped")
}

// RunOnce fetches every job now and returns the resulting statuses.
func (p *Poller) RunOnce(ctx context.Context) (map[string]domain.JobStatus, error) {
	p.runMu.Lock()
	running := p.running
	p.runMu.Unlock()
	if running {
		return nil, ErrRunning
	}

	p.runJobs(ctx, p.jobs)
	return p.Snapshot(), nil
}

// Snapshot returns a copy of the latest job statuses.
func (p *Poller) Snapshot() map[string]domain.JobStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.snapshot)
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.resolution)
	defer ticker.Stop()

	next := make(map[string]time.Time, len(p.jobs))
	for {
		now := p.now()
		var due []Job
		for _, j := range p.jobs {
			if !next[j.Name].After(now) {
				due = append(due, j)
				next[j.Name] = now.Add(j.Interval)
			}
		}
		if len(due) > 0 {
			p.runJobs(ctx, due)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) runJobs(ctx context.Context, jobs []Job) {
	calls := make(map[string]fetch.Call, len(jobs))
	for _, j := range jobs {
		calls[j.Name] = fetch.Call{Fetcher: j.Fetcher, Request: j.Request}
	}

	results := fetch.FetchEach(ctx, calls, p.concurrency, fetch.Raw)
	p.apply(results)

	if p.failedRepo != nil {
		if count, err := p.failedRepo.Count(context.WithoutCancel(ctx), ""); err == nil {
			metrics.FailedFetchesPending.Set(float64(count))
		}
	}
}

// apply folds a tick's results into the snapshot. Canceled fetches say
// nothing about the job and are skipped.
func (p *Poller) apply(results map[string]fetch.Result[[]byte]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for name, res := range results {
		if res.Outcome == domain.OutcomeCanceled || res.Outcome == "" {
			continue
		}

		st := p.snapshot[name]
		st.Name = name
		st.Runs++
		st.LastRunAt = now
		st.LastOutcome = res.Outcome
		st.LastAttempts = res.Attempts
		st.LastStatusCode = res.StatusCode

		if res.Err == nil {
			st.LastError = ""
			st.LastSuccessAt = now
			st.ConsecutiveFailures = 0
			p.log.Debug("Job fetched", "job", name, "attempts", res.Attempts, "bytes", len(res.Value))
		} else {
			st.LastError = res.Err.Error()
			st.ConsecutiveFailures++
			p.log.Warn("Job failed", "job", name, "attempts", res.Attempts, "error", res.Err)
		}
		p.snapshot[name] = st
	}
}
