// Package scheduler implements a worker pool that claims due jobs from the
// catalog, dispatches them by Kind to a registered handler under a per-kind
// concurrency cap, and sweeps stale leases left behind by crashed workers.
package scheduler

import (
	"context"
	"sync"
	"time"

	core "github.com/r3e-network/fraudctl/internal/app/core/service"
	"github.com/r3e-network/fraudctl/internal/app/domain/job"
	"github.com/r3e-network/fraudctl/internal/app/metrics"
	"github.com/r3e-network/fraudctl/internal/app/storage"
	"github.com/r3e-network/fraudctl/internal/app/system"
	"github.com/r3e-network/fraudctl/pkg/logger"
)

// Handler executes one job. A returned error fails the attempt; the
// scheduler decides whether to reschedule or give up based on MaxAttempts.
type Handler func(ctx context.Context, j job.Job) error

// DefaultConcurrency is the per-kind worker cap: training is the heaviest,
// retraining runs alone to avoid contending for the same GPU/CPU budget as
// an ad-hoc training job.
var DefaultConcurrency = map[job.Kind]int{
	job.KindTrain:          2,
	job.KindFeatureCompute: 4,
	job.KindDrift:          4,
	job.KindBias:           4,
	job.KindRetrain:        1,
	job.KindABEvaluate:     2,
}

// Config tunes the scheduler's polling cadence and lease management.
type Config struct {
	PollInterval  time.Duration // how often to claim due jobs, default 5s
	SweepInterval time.Duration // how often to sweep stale leases, default 1m
	LeaseTTL      time.Duration // default 30m
	ClaimBatch    int           // jobs claimed per poll, default 20
	Concurrency   map[job.Kind]int
	RetryBackoff  time.Duration // fixed delay before a failed job is rescheduled (no exponential growth), default 30s
	Owner         string        // lease owner identity, default a generated id
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Minute
	}
	if c.ClaimBatch <= 0 {
		c.ClaimBatch = 20
	}
	if c.Concurrency == nil {
		c.Concurrency = DefaultConcurrency
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 30 * time.Second
	}
	if c.Owner == "" {
		c.Owner = "scheduler"
	}
}

// Scheduler claims and dispatches jobs from the catalog.
type Scheduler struct {
	catalog  storage.Catalog
	cfg      Config
	log      *logger.Logger
	handlers map[job.Kind]Handler
	sems     map[job.Kind]chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Scheduler)(nil)

// New builds a Scheduler backed by catalog, dispatching to the supplied
// handlers. Kinds with no registered handler are left QUEUED untouched.
func New(catalog storage.Catalog, handlers map[job.Kind]Handler, cfg Config, log *logger.Logger) *Scheduler {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	sems := make(map[job.Kind]chan struct{}, len(cfg.Concurrency))
	for kind, n := range cfg.Concurrency {
		if n <= 0 {
			n = 1
		}
		sems[kind] = make(chan struct{}, n)
	}
	return &Scheduler{
		catalog:  catalog,
		cfg:      cfg,
		log:      log,
		handlers: handlers,
		sems:     sems,
	}
}

func (s *Scheduler) Name() string { return "job-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(2)
	go s.pollLoop(runCtx)
	go s.sweepLoop(runCtx)

	s.log.Info("job scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PollOnce(ctx)
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reset, failed, err := s.catalog.SweepStaleLeases(ctx, time.Now().UTC())
			if err != nil {
				s.log.WithError(err).Warn("scheduler: sweep stale leases failed")
				continue
			}
			if reset > 0 || failed > 0 {
				s.log.WithField("reset", reset).WithField("failed", failed).Info("scheduler: swept stale leases")
			}
		}
	}
}

// PollOnce claims one batch of due jobs per registered kind and dispatches
// each to its handler on a goroutine, gated by that kind's semaphore.
// Exported so tests and one-shot callers can drive a single pass.
func (s *Scheduler) PollOnce(ctx context.Context) {
	kinds := make([]job.Kind, 0, len(s.handlers))
	for k := range s.handlers {
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return
	}

	claimed, err := s.catalog.ClaimDueJobs(ctx, kinds, s.cfg.Owner, s.cfg.LeaseTTL, s.cfg.ClaimBatch, time.Now().UTC())
	if err != nil {
		s.log.WithError(err).Warn("scheduler: claim due jobs failed")
		return
	}
	for _, j := range claimed {
		s.dispatch(ctx, j)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, j job.Job) {
	handler, ok := s.handlers[j.Kind]
	if !ok {
		return
	}
	sem := s.sems[j.Kind]

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if sem != nil {
			sem <- struct{}{}
			defer func() { <-sem }()
		}
		s.run(ctx, j, handler)
	}()
}

func (s *Scheduler) run(ctx context.Context, j job.Job, handler Handler) {
	done := core.StartDispatch(ctx, metrics.SchedulerDispatchHooks(string(j.Kind)), map[string]string{"job_id": j.ID})
	err := handler(ctx, j)
	done(err)
	if err != nil {
		s.log.WithError(err).WithField("job_id", j.ID).Warn("scheduler: job failed")
		reschedule := time.Now().UTC().Add(s.cfg.RetryBackoff)
		if ferr := s.catalog.FailJob(ctx, j.ID, err.Error(), &reschedule); ferr != nil {
			s.log.WithError(ferr).Warn("scheduler: marking job failed also failed")
		}
		return
	}
	if cerr := s.catalog.CompleteJob(ctx, j.ID, 1.0); cerr != nil {
		s.log.WithError(cerr).Warn("scheduler: marking job complete failed")
		return
	}
	if rerr := EnqueueNextCronRun(ctx, s.catalog, j); rerr != nil {
		s.log.WithError(rerr).WithField("job_id", j.ID).Warn("scheduler: failed to enqueue next cron run")
	}
}

// Enqueue creates a one-shot or recurring job via the catalog, honoring
// IdempotencyKey dedup.
func (s *Scheduler) Enqueue(ctx context.Context, j job.Job) (job.Job, error) {
	return s.catalog.CreateJob(ctx, j)
}
