// Package scheduler claims PENDING reconciliation jobs and runs them on a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/balsam/pkg/context"
	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/metrics"
	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	// DefaultPollInterval is the default interval between polls for pending jobs
	DefaultPollInterval = 10 * time.Second

	// DefaultBatchSize is the number of pending jobs fetched per poll
	DefaultBatchSize = 50

	// DefaultWorkers is the number of jobs run concurrently
	DefaultWorkers = 4

	// DefaultRetryAttempts bounds contention retries before a job is left for the next poll
	DefaultRetryAttempts = 3
)

// JobSource lists jobs waiting to run
type JobSource interface {
	ListPending(ctx context.Context, limit int) ([]models.ReconciliationJob, error)
}

// Runner executes a single job to a terminal state
type Runner interface {
	Run(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error)
}

// Config holds configuration for the scheduler
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Workers      int

	// RetryAttempts and RetryInitialInterval shape the backoff applied when a job's lock is held elsewhere.
	RetryAttempts        int
	RetryInitialInterval time.Duration
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:         DefaultPollInterval,
		BatchSize:            DefaultBatchSize,
		Workers:              DefaultWorkers,
		RetryAttempts:        DefaultRetryAttempts,
		RetryInitialInterval: time.Second,
	}
}

// Scheduler polls for pending jobs and dispatches them to workers
type Scheduler struct {
	source JobSource
	runner Runner
	config Config
	logger ectologger.Logger

	slots    chan struct{}
	inFlight map[uuid.UUID]struct{}
	workers  sync.WaitGroup

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewScheduler creates a new scheduler
func NewScheduler(source JobSource, runner Runner, config Config, logger ectologger.Logger) *Scheduler {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.RetryAttempts < 0 {
		config.RetryAttempts = 0
	}
	if config.RetryInitialInterval <= 0 {
		config.RetryInitialInterval = defaults.RetryInitialInterval
	}

	return &Scheduler{
		source:   source,
		runner:   runner,
		config:   config,
		logger:   logger,
		slots:    make(chan struct{}, config.Workers),
		inFlight: make(map[uuid.UUID]struct{}),
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

func (s *Scheduler) GetName() string {
	return "scheduler"
}

func (s *Scheduler) DependsOn() []string {
	return []string{"database"}
}

// Start launches the poll loop. Jobs run under a context detached from ctx's cancellation;
// Stop ends them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithContext(ctx).Infof("Starting scheduler: poll_interval=%s batch_size=%d workers=%d",
		s.config.PollInterval, s.config.BatchSize, s.config.Workers)

	go s.pollLoop(context.WithoutCancel(ctx))
	return nil
}

// Stop stops polling and waits for running jobs to finish
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")
	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)
	defer s.workers.Wait()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.Poll(ctx)

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Scheduler poll loop stopping")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll runs one scheduling cycle and returns how many jobs were dispatched. Jobs already
// running in this process are skipped; when every worker is busy the rest wait for the
// next cycle.
func (s *Scheduler) Poll(ctx context.Context) int {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.Poll")
	defer span.End()

	pending, err := s.source.ListPending(ctx, s.config.BatchSize)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list pending jobs")
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	dispatched := 0
	for _, job := range pending {
		if !s.claim(job.ID) {
			continue
		}
		select {
		case s.slots <- struct{}{}:
		default:
			s.unclaim(job.ID)
			s.logger.WithContext(ctx).Debugf("All %d workers busy, deferring remaining jobs", s.config.Workers)
			return dispatched
		}

		dispatched++
		metrics.SchedulerJobsClaimed.Inc()
		s.workers.Add(1)
		go func(id uuid.UUID) {
			defer s.workers.Done()
			defer func() { <-s.slots }()
			defer s.unclaim(id)
			s.runJob(ctx, id)
		}(job.ID)
	}

	s.logger.WithContext(ctx).Infof("Scheduling cycle dispatched %d of %d pending jobs", dispatched, len(pending))
	return dispatched
}

func (s *Scheduler) claim(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) unclaim(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// runJob retries only on lock contention. Anything else is final: the coordinator has
// already recorded it on the job.
func (s *Scheduler) runJob(ctx context.Context, id uuid.UUID) {
	ctx = appctx.SetJobID(ctx, id.String())
	log := s.logger.WithContext(ctx).WithField("job_id", id.String())

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.RetryInitialInterval
	policy.MaxElapsedTime = 0

	var final *models.ReconciliationJob
	operation := func() error {
		job, err := s.runner.Run(ctx, id)
		if err == nil {
			final = job
			return nil
		}
		if apperrors.IsLockContentionError(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).Debugf("Job lock contended, retrying in %s", wait)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.config.RetryAttempts)), ctx), notify)
	switch {
	case err == nil:
		log.WithField("status", string(final.Status)).Info("Scheduled job finished")
	case apperrors.IsLockContentionError(err):
		log.Info("Job still contended, leaving it pending")
	default:
		log.WithError(err).Warn("Scheduled job did not start")
	}
}
