// Package jobs owns the reconciliation run lifecycle: the job state machine, the
// exclusivity lease, progress checkpoints and result persistence.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	appctx "github.com/Ramsey-B/balsam/pkg/context"
	"github.com/Ramsey-B/balsam/pkg/database"
	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/loader"
	"github.com/Ramsey-B/balsam/pkg/locking"
	"github.com/Ramsey-B/balsam/pkg/matching"
	"github.com/Ramsey-B/balsam/pkg/metrics"
	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/normalizer"
	"github.com/Ramsey-B/balsam/pkg/statusstore"
	"github.com/Ramsey-B/balsam/pkg/tolerance"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

const (
	// DefaultLockTTL bounds how long a crashed run blocks its scope
	DefaultLockTTL = 5 * time.Minute
)

var errCancelRequested = errors.New("cancellation requested")

// Config holds coordinator settings
type Config struct {
	// HolderID identifies this process as lock holder. Defaults to hostname plus a random suffix.
	HolderID string
	LockTTL  time.Duration
	// HeartbeatInterval defaults to a third of LockTTL.
	HeartbeatInterval time.Duration
	ChunkSize         int
	Matcher           matching.Config
}

// Dependencies are the collaborators of a Coordinator. Reports, Results, Events and Tx are optional.
// Without Tx the terminal writes run one after another with no rollback.
type Dependencies struct {
	Jobs       Store
	Locker     locking.Locker
	Loader     loader.Source
	Thresholds ThresholdSource
	Statuses   statusstore.Reader
	Reports    ReportStore
	Results    ResultSink
	Events     ProgressEmitter
	Tx         Transactor
	Logger     ectologger.Logger
}

// Coordinator drives reconciliation jobs from PENDING to a terminal state
type Coordinator struct {
	config Config
	deps   Dependencies
	logger ectologger.Logger
	now    func() time.Time
	// onMatched runs between matching and the final lock check. Tests use it.
	onMatched func(ctx context.Context)
}

func defaultHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "balsam"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// NewCoordinator creates a new coordinator
func NewCoordinator(config Config, deps Dependencies) *Coordinator {
	if config.HolderID == "" {
		config.HolderID = defaultHolderID()
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = config.LockTTL / 3
	}
	if config.Matcher.BucketCheckEvery <= 0 {
		config.Matcher.BucketCheckEvery = matching.DefaultBucketCheckEvery
	}
	if deps.Tx == nil {
		deps.Tx = noTx{}
	}

	return &Coordinator{
		config: config,
		deps:   deps,
		logger: deps.Logger,
		now:    time.Now,
	}
}

// SubmitRequest describes a run to queue
type SubmitRequest struct {
	BOFilePath      string                 `json:"bo_file_path" validate:"required"`
	PartnerFilePath string                 `json:"partner_file_path" validate:"required"`
	Model           models.ProcessingModel `json:"model"`
	ModelID         *uuid.UUID             `json:"model_id,omitempty"`
	Scope           models.JobScope        `json:"scope"`
	// LockKey overrides the key derived from Scope.
	LockKey  string `json:"lock_key,omitempty"`
	LockType string `json:"lock_type,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// Submit validates the model and stores a PENDING job with a snapshot of it.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*models.ReconciliationJob, error) {
	ctx, span := tracing.StartSpan(ctx, "Coordinator.Submit")
	defer span.End()

	if err := req.Model.Validate(); err != nil {
		return nil, err
	}

	lockKey := req.LockKey
	if lockKey == "" {
		lockKey = req.Scope.LockKey()
	}
	lockType := req.LockType
	if lockType == "" {
		lockType = models.DefaultLockType
	}

	job := &models.ReconciliationJob{
		ID:              uuid.New(),
		Status:          models.JobStatusPending,
		BOFilePath:      req.BOFilePath,
		PartnerFilePath: req.PartnerFilePath,
		ModelID:         req.ModelID,
		ConfigSnapshot:  database.NewJSONB(req.Model),
		Scope:           database.NewJSONB(req.Scope),
		Progress:        database.NewJSONB(models.JobProgress{Stage: models.StageQueued}),
		LockKey:         lockKey,
		LockType:        lockType,
		ClientID:        req.ClientID,
	}
	if err := c.deps.Jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":   job.ID,
		"lock_key": job.LockKey,
	}).Info("Reconciliation job submitted")

	newProgressTracker(job, c.deps.Jobs, c.deps.Events, c.logger, c.now).emit(ctx, models.StageQueued, "", 0, "")
	return job, nil
}

// Get returns a job by ID
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error) {
	return c.deps.Jobs.GetByID(ctx, id)
}

// Cancel stops a job. A PENDING job is cancelled at once; a running job is flagged and
// stops at its next checkpoint.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error) {
	ctx, span := tracing.StartSpan(ctx, "Coordinator.Cancel")
	defer span.End()

	job, err := c.deps.Jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "job %s is already %s", id, job.Status)
	}

	if job.Status == models.JobStatusPending {
		cancelled, err := c.deps.Jobs.Transition(ctx, id, models.JobTransition{
			From: models.JobStatusPending,
			To:   models.JobStatusCancelled,
		})
		if err == nil {
			metrics.JobsTotal.WithLabelValues(string(models.JobStatusCancelled)).Inc()
			tracker := newProgressTracker(cancelled, c.deps.Jobs, c.deps.Events, c.logger, c.now)
			tracker.emit(ctx, models.StageCancelled, "", 0, "cancelled before start")
			return cancelled, nil
		}
		// lost the race with a worker that just started it; fall through to the flag
	}

	if err := c.deps.Jobs.RequestCancel(ctx, id); err != nil {
		return nil, err
	}
	return c.deps.Jobs.GetByID(ctx, id)
}

// Run executes a PENDING job to a terminal state and returns it. When the lock is held
// elsewhere it returns *errors.LockContentionError and the job stays PENDING. Failures
// inside the run are reported through the job's FAILED status and error message.
func (c *Coordinator) Run(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error) {
	ctx, span := tracing.StartSpan(ctx, "Coordinator.Run")
	defer span.End()
	ctx = appctx.SetJobID(ctx, id.String())

	job, err := c.deps.Jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusPending {
		return job, httperror.NewHTTPErrorf(http.StatusConflict, "job %s is %s, not %s", id, job.Status, models.JobStatusPending)
	}

	lock, err := c.deps.Locker.Acquire(ctx, locking.Request{
		LockKey:  job.LockKey,
		LockType: job.LockType,
		HolderID: c.config.HolderID,
		JobID:    &job.ID,
		TTL:      c.config.LockTTL,
	})
	if err != nil {
		if apperrors.IsLockContentionError(err) {
			metrics.LockContention.WithLabelValues(job.LockType).Inc()
			c.logger.WithContext(ctx).WithFields(map[string]any{
				"job_id":   id,
				"lock_key": job.LockKey,
			}).Info("Lock held elsewhere, job stays pending")
		}
		return job, err
	}

	started, err := c.deps.Jobs.Transition(ctx, id, models.JobTransition{
		From: models.JobStatusPending,
		To:   models.JobStatusPreparing,
	})
	if err != nil {
		c.release(ctx, lock)
		return job, err
	}

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()
	start := c.now()

	final := c.runLocked(ctx, started, lock)

	c.release(ctx, lock)
	metrics.JobsTotal.WithLabelValues(string(final.Status)).Inc()
	metrics.JobDuration.WithLabelValues(string(final.Status)).Observe(c.now().Sub(start).Seconds())

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":      id,
		"status":      final.Status,
		"duration_ms": c.now().Sub(start).Milliseconds(),
	}).Info("Reconciliation job finished")
	return final, nil
}

// runLocked runs a PREPARING job while the caller holds lock, and always ends in a terminal state.
func (c *Coordinator) runLocked(ctx context.Context, job *models.ReconciliationJob, lock *models.ReconciliationLock) *models.ReconciliationJob {
	tracker := newProgressTracker(job, c.deps.Jobs, c.deps.Events, c.logger, c.now)

	runCtx, cancel := context.WithCancelCause(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		c.heartbeat(runCtx, cancel, job.ID, lock)
	}()

	status := models.JobStatusPreparing
	result, runErr := c.execute(runCtx, job, tracker, &status)
	if runErr == nil {
		runErr = c.checkpoint(runCtx, job.ID)
	}
	if runErr == nil {
		// exclusivity must still hold when results are committed
		_, runErr = c.deps.Locker.Extend(runCtx, lock, c.config.LockTTL)
	}
	if runErr != nil && runCtx.Err() != nil {
		if cause := context.Cause(runCtx); cause != nil {
			runErr = cause
		}
	}

	cancel(nil)
	<-heartbeatDone

	// terminal writes must land even when the caller has gone away
	persistCtx := context.WithoutCancel(ctx)

	if runErr == nil {
		done, err := c.commit(persistCtx, job, status, result)
		if err == nil {
			recordOutcomes(result)
			tracker.setStatus(models.JobStatusCompleted)
			tracker.emit(persistCtx, models.StageCompleted, "", 100, "")
			return done
		}
		runErr = err
	}

	return c.finishUnsuccessfully(persistCtx, job.ID, status, runErr, tracker)
}

// commit hands the result to the sink, then writes the report and the COMPLETED status in one
// transaction. On any failure the report is rolled back and the sink's copy is discarded.
func (c *Coordinator) commit(ctx context.Context, job *models.ReconciliationJob, from models.JobStatus, result *models.MatchResult) (*models.ReconciliationJob, error) {
	ctx, span := tracing.StartSpan(ctx, "Coordinator.commit")
	defer span.End()

	summary := result.Summary()
	stored := false
	var done *models.ReconciliationJob
	err := c.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if c.deps.Results != nil {
			if err := c.deps.Results.StoreResult(ctx, job.ID, result); err != nil {
				return err
			}
			stored = true
		}
		if c.deps.Reports != nil {
			report := models.NewReport(job.ID, job.Scope.GetValue(), summary)
			if err := c.deps.Reports.Create(ctx, &report); err != nil {
				return err
			}
		}
		var err error
		done, err = c.deps.Jobs.Transition(ctx, job.ID, models.JobTransition{
			From:          from,
			To:            models.JobStatusCompleted,
			ResultSummary: &summary,
		})
		return err
	})
	if err == nil {
		return done, nil
	}

	if discarder, ok := c.deps.Results.(ResultDiscarder); ok && stored {
		if derr := discarder.DiscardResult(ctx, job.ID); derr != nil {
			c.logger.WithContext(ctx).WithError(derr).WithField("job_id", job.ID.String()).Warn("Failed to discard stored result")
		}
	}
	return nil, err
}

func (c *Coordinator) finishUnsuccessfully(ctx context.Context, id uuid.UUID, from models.JobStatus, runErr error, tracker *progressTracker) *models.ReconciliationJob {
	to, stage := models.JobStatusFailed, models.StageFailed
	if errors.Is(runErr, errCancelRequested) {
		to, stage = models.JobStatusCancelled, models.StageCancelled
	}
	message := runErr.Error()

	log := c.logger.WithContext(ctx).WithError(runErr).WithFields(map[string]any{
		"job_id": id,
		"from":   from,
		"to":     to,
	})
	if to == models.JobStatusFailed {
		log.Error("Reconciliation job failed")
	} else {
		log.Info("Reconciliation job cancelled")
	}

	finished, err := c.deps.Jobs.Transition(ctx, id, models.JobTransition{
		From:         from,
		To:           to,
		ErrorMessage: &message,
	})
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("job_id", id.String()).Error("Failed to record terminal status")
		current, getErr := c.deps.Jobs.GetByID(ctx, id)
		if getErr != nil {
			return &models.ReconciliationJob{ID: id, Status: to, ErrorMessage: &message}
		}
		return current
	}

	tracker.setStatus(to)
	tracker.emit(ctx, stage, "", 0, message)
	return finished
}

// execute loads, normalizes and matches. status tracks the job's current persisted state.
func (c *Coordinator) execute(ctx context.Context, job *models.ReconciliationJob, tracker *progressTracker, status *models.JobStatus) (*models.MatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Coordinator.execute")
	defer span.End()

	model := job.ConfigSnapshot.GetValue()
	if err := model.Validate(); err != nil {
		return nil, err
	}

	thresholdRows, err := c.deps.Thresholds.List(ctx)
	if err != nil {
		return nil, err
	}
	thresholds, err := tolerance.NewTable(thresholdRows, c.logger)
	if err != nil {
		return nil, err
	}

	tracker.emit(ctx, models.StageNormalizationStarted, "", 0, "")

	var bo, partner []models.SideRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bo, err = c.normalizeSide(gctx, job.ID, &model, models.SideBO, job.BOFilePath, tracker)
		return err
	})
	g.Go(func() error {
		var err error
		partner, err = c.normalizeSide(gctx, job.ID, &model, models.SidePartner, job.PartnerFilePath, tracker)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := c.checkpoint(ctx, job.ID); err != nil {
		return nil, err
	}
	if _, err := c.deps.Jobs.Transition(ctx, job.ID, models.JobTransition{
		From: models.JobStatusPreparing,
		To:   models.JobStatusProcessing,
	}); err != nil {
		return nil, err
	}
	*status = models.JobStatusProcessing
	tracker.setStatus(models.JobStatusProcessing)

	matcherConfig := c.config.Matcher
	matcherConfig.Progress = tracker.matching(ctx)
	matcherConfig.Checkpoint = c.checkpointFor(job.ID)
	result, err := matching.NewMatcher(matcherConfig, c.logger).Match(ctx, bo, partner, &model, thresholds, c.deps.Statuses)
	if err != nil {
		return nil, err
	}

	if c.onMatched != nil {
		c.onMatched(ctx)
	}
	return result, nil
}

func (c *Coordinator) normalizeSide(ctx context.Context, jobID uuid.UUID, model *models.ProcessingModel, side models.Side, path string, tracker *progressTracker) ([]models.SideRecord, error) {
	raws, err := c.deps.Loader.Load(ctx, side, path)
	if err != nil {
		return nil, err
	}

	nz := normalizer.ForSide(model, side,
		normalizer.WithChunkSize(c.config.ChunkSize),
		normalizer.WithCheckpoint(c.checkpointFor(jobID)),
	)
	records, err := nz.ApplyAll(ctx, side, raws, nil)
	if err != nil {
		return nil, err
	}

	metrics.RecordsNormalized.WithLabelValues(string(side)).Add(float64(len(records)))
	tracker.emit(ctx, models.StageNormalizationDone, side, 100, fmt.Sprintf("%d records", len(records)))
	return records, nil
}

// checkpoint returns the cancellation cause once the run context is done, or
// errCancelRequested when the job's cancel flag is set. A failed flag read does not stop the run.
func (c *Coordinator) checkpoint(ctx context.Context, jobID uuid.UUID) error {
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return ctx.Err()
	}

	requested, err := c.deps.Jobs.IsCancelRequested(ctx, jobID)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("job_id", jobID.String()).Warn("Failed to read cancel flag")
		return nil
	}
	if requested {
		return errCancelRequested
	}
	return nil
}

func (c *Coordinator) checkpointFor(jobID uuid.UUID) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return c.checkpoint(ctx, jobID)
	}
}

// heartbeat keeps the lease alive and watches the cancel flag. It cancels the run with the
// reason when either check fails.
func (c *Coordinator) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, jobID uuid.UUID, lock *models.ReconciliationLock) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		extended, err := c.deps.Locker.Extend(ctx, lock, c.config.LockTTL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithContext(ctx).WithError(err).WithField("job_id", jobID.String()).Error("Lost reconciliation lock")
			cancel(err)
			return
		}
		lock = extended

		requested, err := c.deps.Jobs.IsCancelRequested(ctx, jobID)
		if err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("job_id", jobID.String()).Warn("Failed to read cancel flag")
			continue
		}
		if requested {
			cancel(errCancelRequested)
			return
		}
	}
}

func (c *Coordinator) release(ctx context.Context, lock *models.ReconciliationLock) {
	if err := c.deps.Locker.Release(context.WithoutCancel(ctx), lock); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("lock_key", lock.LockKey).Warn("Failed to release lock, it will lapse at expiry")
	}
}

func recordOutcomes(result *models.MatchResult) {
	metrics.MatchOutcomes.WithLabelValues(string(models.OutcomeMatched)).Add(float64(len(result.Matched)))
	metrics.MatchOutcomes.WithLabelValues(string(models.OutcomeMismatched)).Add(float64(len(result.Mismatched)))
	metrics.MatchOutcomes.WithLabelValues(string(models.OutcomeBOOnly)).Add(float64(len(result.BOOnly)))
	metrics.MatchOutcomes.WithLabelValues(string(models.OutcomePartnerOnly)).Add(float64(len(result.PartnerOnly)))
	for _, u := range result.Unparseable {
		metrics.UnparseableRecords.WithLabelValues(string(u.Side)).Inc()
	}
}
