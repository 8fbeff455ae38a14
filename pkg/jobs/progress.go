package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/balsam/pkg/metrics"
	"github.com/Ramsey-B/balsam/pkg/models"
)

// progressTracker numbers the checkpoints of one job. Sequences continue from the last
// stored snapshot, so a retried job never goes backwards.
type progressTracker struct {
	mu       sync.Mutex
	jobID    uuid.UUID
	sequence int64
	status   models.JobStatus
	lastPct  int
	store    Store
	emitter  ProgressEmitter
	logger   ectologger.Logger
	now      func() time.Time
}

func newProgressTracker(job *models.ReconciliationJob, store Store, emitter ProgressEmitter, logger ectologger.Logger, now func() time.Time) *progressTracker {
	return &progressTracker{
		jobID:    job.ID,
		sequence: job.Progress.GetValue().Sequence,
		status:   job.Status,
		lastPct:  -1,
		store:    store,
		emitter:  emitter,
		logger:   logger,
		now:      now,
	}
}

func (p *progressTracker) setStatus(status models.JobStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

// emit records a checkpoint on the job row and publishes it. Delivery failures are
// logged: the job row still carries the latest snapshot.
func (p *progressTracker) emit(ctx context.Context, stage string, side models.Side, percent int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sequence++
	event := models.ProgressEvent{
		JobID:     p.jobID,
		Sequence:  p.sequence,
		Status:    p.status,
		Stage:     stage,
		Side:      side,
		Percent:   percent,
		Message:   message,
		Timestamp: p.now().UTC(),
	}

	// terminal checkpoints must land even when the run context is already cancelled
	ctx = context.WithoutCancel(ctx)

	if err := p.store.UpdateProgress(ctx, p.jobID, event.Progress()); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id":   p.jobID,
			"sequence": event.Sequence,
		}).Warn("Failed to store progress")
	}

	if p.emitter == nil {
		return
	}
	result := "success"
	if err := p.emitter.EmitProgress(ctx, event); err != nil {
		result = "error"
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id":   p.jobID,
			"sequence": event.Sequence,
		}).Warn("Failed to emit progress")
	}
	metrics.EventsPublished.WithLabelValues(stage, result).Inc()
}

// matching reports matcher percentages, skipping repeats.
func (p *progressTracker) matching(ctx context.Context) func(percent int) {
	return func(percent int) {
		p.mu.Lock()
		repeat := percent == p.lastPct
		p.lastPct = percent
		p.mu.Unlock()
		if repeat {
			return
		}
		p.emit(ctx, models.StageMatching, "", percent, "")
	}
}
