package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/balsam/pkg/jobs"
	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

// JobService is the job lifecycle the handler drives
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*models.ReconciliationJob, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error)
	Run(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.ReconciliationJob, error)
}

// ModelResolver loads stored processing models
type ModelResolver interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ProcessingModel, error)
}

// ReportReader loads the aggregated report of a finished job
type ReportReader interface {
	GetByJobID(ctx context.Context, jobID uuid.UUID) (*models.ReconciliationReport, error)
}

var errShuttingDown = errors.New("server shutting down")

// JobHandler handles reconciliation job endpoints
type JobHandler struct {
	service JobService
	models  ModelResolver
	reports ReportReader
	logger  ectologger.Logger

	// background runs started by Run without wait=true
	mu       sync.Mutex
	draining bool
	runs     sync.WaitGroup
	abort    context.Context
	abortAll context.CancelCauseFunc
}

// NewJobHandler creates a new job handler
func NewJobHandler(service JobService, resolver ModelResolver, reports ReportReader, logger ectologger.Logger) *JobHandler {
	abort, abortAll := context.WithCancelCause(context.Background())
	return &JobHandler{
		service:  service,
		models:   resolver,
		reports:  reports,
		logger:   logger,
		abort:    abort,
		abortAll: abortAll,
	}
}

// startRun runs the job in the background. It returns false once Drain has begun.
func (h *JobHandler) startRun(ctx context.Context, id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	stop := context.AfterFunc(h.abort, func() { cancel(context.Cause(h.abort)) })
	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		defer cancel(nil)
		defer stop()
		if _, err := h.service.Run(runCtx, id); err != nil {
			h.logger.WithContext(runCtx).WithError(err).WithField("job_id", id.String()).Warn("Background run did not start")
		}
	}()
	return true
}

// Drain refuses new background runs and waits for those in flight. When ctx ends first the
// remaining runs are cancelled, so they fail and release their locks, and ctx's error is returned.
func (h *JobHandler) Drain(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.abortAll(errShuttingDown)
		h.logger.WithContext(ctx).Warn("Background runs still in flight at shutdown, cancelling them")
		return ctx.Err()
	}
}

// SubmitJobRequest represents the submit job request body. Either Model or ModelID is required.
type SubmitJobRequest struct {
	BOFilePath      string                  `json:"bo_file_path" validate:"required"`
	PartnerFilePath string                  `json:"partner_file_path" validate:"required"`
	Model           *models.ProcessingModel `json:"model,omitempty" validate:"-"`
	ModelID         *uuid.UUID              `json:"model_id,omitempty"`
	Scope           models.JobScope         `json:"scope"`
	LockKey         string                  `json:"lock_key,omitempty"`
	ClientID        string                  `json:"client_id,omitempty"`
}

// Register registers job routes
func (h *JobHandler) Register(g *echo.Group) {
	g.POST("", h.Submit)
	g.GET("/:id", h.Get)
	g.POST("/:id/run", h.Run)
	g.POST("/:id/cancel", h.Cancel)
	g.GET("/:id/report", h.GetReport)
}

// Submit queues a new job
func (h *JobHandler) Submit(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "JobHandler.Submit")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	var req SubmitJobRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	var model models.ProcessingModel
	switch {
	case req.Model != nil:
		model = *req.Model
	case req.ModelID != nil:
		stored, err := h.models.GetByID(ctx, *req.ModelID)
		if err != nil {
			return err
		}
		model = *stored
	default:
		return BadRequest("model or model_id is required")
	}

	job, err := h.service.Submit(ctx, jobs.SubmitRequest{
		BOFilePath:      req.BOFilePath,
		PartnerFilePath: req.PartnerFilePath,
		Model:           model,
		ModelID:         req.ModelID,
		Scope:           req.Scope,
		LockKey:         req.LockKey,
		ClientID:        req.ClientID,
	})
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to submit job")
		return err
	}
	return CreatedResponse(c, job)
}

// Get returns a job with its latest progress
func (h *JobHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "JobHandler.Get")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	job, err := h.service.Get(ctx, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, job)
}

// Run starts a PENDING job. With wait=true the request blocks until the job finishes;
// otherwise the job runs in the background and 202 is returned.
func (h *JobHandler) Run(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "JobHandler.Run")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	wait, _ := strconv.ParseBool(c.QueryParam("wait"))
	if wait {
		job, err := h.service.Run(ctx, id)
		if err != nil {
			return err
		}
		return SuccessResponse(c, job)
	}

	job, err := h.service.Get(ctx, id)
	if err != nil {
		return err
	}
	if !h.startRun(ctx, id) {
		return httperror.NewHTTPError(http.StatusServiceUnavailable, errShuttingDown.Error())
	}
	return AcceptedResponse(c, job)
}

// Cancel cancels a pending job or flags a running one
func (h *JobHandler) Cancel(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "JobHandler.Cancel")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	job, err := h.service.Cancel(ctx, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, job)
}

// GetReport returns the aggregated report of a completed job
func (h *JobHandler) GetReport(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "JobHandler.GetReport")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	report, err := h.reports.GetByJobID(ctx, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, report)
}
