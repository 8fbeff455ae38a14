package jobs

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"

	"github.com/Ramsey-B/balsam/pkg/database"
	"github.com/Ramsey-B/balsam/pkg/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store for one-shot CLI runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.ReconciliationJob
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*models.ReconciliationJob),
		now:  time.Now,
	}
}

func clone(job *models.ReconciliationJob) *models.ReconciliationJob {
	cp := *job
	if job.ErrorMessage != nil {
		msg := *job.ErrorMessage
		cp.ErrorMessage = &msg
	}
	return &cp
}

func (s *MemoryStore) Create(_ context.Context, job *models.ReconciliationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	now := s.now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = clone(job)
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*models.ReconciliationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "job %s does not exist", id)
	}
	return clone(job), nil
}

func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]models.ReconciliationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ReconciliationJob
	for _, job := range s.jobs {
		if job.Status == models.JobStatusPending {
			out = append(out, *clone(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, id uuid.UUID, t models.JobTransition) (*models.ReconciliationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !models.CanTransition(t.From, t.To) {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "job cannot move from %s to %s", t.From, t.To)
	}
	job, ok := s.jobs[id]
	if !ok || job.Status != t.From {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "job %s is not %s", id, t.From)
	}

	now := s.now().UTC()
	job.Status = t.To
	job.UpdatedAt = now
	switch t.To {
	case models.JobStatusPreparing:
		job.StartedAt = &now
		job.Attempts++
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		job.CompletedAt = &now
	}
	if t.ErrorMessage != nil {
		msg := *t.ErrorMessage
		job.ErrorMessage = &msg
	}
	if t.ResultSummary != nil {
		summary := *t.ResultSummary
		job.ResultSummary = database.NewJSONB(&summary)
	}
	return clone(job), nil
}

func (s *MemoryStore) UpdateProgress(_ context.Context, id uuid.UUID, progress models.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "job %s does not exist", id)
	}
	if job.Progress.GetValue().Sequence < progress.Sequence {
		job.Progress = database.NewJSONB(progress)
		job.UpdatedAt = s.now().UTC()
	}
	return nil
}

func (s *MemoryStore) RequestCancel(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return httperror.NewHTTPErrorf(http.StatusConflict, "job %s is missing or already finished", id)
	}
	job.CancelRequested = true
	job.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) IsCancelRequested(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, httperror.NewHTTPErrorf(http.StatusNotFound, "job %s does not exist", id)
	}
	return job.CancelRequested, nil
}

// MemoryResults keeps match results in process.
type MemoryResults struct {
	mu      sync.Mutex
	results map[uuid.UUID]*models.MatchResult
}

func NewMemoryResults() *MemoryResults {
	return &MemoryResults{results: make(map[uuid.UUID]*models.MatchResult)}
}

func (r *MemoryResults) StoreResult(_ context.Context, jobID uuid.UUID, result *models.MatchResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[jobID] = result
	return nil
}

// Result returns the stored result of a job, if any.
func (r *MemoryResults) Result(jobID uuid.UUID) (*models.MatchResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[jobID]
	return result, ok
}

// DiscardResult drops the stored result of a job that did not complete.
func (r *MemoryResults) DiscardResult(_ context.Context, jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.results, jobID)
	return nil
}
