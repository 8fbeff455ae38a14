package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/balsam/pkg/database"
	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
)

// JobStatus is a state of the reconciliation run state machine.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusPreparing  JobStatus = "PREPARING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case JobStatusPending, JobStatusPreparing, JobStatusProcessing,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return status, nil
	default:
		return "", apperrors.NewConfigurationError("status", "unknown job status %q", s)
	}
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusPreparing, JobStatusFailed, JobStatusCancelled},
	JobStatusPreparing:  {JobStatusProcessing, JobStatusFailed, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the state machine.
// Terminal states have no outgoing edges.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobScope is the slice of data a run covers. It picks the default lock key
// and labels the aggregated report.
type JobScope struct {
	OwnerCode     string `json:"owner_code,omitempty" yaml:"owner_code,omitempty"`
	OperationType string `json:"operation_type,omitempty" yaml:"operation_type,omitempty"`
	Service       string `json:"service,omitempty" yaml:"service,omitempty"`
	Country       string `json:"country,omitempty" yaml:"country,omitempty"`
	ReportDate    string `json:"report_date,omitempty" yaml:"report_date,omitempty"`
}

// LockKey derives the exclusivity key for the scope. Empty scopes share one key.
func (s JobScope) LockKey() string {
	parts := []string{s.Service, s.Country, s.OwnerCode, s.ReportDate}
	nonEmpty := false
	for _, p := range parts {
		if p != "" {
			nonEmpty = true
			break
		}
	}
	if !nonEmpty {
		return "global"
	}
	return strings.Join(parts, ":")
}

// Progress stages.
const (
	StageQueued               = "QUEUED"
	StageNormalizationStarted = "NORMALIZATION_STARTED"
	StageNormalizationDone    = "NORMALIZATION_DONE"
	StageMatching             = "MATCHING"
	StageCompleted            = "COMPLETED"
	StageFailed               = "FAILED"
	StageCancelled            = "CANCELLED"
)

// JobProgress is the latest progress snapshot stored on the job row.
type JobProgress struct {
	Stage     string    `json:"stage"`
	Side      Side      `json:"side,omitempty"`
	Percent   int       `json:"percent"`
	Sequence  int64     `json:"sequence"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressEvent is emitted at coarse checkpoints. Delivery is at-least-once;
// consumers deduplicate on (JobID, Sequence).
type ProgressEvent struct {
	JobID     uuid.UUID `json:"job_id"`
	Sequence  int64     `json:"sequence"`
	Status    JobStatus `json:"status"`
	Stage     string    `json:"stage"`
	Side      Side      `json:"side,omitempty"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress converts the event to the snapshot kept on the job.
func (e ProgressEvent) Progress() JobProgress {
	return JobProgress{
		Stage:     e.Stage,
		Side:      e.Side,
		Percent:   e.Percent,
		Sequence:  e.Sequence,
		Message:   e.Message,
		UpdatedAt: e.Timestamp,
	}
}

// ReconciliationJob owns exactly one run.
type ReconciliationJob struct {
	ID              uuid.UUID                       `db:"id" json:"id"`
	Status          JobStatus                       `db:"status" json:"status"`
	BOFilePath      string                          `db:"bo_file_path" json:"bo_file_path"`
	PartnerFilePath string                          `db:"partner_file_path" json:"partner_file_path"`
	ModelID         *uuid.UUID                      `db:"model_id" json:"model_id,omitempty"`
	ConfigSnapshot  database.JSONB[ProcessingModel] `db:"config_snapshot" json:"config_snapshot"`
	Scope           database.JSONB[JobScope]        `db:"scope" json:"scope"`
	Progress        database.JSONB[JobProgress]     `db:"progress" json:"progress"`
	ResultSummary   database.JSONB[*ResultSummary]  `db:"result_summary" json:"result_summary,omitempty"`
	ErrorMessage    *string                         `db:"error_message" json:"error_message,omitempty"`
	CancelRequested bool                            `db:"cancel_requested" json:"cancel_requested"`
	LockKey         string                          `db:"lock_key" json:"lock_key"`
	LockType        string                          `db:"lock_type" json:"lock_type"`
	ClientID        string                          `db:"client_id" json:"client_id"`
	Attempts        int                             `db:"attempts" json:"attempts"`
	CreatedAt       time.Time                       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time                       `db:"updated_at" json:"updated_at"`
	StartedAt       *time.Time                      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time                      `db:"completed_at" json:"completed_at,omitempty"`
}

// TableName returns the database table name
func (ReconciliationJob) TableName() string {
	return "reconciliation_jobs"
}

// JobTransition is a compare-and-set status change. It only applies when the job is
// still in From.
type JobTransition struct {
	From          JobStatus
	To            JobStatus
	ErrorMessage  *string
	ResultSummary *ResultSummary
}
