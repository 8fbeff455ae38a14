package models

import (
	"time"

	"github.com/google/uuid"
)

// ReconciliationReport is the aggregated per-run row consumed by dashboards.
type ReconciliationReport struct {
	ID           uuid.UUID `db:"id" json:"id"`
	JobID        uuid.UUID `db:"job_id" json:"job_id"`
	ReportDate   string    `db:"report_date" json:"report_date"`
	OwnerCode    string    `db:"owner_code" json:"owner_code"`
	Service      string    `db:"service" json:"service"`
	Country      string    `db:"country" json:"country"`
	TotalBO      int       `db:"total_bo" json:"total_bo"`
	TotalPartner int       `db:"total_partner" json:"total_partner"`
	Matched      int       `db:"matched" json:"matched"`
	Mismatched   int       `db:"mismatched" json:"mismatched"`
	BOOnly       int       `db:"bo_only" json:"bo_only"`
	PartnerOnly  int       `db:"partner_only" json:"partner_only"`
	Resolved     int       `db:"resolved" json:"resolved"`
	Unparseable  int       `db:"unparseable" json:"unparseable"`
	MatchRate    float64   `db:"match_rate" json:"match_rate"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (ReconciliationReport) TableName() string {
	return "reconciliation_reports"
}

// NewReport builds the aggregated row for a finished job.
func NewReport(jobID uuid.UUID, scope JobScope, summary ResultSummary) ReconciliationReport {
	return ReconciliationReport{
		ID:           uuid.New(),
		JobID:        jobID,
		ReportDate:   scope.ReportDate,
		OwnerCode:    scope.OwnerCode,
		Service:      scope.Service,
		Country:      scope.Country,
		TotalBO:      summary.TotalBO,
		TotalPartner: summary.TotalPartner,
		Matched:      summary.Matched,
		Mismatched:   summary.ActiveMismatched,
		BOOnly:       summary.ActiveBOOnly,
		PartnerOnly:  summary.ActivePartnerOnly,
		Resolved:     summary.Resolved,
		Unparseable:  summary.Unparseable,
		MatchRate:    summary.MatchRate,
	}
}
