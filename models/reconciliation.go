package models

import (
	"time"
)

// ReconciliationStatus represents the outcome of a reconciliation run
type ReconciliationStatus string

const (
	ReconciliationStatusCleared  ReconciliationStatus = "cleared"
	ReconciliationStatusReview   ReconciliationStatus = "review"
	ReconciliationStatusVariance ReconciliationStatus = "variance"
)

// ReconciliationRun represents one comparison of the derived ledger balance
// against an externally reported settlement balance. Variance is signed:
// external minus system.
type ReconciliationRun struct {
	ID              int64                `db:"id"`
	AccountID       string               `db:"account_id"`
	SystemBalance   int64                `db:"system_balance"`
	ExternalBalance int64                `db:"external_balance"`
	Variance        int64                `db:"variance"`
	Status          ReconciliationStatus `db:"status"`
	AsOf            time.Time            `db:"as_of"`
	RunAt           time.Time            `db:"run_at"`
}

// DiscrepancyStatus represents the resolution state of a discrepancy
type DiscrepancyStatus string

const (
	DiscrepancyStatusOpen      DiscrepancyStatus = "open"
	DiscrepancyStatusPending   DiscrepancyStatus = "pending"
	DiscrepancyStatusEscalated DiscrepancyStatus = "escalated"
	DiscrepancyStatusResolved  DiscrepancyStatus = "resolved"
)

// Discrepancy represents an unexplained variance raised by a reconciliation
// run. It is closed only through an explicit resolution action; a later run
// showing zero variance never auto-closes it.
type Discrepancy struct {
	ID                  int64             `db:"id"`
	ReconciliationRunID int64             `db:"reconciliation_run_id"`
	AccountID           string            `db:"account_id"`
	Amount              int64             `db:"amount"`
	Description         string            `db:"description"`
	Status              DiscrepancyStatus `db:"status"`
	ResolutionNote      *string           `db:"resolution_note"`
	ResolvedAt          *time.Time        `db:"resolved_at"`
	CreatedAt           time.Time         `db:"created_at"`
}

// IsActionable reports whether resolution actions (mark pending, escalate,
// resolve) are still valid for the discrepancy.
func (d *Discrepancy) IsActionable() bool {
	return d.Status == DiscrepancyStatusOpen || d.Status == DiscrepancyStatusPending
}

// BlocksClose reports whether the discrepancy blocks closing its account.
func (d *Discrepancy) BlocksClose() bool {
	return d.Status == DiscrepancyStatusOpen || d.Status == DiscrepancyStatusPending
}
